package dpa

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

type kmlPlacemark struct {
	Name       string          `xml:"name"`
	Data       []kmlData       `xml:"ExtendedData>Data"`
	SimpleData []kmlSimpleData `xml:"ExtendedData>SchemaData>SimpleData"`
	Polygons   []kmlPolygon    `xml:"Polygon"`
	Multi      []kmlPolygon    `xml:"MultiGeometry>Polygon"`
	Lines      []string        `xml:"LineString>coordinates"`
	MultiLines []string        `xml:"MultiGeometry>LineString>coordinates"`
}

type kmlData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

type kmlSimpleData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type kmlPolygon struct {
	Outer string   `xml:"outerBoundaryIs>LinearRing>coordinates"`
	Inner []string `xml:"innerBoundaryIs>LinearRing>coordinates"`
}

// LoadKML reads every Placemark of a KML document, at any folder depth.
// Polygon placemarks become DPAs; LineString placemarks become border lines.
func (r *Registry) LoadKML(rd io.Reader) error {
	dec := xml.NewDecoder(rd)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("parse KML: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Placemark" {
			continue
		}
		var pm kmlPlacemark
		if err := dec.DecodeElement(&pm, &start); err != nil {
			return fmt.Errorf("parse KML placemark: %w", err)
		}
		if err := r.addPlacemark(pm); err != nil {
			return err
		}
	}
}

func (r *Registry) addPlacemark(pm kmlPlacemark) error {
	name := strings.TrimSpace(pm.Name)
	for _, raw := range append(pm.Lines, pm.MultiLines...) {
		pts, err := parseCoordinates(raw)
		if err != nil {
			return fmt.Errorf("placemark %q: %w", name, err)
		}
		r.AddBorder(orb.LineString(pts))
	}
	polys := append(pm.Polygons, pm.Multi...)
	if len(polys) == 0 {
		return nil
	}
	if name == "" {
		return fmt.Errorf("KML polygon placemark without name")
	}
	var mp orb.MultiPolygon
	for _, p := range polys {
		outer, err := parseCoordinates(p.Outer)
		if err != nil {
			return fmt.Errorf("DPA %q: %w", name, err)
		}
		poly := orb.Polygon{closeRing(outer)}
		for _, in := range p.Inner {
			hole, err := parseCoordinates(in)
			if err != nil {
				return fmt.Errorf("DPA %q: %w", name, err)
			}
			poly = append(poly, closeRing(hole))
		}
		mp = append(mp, poly)
	}
	props := make(map[string]string, len(pm.Data)+len(pm.SimpleData))
	for _, d := range pm.Data {
		props[d.Name] = strings.TrimSpace(d.Value)
	}
	for _, d := range pm.SimpleData {
		props[d.Name] = strings.TrimSpace(d.Value)
	}
	def, err := newDefinition(name, mp, props)
	if err != nil {
		return err
	}
	r.Add(def)
	return nil
}

// parseCoordinates reads a KML "lon,lat[,alt] ..." list.
func parseCoordinates(raw string) ([]orb.Point, error) {
	fields := strings.Fields(raw)
	out := make([]orb.Point, 0, len(fields))
	for _, f := range fields {
		parts := strings.Split(f, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("coordinate %q: want lon,lat[,alt]", f)
		}
		lon, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("coordinate %q: %w", f, err)
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("coordinate %q: %w", f, err)
		}
		out = append(out, orb.Point{lon, lat})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty coordinates")
	}
	return out, nil
}

func closeRing(pts []orb.Point) orb.Ring {
	ring := orb.Ring(pts)
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring
}
