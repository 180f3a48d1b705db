package dpa

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/interference"
)

// ErrUnknownDpa is returned when a DPA name is not in the registry.
var ErrUnknownDpa = errors.New("unknown DPA")

//go:embed data/coastal_dpas.kml
var coastalKML []byte

// Defaults applied to DPA properties missing from the geometry file.
const (
	DefaultThresholdDBm = -144.0
	DefaultRadarHeightM = 50.0
	DefaultBeamwidthDeg = 3.0
	DefaultNumIter      = 2000
)

// DefaultNeighbors are the neighborhood radii of a DPA without explicit
// distances.
var DefaultNeighbors = interference.NeighborDistances{
	CatAInBandKm: 150,
	CatBInBandKm: 200,
	CatAOobKm:    0,
	CatBOobKm:    25,
}

// DefaultFreqRangesMHz is the protected range of a DPA without an explicit
// frequency range.
var DefaultFreqRangesMHz = [][2]float64{{3550, 3650}}

// Definition is the static description of a DPA as read from a geometry
// file.
type Definition struct {
	Name          string
	Geometry      orb.MultiPolygon
	FreqRangesMHz [][2]float64
	Neighbors     interference.NeighborDistances
	RadarHeightM  float64
	BeamwidthDeg  float64
	// AzimuthRangeDeg is nil for an omni radar.
	AzimuthRangeDeg *[2]float64
	ThresholdDBm    float64
	Portal          bool
}

// Registry maps canonical DPA names to their definitions, together with the
// border lines used to split protection points into front and back.
type Registry struct {
	defs   map[string]Definition
	border orb.MultiLineString
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// CoastalRegistry returns a registry loaded with the bundled coastal DPAs.
func CoastalRegistry() (*Registry, error) {
	r := NewRegistry()
	if err := r.LoadKML(bytes.NewReader(coastalKML)); err != nil {
		return nil, fmt.Errorf("bundled coastal DPAs: %w", err)
	}
	return r, nil
}

func canonical(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Add registers def, replacing any DPA of the same canonical name.
func (r *Registry) Add(def Definition) {
	r.defs[canonical(def.Name)] = def
}

// AddBorder appends a border line.
func (r *Registry) AddBorder(ls orb.LineString) {
	if len(ls) > 1 {
		r.border = append(r.border, ls)
	}
}

// Border returns the border lines known to the registry.
func (r *Registry) Border() orb.MultiLineString { return r.border }

// Lookup returns the DPA registered under name, case-insensitively.
func (r *Registry) Lookup(name string) (Definition, error) {
	def, ok := r.defs[canonical(name)]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownDpa, name)
	}
	return def, nil
}

// Names returns the registered DPA names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d.Name)
	}
	sort.Strings(out)
	return out
}

// LoadFile loads a KML or GeoJSON DPA file, chosen by extension. DPAs read
// this way are marked as portal DPAs.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read DPA file: %w", err)
	}
	before := make(map[string]bool, len(r.defs))
	for k := range r.defs {
		before[k] = true
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".kml":
		err = r.LoadKML(bytes.NewReader(data))
	case ".geojson", ".json":
		err = r.LoadGeoJSON(data)
	default:
		return fmt.Errorf("DPA file %q: unsupported format", path)
	}
	if err != nil {
		return fmt.Errorf("DPA file %q: %w", path, err)
	}
	for k, d := range r.defs {
		if !before[k] {
			d.Portal = true
			r.defs[k] = d
		}
	}
	return nil
}

// LoadGeoJSON reads a feature collection with one Polygon or MultiPolygon
// feature per DPA. The "name" property is required; other properties use
// the KML ExtendedData keys.
func (r *Registry) LoadGeoJSON(data []byte) error {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return fmt.Errorf("parse GeoJSON: %w", err)
	}
	for i, f := range fc.Features {
		props := make(map[string]string, len(f.Properties))
		for k, v := range f.Properties {
			props[k] = fmt.Sprint(v)
		}
		switch g := f.Geometry.(type) {
		case orb.LineString:
			r.AddBorder(g)
			continue
		case orb.MultiLineString:
			for _, ls := range g {
				r.AddBorder(ls)
			}
			continue
		}
		name := f.Properties.MustString("name", "")
		if name == "" {
			return fmt.Errorf("feature %d: missing name", i)
		}
		var mp orb.MultiPolygon
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			mp = orb.MultiPolygon{g}
		case orb.MultiPolygon:
			mp = g
		default:
			return fmt.Errorf("DPA %q: unsupported geometry %T", name, f.Geometry)
		}
		def, err := newDefinition(name, mp, props)
		if err != nil {
			return err
		}
		r.Add(def)
	}
	return nil
}

// newDefinition builds a definition from its geometry and string
// properties, applying defaults for missing keys.
func newDefinition(name string, mp orb.MultiPolygon, props map[string]string) (Definition, error) {
	if len(mp) == 0 {
		return Definition{}, fmt.Errorf("DPA %q: empty geometry", name)
	}
	def := Definition{
		Name:          name,
		Geometry:      mp,
		FreqRangesMHz: DefaultFreqRangesMHz,
		Neighbors:     DefaultNeighbors,
		RadarHeightM:  DefaultRadarHeightM,
		BeamwidthDeg:  DefaultBeamwidthDeg,
		ThresholdDBm:  DefaultThresholdDBm,
	}
	p := propReader{name: name, props: props}
	if raw, ok := props["freqRangeMHz"]; ok {
		ranges, err := parseFreqRanges(raw)
		if err != nil {
			return Definition{}, fmt.Errorf("DPA %q: %w", name, err)
		}
		def.FreqRangesMHz = ranges
	}
	p.float("catANeighborhoodDistanceKm", &def.Neighbors.CatAInBandKm)
	p.float("catBNeighborhoodDistanceKm", &def.Neighbors.CatBInBandKm)
	p.float("catAOOBNeighborhoodDistanceKm", &def.Neighbors.CatAOobKm)
	p.float("catBOOBNeighborhoodDistanceKm", &def.Neighbors.CatBOobKm)
	p.float("radarHeightMeters", &def.RadarHeightM)
	p.float("beamwidthDeg", &def.BeamwidthDeg)
	p.float("protectionCritDbmPer10MHz", &def.ThresholdDBm)
	_, hasMin := props["minAzimuthDeg"]
	_, hasMax := props["maxAzimuthDeg"]
	if hasMin && hasMax {
		var az [2]float64
		p.float("minAzimuthDeg", &az[0])
		p.float("maxAzimuthDeg", &az[1])
		if !(az[0] == 0 && az[1] == 360) {
			def.AzimuthRangeDeg = &az
		}
	}
	if p.err != nil {
		return Definition{}, p.err
	}
	return def, nil
}

type propReader struct {
	name  string
	props map[string]string
	err   error
}

func (p *propReader) float(key string, dst *float64) {
	raw, ok := p.props[key]
	if !ok || p.err != nil {
		return
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		p.err = fmt.Errorf("DPA %q: property %s: %w", p.name, key, err)
		return
	}
	*dst = v
}

// parseFreqRanges reads "3550-3650" or a comma separated list of such
// ranges, in MHz.
func parseFreqRanges(raw string) ([][2]float64, error) {
	var out [][2]float64
	for _, part := range strings.Split(raw, ",") {
		lo, hi, ok := strings.Cut(strings.TrimSpace(part), "-")
		if !ok {
			return nil, fmt.Errorf("frequency range %q: want low-high", part)
		}
		l, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
		if err != nil {
			return nil, fmt.Errorf("frequency range %q: %w", part, err)
		}
		h, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
		if err != nil {
			return nil, fmt.Errorf("frequency range %q: %w", part, err)
		}
		out = append(out, [2]float64{l, h})
	}
	return out, nil
}
