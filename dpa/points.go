package dpa

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geo"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
)

// DefaultPointsMethod is used when BuildDpa gets an empty method.
const DefaultPointsMethod = "default(25,10,10,5,40)"

// DefaultPoints is the polygon sampling policy: contour and interior
// points, each split between the part of the DPA within BorderBufferKm of
// the border (front) and the rest (back).
type DefaultPoints struct {
	NFront         int
	NBack          int
	NInsideFront   int
	NInsideBack    int
	BorderBufferKm float64
}

// oversample is the number of candidates per requested point.
const oversample = 8

// ParsePointsMethod reads "default(nfront,nback,ninside_front,ninside_back,
// border_buffer_km)" or "csv(path)". A csv file holds latitude,longitude
// columns with a header row.
func ParsePointsMethod(method string) (policy *DefaultPoints, csvPath string, err error) {
	method = strings.TrimSpace(method)
	if method == "" {
		method = DefaultPointsMethod
	}
	open := strings.IndexByte(method, '(')
	if open < 0 || !strings.HasSuffix(method, ")") {
		return nil, "", fmt.Errorf("protection points method %q: want name(args)", method)
	}
	kind, args := method[:open], method[open+1:len(method)-1]
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "default":
		parts := strings.Split(args, ",")
		if len(parts) != 5 {
			return nil, "", fmt.Errorf("protection points method %q: want 5 arguments", method)
		}
		var n [4]int
		for i := range n {
			v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
			if err != nil || v < 0 {
				return nil, "", fmt.Errorf("protection points method %q: argument %d: want a non-negative integer", method, i+1)
			}
			n[i] = v
		}
		buf, err := strconv.ParseFloat(strings.TrimSpace(parts[4]), 64)
		if err != nil || buf < 0 {
			return nil, "", fmt.Errorf("protection points method %q: border buffer: want a non-negative number", method)
		}
		return &DefaultPoints{NFront: n[0], NBack: n[1], NInsideFront: n[2], NInsideBack: n[3], BorderBufferKm: buf}, "", nil
	case "csv":
		path := strings.TrimSpace(args)
		if path == "" {
			return nil, "", fmt.Errorf("protection points method %q: missing path", method)
		}
		return nil, path, nil
	default:
		return nil, "", fmt.Errorf("protection points method %q: unknown kind %q", method, kind)
	}
}

// Generate samples the protection points of mp. With no border lines every
// point counts as front.
func (p DefaultPoints) Generate(mp orb.MultiPolygon, border orb.MultiLineString) []model.ProtectionPoint {
	samples := densify(border)
	front := func(pt [2]float64) bool {
		return len(samples) == 0 || distanceToBorderKm(pt, samples) <= p.BorderBufferKm
	}

	var contour [][2]float64
	want := oversample * max(1, p.NFront+p.NBack)
	total := 0.0
	for _, poly := range mp {
		total += geo.RingLengthKm(poly[0])
	}
	for _, poly := range mp {
		n := want
		if total > 0 {
			n = max(1, int(math.Round(float64(want)*geo.RingLengthKm(poly[0])/total)))
		}
		contour = append(contour, geo.SampleRing(poly[0], n)...)
	}
	cFront, cBack := split(contour, front)

	inside := geo.GridInside(mp, oversample*max(1, p.NInsideFront+p.NInsideBack))
	iFront, iBack := split(inside, front)

	var pts [][2]float64
	pts = append(pts, geo.Thin(cFront, p.NFront)...)
	pts = append(pts, geo.Thin(cBack, p.NBack)...)
	pts = append(pts, geo.Thin(iFront, p.NInsideFront)...)
	pts = append(pts, geo.Thin(iBack, p.NInsideBack)...)
	if len(pts) == 0 && len(contour) > 0 {
		pts = contour[:1]
	}

	out := make([]model.ProtectionPoint, len(pts))
	for i, pt := range pts {
		out[i] = model.ProtectionPoint{Latitude: pt[0], Longitude: pt[1]}
	}
	return out
}

func split(pts [][2]float64, front func([2]float64) bool) (f, b [][2]float64) {
	for _, pt := range pts {
		if front(pt) {
			f = append(f, pt)
		} else {
			b = append(b, pt)
		}
	}
	return f, b
}

// borderStepKm is the densification step of border segments.
const borderStepKm = 1.0

// densify samples the border lines every borderStepKm or less.
func densify(border orb.MultiLineString) []orb.Point {
	var out []orb.Point
	for _, ls := range border {
		for i := 0; i+1 < len(ls); i++ {
			a, b := ls[i], ls[i+1]
			segKm := orbgeo.DistanceHaversine(a, b) / 1000
			n := max(2, int(math.Ceil(segKm/borderStepKm))+1)
			lats, lons := geo.GeodesicSampling(a[1], a[0], b[1], b[0], n)
			for k := range lats {
				out = append(out, orb.Point{lons[k], lats[k]})
			}
		}
	}
	return out
}

// distanceToBorderKm returns the great-circle distance from a (lat, lon)
// point to the nearest border sample.
func distanceToBorderKm(pt [2]float64, samples []orb.Point) float64 {
	p := orb.Point{pt[1], pt[0]}
	best := math.Inf(1)
	for _, s := range samples {
		best = math.Min(best, orbgeo.DistanceHaversine(p, s)/1000)
	}
	return best
}

type csvPoint struct {
	Latitude  float64 `csv:"latitude"`
	Longitude float64 `csv:"longitude"`
}

// readPointsCSV loads externally supplied protection points.
func readPointsCSV(path string) ([]model.ProtectionPoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read protection points: %w", err)
	}
	var rows []csvPoint
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse protection points %q: %w", path, err)
	}
	out := make([]model.ProtectionPoint, len(rows))
	for i, r := range rows {
		out[i] = model.ProtectionPoint{Latitude: r.Latitude, Longitude: r.Longitude}
	}
	return out, nil
}
