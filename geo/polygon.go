package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Contains reports whether the (lat, lon) point lies in or on the
// multi-polygon. orb points are (lon, lat).
func Contains(mp orb.MultiPolygon, lat, lon float64) bool {
	pt := orb.Point{lon, lat}
	if planar.MultiPolygonContains(mp, pt) {
		return true
	}
	for _, poly := range mp {
		for _, ring := range poly {
			if onRing(ring, pt) {
				return true
			}
		}
	}
	return false
}

// onRing reports whether pt lies on any edge of the ring.
func onRing(ring orb.Ring, pt orb.Point) bool {
	const eps = 1e-9
	for i := 0; i+1 < len(ring); i++ {
		a, b := ring[i], ring[i+1]
		cross := (b[0]-a[0])*(pt[1]-a[1]) - (b[1]-a[1])*(pt[0]-a[0])
		if math.Abs(cross) > eps {
			continue
		}
		if pt[0] >= math.Min(a[0], b[0])-eps && pt[0] <= math.Max(a[0], b[0])+eps &&
			pt[1] >= math.Min(a[1], b[1])-eps && pt[1] <= math.Max(a[1], b[1])+eps {
			return true
		}
	}
	return false
}

// Centroid returns the planar area centroid of the multi-polygon as
// (lat, lon).
func Centroid(mp orb.MultiPolygon) (lat, lon float64) {
	c, _ := planar.CentroidArea(mp)
	return c[1], c[0]
}

// RingLengthKm returns the geodesic perimeter of a ring.
func RingLengthKm(ring orb.Ring) float64 {
	total := 0.0
	for i := 0; i+1 < len(ring); i++ {
		d, _, _ := GeodesicDistanceBearing(ring[i][1], ring[i][0], ring[i+1][1], ring[i+1][0])
		total += d
	}
	return total
}

// SampleRing returns n points spaced evenly by edge length along the ring,
// starting at its first vertex. Points are (lat, lon) pairs.
func SampleRing(ring orb.Ring, n int) [][2]float64 {
	if n <= 0 || len(ring) == 0 {
		return nil
	}
	if len(ring) == 1 {
		return [][2]float64{{ring[0][1], ring[0][0]}}
	}
	segLens := make([]float64, len(ring)-1)
	total := 0.0
	for i := range segLens {
		segLens[i], _, _ = GeodesicDistanceBearing(ring[i][1], ring[i][0], ring[i+1][1], ring[i+1][0])
		total += segLens[i]
	}
	out := make([][2]float64, 0, n)
	step := total / float64(n)
	seg, segStart := 0, 0.0
	for k := 0; k < n; k++ {
		target := step * float64(k)
		for seg < len(segLens)-1 && segStart+segLens[seg] < target {
			segStart += segLens[seg]
			seg++
		}
		a, b := ring[seg], ring[seg+1]
		if segLens[seg] == 0 {
			out = append(out, [2]float64{a[1], a[0]})
			continue
		}
		// Edges are planar in lon/lat, so interpolate along the straight edge.
		frac := math.Min(1, (target-segStart)/segLens[seg])
		out = append(out, [2]float64{a[1] + frac*(b[1]-a[1]), a[0] + frac*(b[0]-a[0])})
	}
	return out
}

// GridInside returns up to n interior points of the multi-polygon laid out
// on a regular lat/lon grid over its bounding box.
func GridInside(mp orb.MultiPolygon, n int) [][2]float64 {
	if n <= 0 || len(mp) == 0 {
		return nil
	}
	bound := mp.Bound()
	// Start with a grid of about n cells and refine until enough points land
	// inside the polygon or the grid gets dense.
	for side := int(math.Ceil(math.Sqrt(float64(n)))); side <= 64*int(math.Ceil(math.Sqrt(float64(n)))); side *= 2 {
		var pts [][2]float64
		dx := (bound.Max[0] - bound.Min[0]) / float64(side)
		dy := (bound.Max[1] - bound.Min[1]) / float64(side)
		for i := 0; i < side; i++ {
			for j := 0; j < side; j++ {
				lon := bound.Min[0] + (float64(i)+0.5)*dx
				lat := bound.Min[1] + (float64(j)+0.5)*dy
				if planar.MultiPolygonContains(mp, orb.Point{lon, lat}) {
					pts = append(pts, [2]float64{lat, lon})
				}
			}
		}
		if len(pts) >= n {
			return Thin(pts, n)
		}
	}
	lat, lon := Centroid(mp)
	if Contains(mp, lat, lon) {
		return [][2]float64{{lat, lon}}
	}
	return nil
}

// Thin keeps n points spread evenly through pts.
func Thin(pts [][2]float64, n int) [][2]float64 {
	if len(pts) <= n {
		return pts
	}
	out := make([][2]float64, n)
	for i := range out {
		out[i] = pts[i*len(pts)/n]
	}
	return out
}
