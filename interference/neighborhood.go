package interference

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geo"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
)

// DpaType selects which neighbors of a DPA channel are considered.
type DpaType int

const (
	// DpaCoChannel considers in-band grants and out-of-band grants above the
	// mask cutoff.
	DpaCoChannel DpaType = iota
	// DpaOutOfBand considers out-of-band grants only.
	DpaOutOfBand
)

func (t DpaType) String() string {
	switch t {
	case DpaCoChannel:
		return "CO_CHANNEL"
	case DpaOutOfBand:
		return "OUT_OF_BAND"
	default:
		return fmt.Sprintf("DpaType(%d)", int(t))
	}
}

// NeighborDistances are the neighborhood radii of a DPA in km.
type NeighborDistances struct {
	CatAInBandKm float64 `yaml:"cat_a_in_band_km"`
	CatBInBandKm float64 `yaml:"cat_b_in_band_km"`
	CatAOobKm    float64 `yaml:"cat_a_oob_km"`
	CatBOobKm    float64 `yaml:"cat_b_oob_km"`
}

// InBand returns the in-band radius of a category.
func (d NeighborDistances) InBand(c model.Category) float64 {
	if c == model.CategoryA {
		return d.CatAInBandKm
	}
	return d.CatBInBandKm
}

// Oob returns the out-of-band radius of a category.
func (d NeighborDistances) Oob(c model.Category) float64 {
	if c == model.CategoryA {
		return d.CatAOobKm
	}
	return d.CatBOobKm
}

// Max returns the largest radius.
func (d NeighborDistances) Max() float64 {
	return math.Max(math.Max(d.CatAInBandKm, d.CatBInBandKm), math.Max(d.CatAOobKm, d.CatBOobKm))
}

// isNeighbor applies the neighborhood rule to one grant at distKm.
func isNeighbor(g model.Grant, c model.ProtectionConstraint, dpaType DpaType, dists NeighborDistances, distKm float64) bool {
	if g.Frequency().Overlaps(c.Frequency) {
		return dpaType == DpaCoChannel && distKm <= dists.InBand(g.Category)
	}
	return distKm <= dists.Oob(g.Category) && OobMaskDBmPerMHz(g, c.Frequency) > OobCutoffDBmPerMHz
}

// FindGrantsInsideNeighborhood returns the indices, ascending, of the grants
// in the neighborhood of the constraint point on its frequency segment.
func FindGrantsInsideNeighborhood(grants []model.Grant, c model.ProtectionConstraint, dpaType DpaType, dists NeighborDistances) []int {
	var out []int
	for i, g := range grants {
		d, _, _ := geo.GeodesicDistanceBearing(c.Point.Latitude, c.Point.Longitude, g.Latitude, g.Longitude)
		if isNeighbor(g, c, dpaType, dists, d) {
			out = append(out, i)
		}
	}
	return out
}

// indexedGrant lets a grant live in the quadtree.
type indexedGrant struct {
	idx int
	pt  orb.Point
}

func (g *indexedGrant) Point() orb.Point { return g.pt }

// GrantIndex is a quadtree over the grant locations. It is read-only after
// construction and safe for concurrent queries.
type GrantIndex struct {
	grants []model.Grant
	qt     *quadtree.Quadtree
}

// NewGrantIndex indexes grants by (lon, lat).
func NewGrantIndex(grants []model.Grant) (*GrantIndex, error) {
	qt := quadtree.New(orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}})
	for i, g := range grants {
		if err := qt.Add(&indexedGrant{idx: i, pt: orb.Point{g.Longitude, g.Latitude}}); err != nil {
			return nil, fmt.Errorf("index grant %d: %w", i, err)
		}
	}
	return &GrantIndex{grants: grants, qt: qt}, nil
}

// Grants returns the indexed grant list.
func (x *GrantIndex) Grants() []model.Grant { return x.grants }

// Within returns the indices of grants inside a lat/lon box enclosing the
// circle of radius distKm around (lat, lon). Callers filter by exact
// distance.
func (x *GrantIndex) Within(lat, lon, distKm float64) []int {
	// One degree of latitude spans at least 110.5 km; pad by 1%.
	dLat := distKm / 110.5 * 1.01
	cosLat := math.Cos(math.Min(89.9, math.Abs(lat)+dLat) * math.Pi / 180)
	dLon := math.Min(180, distKm/(111.0*cosLat)*1.01)
	minLat, maxLat := math.Max(-90, lat-dLat), math.Min(90, lat+dLat)
	box := func(west, east float64) orb.Bound {
		return orb.Bound{Min: orb.Point{west, minLat}, Max: orb.Point{east, maxLat}}
	}

	// Boxes crossing the antimeridian are split in two.
	var bounds []orb.Bound
	switch west, east := lon-dLon, lon+dLon; {
	case dLon >= 180:
		bounds = append(bounds, box(-180, 180))
	case west < -180:
		bounds = append(bounds, box(west+360, 180), box(-180, east))
	case east > 180:
		bounds = append(bounds, box(west, 180), box(-180, east-360))
	default:
		bounds = append(bounds, box(west, east))
	}

	var out []int
	for _, b := range bounds {
		for _, p := range x.qt.InBound(nil, b) {
			out = append(out, p.(*indexedGrant).idx)
		}
	}
	sort.Ints(out)
	return slices.Compact(out)
}

// FindInsideNeighborhood is FindGrantsInsideNeighborhood restricted to the
// quadtree candidates.
func (x *GrantIndex) FindInsideNeighborhood(c model.ProtectionConstraint, dpaType DpaType, dists NeighborDistances) []int {
	var out []int
	for _, i := range x.Within(c.Point.Latitude, c.Point.Longitude, dists.Max()) {
		g := x.grants[i]
		d, _, _ := geo.GeodesicDistanceBearing(c.Point.Latitude, c.Point.Longitude, g.Latitude, g.Longitude)
		if isNeighbor(g, c, dpaType, dists, d) {
			out = append(out, i)
		}
	}
	return out
}
