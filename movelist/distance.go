package movelist

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geo"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
)

// CategoryDistances holds one distance per CBSD category, in km.
type CategoryDistances struct {
	CatAKm float64
	CatBKm float64
}

// Get returns the distance of category c.
func (d CategoryDistances) Get(c model.Category) float64 {
	if c == model.CategoryA {
		return d.CatAKm
	}
	return d.CatBKm
}

// MaximumMoveListDistance returns, per category, the largest distance from
// any protection point to a moved grant. Categories with no moved grant
// report 0.
func MaximumMoveListDistance(grants []model.Grant, moved mapset.Set[int], points []model.ProtectionPoint) CategoryDistances {
	var out CategoryDistances
	moved.Each(func(i int) bool {
		g := grants[i]
		for _, p := range points {
			d, _, _ := geo.GeodesicDistanceBearing(p.Latitude, p.Longitude, g.Latitude, g.Longitude)
			if g.Category == model.CategoryA {
				out.CatAKm = max(out.CatAKm, d)
			} else {
				out.CatBKm = max(out.CatBKm, d)
			}
		}
		return false
	})
	return out
}
