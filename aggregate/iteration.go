package aggregate

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/antenna"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geo"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/interference"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/movelist"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/propagation"
)

// contribution is the received power of one device at the radar.
type contribution struct {
	distKm float64
	cat    model.Category
	// mw holds one linear power per radar azimuth.
	mw []float64
}

// site is the receiver side of an iteration.
type site struct {
	point        model.ProtectionPoint
	radarHeightM float64
	beamwidthDeg float64
	azimuths     []float64
}

// contributions draws one propagation realization per grant and returns the
// power each grant delivers into band at the radar, net of lossDB.
func contributions(ctx context.Context, pm propagation.Model, grants []model.Grant, s site,
	band model.FrequencyRange, lossDB float64, rng *rand.Rand,
) ([]contribution, int, error) {
	if len(grants) == 0 {
		return nil, 0, nil
	}
	ids := make([]int, len(grants))
	for i := range ids {
		ids[i] = i
	}
	c := model.ProtectionConstraint{Point: s.point, Frequency: band, EntityType: model.EntityDPA}
	m, err := interference.FormInterferenceMatrix(ctx, pm, grants, ids, c, s.radarHeightM, 1, rng)
	if err != nil {
		return nil, m.Retries, err
	}
	var offsets [][]float64
	for _, az := range s.azimuths {
		offsets = append(offsets, antenna.GetRadarNormalizedAntennaGains(m.ArrivalDeg, az, s.beamwidthDeg))
	}
	out := make([]contribution, len(grants))
	for j, id := range m.GrantIDs {
		g := grants[id]
		d, _, _ := geo.GeodesicDistanceBearing(s.point.Latitude, s.point.Longitude, g.Latitude, g.Longitude)
		v := m.Samples[0][j] - lossDB
		cb := contribution{distKm: d, cat: g.Category}
		if offsets == nil {
			cb.mw = []float64{interference.DBmToMilliwatts(v)}
		}
		for _, off := range offsets {
			cb.mw = append(cb.mw, interference.DBmToMilliwatts(v+off[j]))
		}
		out[j] = cb
	}
	return out, m.Retries, nil
}

// aggregateBeyond returns the worst-azimuth aggregate, in dBm, of the
// category cat devices farther than radiusKm. It never increases with
// radiusKm.
func aggregateBeyond(cs []contribution, cat model.Category, radiusKm float64) float64 {
	var sums []float64
	for _, c := range cs {
		if c.cat != cat || c.distKm <= radiusKm {
			continue
		}
		if sums == nil {
			sums = make([]float64, len(c.mw))
		}
		for k, v := range c.mw {
			sums[k] += v
		}
	}
	worst := 0.0
	for _, s := range sums {
		worst = math.Max(worst, s)
	}
	return interference.MilliwattsToDBm(worst)
}

// bisectRadius returns the smallest radius in [0, maxKm], to within tolKm,
// whose suppression brings the category aggregate to thresholdDBm or below,
// and the aggregate at that radius.
func bisectRadius(cs []contribution, cat model.Category, maxKm, thresholdDBm, tolKm float64) (radiusKm, aggDBm float64) {
	if agg := aggregateBeyond(cs, cat, 0); agg <= thresholdDBm {
		return 0, agg
	}
	lo, hi := 0.0, maxKm
	for hi-lo > tolKm {
		mid := (lo + hi) / 2
		if aggregateBeyond(cs, cat, mid) <= thresholdDBm {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi, aggregateBeyond(cs, cat, hi)
}

// winnForumDistances runs the move list on the synthesized grants and
// returns, per category, the distance of the farthest moved grant.
func winnForumDistances(ctx context.Context, pm propagation.Model, grants []model.Grant, s site,
	ch model.Channel, dists movelist.CategoryDistances, thresholdDBm float64, numIter int, rng *rand.Rand,
) (movelist.CategoryDistances, int, error) {
	index, err := interference.NewGrantIndex(grants)
	if err != nil {
		return movelist.CategoryDistances{}, 0, err
	}
	res, err := movelist.Compute(ctx, pm, index, movelist.Request{
		Point:   s.point,
		Channel: ch,
		DpaType: interference.DpaCoChannel,
		Neighbors: interference.NeighborDistances{
			CatAInBandKm: dists.CatAKm,
			CatBInBandKm: dists.CatBKm,
		},
		ThresholdDBm: thresholdDBm,
		RadarHeightM: s.radarHeightM,
		BeamwidthDeg: s.beamwidthDeg,
		Azimuths:     s.azimuths,
		NumIter:      numIter,
	}, rng)
	if err != nil {
		return movelist.CategoryDistances{}, 0, err
	}
	return movelist.MaximumMoveListDistance(grants, res.MoveList, []model.ProtectionPoint{s.point}), res.Retries, nil
}
