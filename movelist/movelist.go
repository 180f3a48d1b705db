// Package movelist selects, for one protection point and channel, the
// smallest set of grants whose shutdown keeps the 95th percentile of the
// Monte-Carlo aggregate interference at or below the DPA threshold.
package movelist

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/antenna"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/interference"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/propagation"
)

// Request describes one (protection point, channel) computation.
type Request struct {
	Point     model.ProtectionPoint
	Channel   model.Channel
	DpaType   interference.DpaType
	Neighbors interference.NeighborDistances

	ThresholdDBm float64 // per channel bandwidth
	RadarHeightM float64
	BeamwidthDeg float64
	// Azimuths lists the radar pointing directions to protect; nil protects
	// an omni radar.
	Azimuths []float64
	NumIter  int
}

// Result is the outcome of one computation. Sets hold grant indices.
type Result struct {
	MoveList  mapset.Set[int]
	Neighbors mapset.Set[int]
	Retries   int
}

// Compute builds the interference matrix of the neighbors of req.Point and
// selects the move list. An empty neighborhood yields empty sets.
func Compute(ctx context.Context, pm propagation.Model, index *interference.GrantIndex, req Request, rng *rand.Rand) (Result, error) {
	c := model.NewDpaConstraint(req.Point, req.Channel)
	ids := index.FindInsideNeighborhood(c, req.DpaType, req.Neighbors)
	res := Result{
		MoveList:  mapset.NewSet[int](),
		Neighbors: mapset.NewSet(ids...),
	}
	if len(ids) == 0 {
		return res, nil
	}
	if req.NumIter <= 0 {
		return Result{}, fmt.Errorf("move list at %v: %d iterations", req.Point, req.NumIter)
	}
	m, err := interference.FormInterferenceMatrix(ctx, pm, index.Grants(), ids, c, req.RadarHeightM, req.NumIter, rng)
	if err != nil {
		return Result{}, fmt.Errorf("move list at %v on %v: %w", req.Point, req.Channel, err)
	}
	res.Retries = m.Retries
	res.MoveList.Append(SelectMoveList(m, req.Azimuths, req.BeamwidthDeg, req.ThresholdDBm)...)
	return res, nil
}

// SelectMoveList returns the grant ids to move, ascending. For each radar
// azimuth, grants are ranked by their own 95th percentile contribution,
// ties kept in grant order, and the shortest ranked prefix whose removal
// meets the threshold is moved. The result is the union over azimuths.
func SelectMoveList(m interference.Matrix, azimuths []float64, beamwidthDeg, thresholdDBm float64) []int {
	moved := mapset.NewSet[int]()
	if len(m.GrantIDs) == 0 {
		return nil
	}
	if len(azimuths) == 0 {
		for _, j := range selectForOffsets(m, nil, thresholdDBm) {
			moved.Add(m.GrantIDs[j])
		}
	}
	for _, az := range azimuths {
		offsets := antenna.GetRadarNormalizedAntennaGains(m.ArrivalDeg, az, beamwidthDeg)
		for _, j := range selectForOffsets(m, offsets, thresholdDBm) {
			moved.Add(m.GrantIDs[j])
		}
	}
	out := moved.ToSlice()
	sort.Ints(out)
	return out
}

// selectForOffsets returns the matrix columns to move for one radar
// pointing.
func selectForOffsets(m interference.Matrix, offsets []float64, thresholdDBm float64) []int {
	n := len(m.GrantIDs)
	order := RankGrants(m, offsets)

	live := make([]bool, n)
	exceeds := func(k int) bool {
		for j := range live {
			live[j] = true
		}
		for _, j := range order[:k] {
			live[j] = false
		}
		agg := m.Aggregate(live, offsets)
		return interference.Quantile(interference.MoveListPercentile, agg) > thresholdDBm
	}
	// Removing more grants never raises the aggregate, so the smallest
	// passing prefix is found by bisection.
	k := sort.Search(n+1, func(k int) bool { return !exceeds(k) })
	return order[:k]
}

// RankGrants orders matrix columns by decreasing 95th percentile of the
// column plus its offset. Equal percentiles keep column order.
func RankGrants(m interference.Matrix, offsets []float64) []int {
	n := len(m.GrantIDs)
	q := make([]float64, n)
	for j := 0; j < n; j++ {
		col := m.Column(j)
		if offsets != nil {
			for i := range col {
				col[i] += offsets[j]
			}
		}
		q[j] = interference.Quantile(interference.MoveListPercentile, col)
	}
	order := make([]int, n)
	for j := range order {
		order[j] = j
	}
	sort.SliceStable(order, func(a, b int) bool { return q[order[a]] > q[order[b]] })
	return order
}
