package interference

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/antenna"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/propagation"
)

// Reliability draws are uniform over [MinReliability, MaxReliability].
const (
	MinReliability = 0.001
	MaxReliability = 0.999

	// MaxPropagationRetries bounds the redraws of a failed evaluation.
	MaxPropagationRetries = 3
)

// Matrix holds Monte-Carlo received powers at one protection point, in dBm
// over the constraint bandwidth. For DPA points the radar antenna gain is
// applied later; FSS points include the earth station gain.
type Matrix struct {
	// Samples[i][j] is iteration i of grant GrantIDs[j].
	Samples  [][]float64
	GrantIDs []int
	// OobLossDB is the attenuation of each grant's channel power relative to
	// a full in-band grant.
	OobLossDB []float64
	// ArrivalDeg is the bearing from the point toward each grant.
	ArrivalDeg []float64
	// Retries counts redrawn propagation evaluations.
	Retries int
}

// NumIter returns the number of Monte-Carlo iterations.
func (m Matrix) NumIter() int { return len(m.Samples) }

// Column returns the samples of grant column j.
func (m Matrix) Column(j int) []float64 {
	out := make([]float64, len(m.Samples))
	for i, row := range m.Samples {
		out[i] = row[j]
	}
	return out
}

// FormInterferenceMatrix draws numIter propagation realizations for each
// grant in ids toward the constraint point, with the receiver at
// rxHeightM above ground. Columns follow ids sorted ascending.
func FormInterferenceMatrix(ctx context.Context, pm propagation.Model, grants []model.Grant, ids []int,
	c model.ProtectionConstraint, rxHeightM float64, numIter int, rng *rand.Rand,
) (Matrix, error) {
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)
	m := Matrix{
		Samples:    make([][]float64, numIter),
		GrantIDs:   sorted,
		OobLossDB:  make([]float64, len(sorted)),
		ArrivalDeg: make([]float64, len(sorted)),
	}
	for i := range m.Samples {
		m.Samples[i] = make([]float64, len(sorted))
	}
	freqMHz := c.Frequency.CenterMHz()
	var fss *antenna.FssPointing
	if c.Fss != nil {
		p := FssPointing(c.Point, *c.Fss)
		fss = &p
	}
	for j, id := range sorted {
		g := grants[id]
		link := propagation.Link{
			CbsdLat:     g.Latitude,
			CbsdLon:     g.Longitude,
			CbsdHeightM: g.HeightM,
			CbsdIndoor:  g.Indoor,
			RxLat:       c.Point.Latitude,
			RxLon:       c.Point.Longitude,
			RxHeightM:   rxHeightM,
			FreqMHz:     freqMHz,
		}
		res, retries, err := drawLosses(ctx, pm, link, numIter, rng)
		m.Retries += retries
		if err != nil {
			return Matrix{}, fmt.Errorf("grant %d: %w", id, err)
		}
		power, oobLoss := ChannelPowerDBm(g, c.Frequency)
		gain := 0.0
		if !g.IsOmni() {
			gain = antenna.StandardAntennaGain(res.Incidence.HorCbsd, g.AntennaAzimuthDeg, g.AntennaBeamwidthDeg, g.AntennaGainDBi) - g.AntennaGainDBi
		}
		if fss != nil {
			gain += antenna.GetFssAntennaGains([]float64{res.Incidence.HorRx}, []float64{res.Incidence.VerRx}, *fss)[0]
		}
		m.OobLossDB[j] = oobLoss
		m.ArrivalDeg[j] = res.Incidence.HorRx
		for i, loss := range res.LossDB {
			m.Samples[i][j] = power + gain - loss
		}
	}
	return m, nil
}

// drawLosses evaluates numIter random reliabilities in one batch, drawing a
// fresh batch when the model fails.
func drawLosses(ctx context.Context, pm propagation.Model, link propagation.Link, numIter int, rng *rand.Rand) (propagation.LossResult, int, error) {
	var lastErr error
	for attempt := 0; attempt <= MaxPropagationRetries; attempt++ {
		rels := make([]float64, numIter)
		for i := range rels {
			rels[i] = MinReliability + rng.Float64()*(MaxReliability-MinReliability)
		}
		res, err := pm.Losses(ctx, link, rels, rng)
		if err == nil {
			return res, attempt, nil
		}
		if ctx.Err() != nil {
			return propagation.LossResult{}, attempt, ctx.Err()
		}
		lastErr = err
	}
	return propagation.LossResult{}, MaxPropagationRetries, fmt.Errorf("%w: %w", propagation.ErrPropagationFailure, lastErr)
}

// FssPointing resolves the boresight of an earth station at p. A station
// without a surveyed azimuth and elevation points at its GSO slot.
func FssPointing(p model.ProtectionPoint, es model.FssEarthStation) antenna.FssPointing {
	out := antenna.FssPointing{
		AzimuthDeg:   es.AzimuthDeg,
		ElevationDeg: es.ElevationDeg,
		GainDBi:      es.GainDBi,
		W1:           es.W1,
		W2:           es.W2,
	}
	if es.AzimuthDeg == 0 && es.ElevationDeg == 0 {
		out.AzimuthDeg, out.ElevationDeg = antenna.PointToGso(p.Latitude, p.Longitude, es.HeightM, es.SatLonDeg)
	}
	return out
}
