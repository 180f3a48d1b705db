package propagation

import (
	"context"
	"fmt"
	"math"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geo"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geodata"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/logging"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/propagation/itm"
)

// Fixed ITM parameters and input limits.
const (
	itmDielectric   = 25.0
	itmConductivity = 0.02
	itmConfidence   = 0.5
	itmMdVar        = 13

	MinFrequencyMHz = 40.0
	MaxFrequencyMHz = 10000.0
	MinHeightM      = 1.0
	MaxHeightM      = 1000.0

	// IndoorLossDB is the building entry loss of indoor CBSDs.
	IndoorLossDB = 15.0
)

// Calculator evaluates path losses against one driver bundle. It is not safe
// for concurrent use when the drivers are not.
type Calculator struct {
	drivers *geodata.Drivers
	logger  logging.Logger

	ProfileResolutionM float64
	MaxProfilePoints   int
}

// NewCalculator returns a Calculator over drivers.
func NewCalculator(drivers *geodata.Drivers, logger logging.Logger) *Calculator {
	return &Calculator{
		drivers:            drivers,
		logger:             logging.OrNoop(logger),
		ProfileResolutionM: geodata.DefaultProfileResolutionM,
		MaxProfilePoints:   geodata.DefaultProfileMaxPoints,
	}
}

// FreeSpaceLoss returns the free space loss in dB over distKm at freqMHz.
func FreeSpaceLoss(distKm, freqMHz float64) float64 {
	return 32.45 + 20*math.Log10(freqMHz) + 20*math.Log10(distKm)
}

// itmPath is an ITM evaluation before the indoor loss.
type itmPath struct {
	loss       []float64
	result     itm.Result
	profile    []float64
	distKm     float64
	bearing    float64
	revBearing float64
	cbsdAgl    float64
	rxAgl      float64
}

// CalcItmPropagationLoss returns the ITM loss of link for each reliability.
// A ReliabilityMean entry yields the linear-domain mean over 1%..99%.
func (c *Calculator) CalcItmPropagationLoss(ctx context.Context, link Link, reliabilities []float64) (LossResult, error) {
	p, err := c.itmLoss(ctx, link, reliabilities)
	if err != nil {
		return LossResult{}, err
	}
	res := LossResult{
		LossDB: p.loss,
		Incidence: IncidenceAngles{
			HorCbsd: p.bearing,
			VerCbsd: radToDeg(p.result.HorizonAngleRad[0]),
			HorRx:   p.revBearing,
			VerRx:   radToDeg(p.result.HorizonAngleRad[1]),
		},
		Internals: Internals{
			DistanceKm: p.distKm,
			ItmMode:    p.result.Mode,
			ItmErrCode: p.result.ErrCode,
			Branch:     "ITM",
		},
	}
	if link.CbsdIndoor {
		addConst(res.LossDB, IndoorLossDB)
	}
	return res, nil
}

func (c *Calculator) itmLoss(ctx context.Context, link Link, reliabilities []float64) (itmPath, error) {
	if err := ctx.Err(); err != nil {
		return itmPath{}, err
	}
	if link.FreqMHz < MinFrequencyMHz || link.FreqMHz > MaxFrequencyMHz {
		return itmPath{}, fmt.Errorf("%w: frequency %g MHz", ErrInputOutOfRange, link.FreqMHz)
	}
	if len(reliabilities) == 0 {
		return itmPath{}, fmt.Errorf("%w: no reliability requested", ErrInputOutOfRange)
	}
	profile, err := c.profile(link)
	if err != nil {
		return itmPath{}, err
	}
	cbsdH, rxH := link.CbsdHeightM, link.RxHeightM
	if link.IsHeightAmsl {
		cbsdH -= profile[2]
		rxH -= profile[len(profile)-1]
	}
	cbsdH, rxH = clampHeight(cbsdH), clampHeight(rxH)

	distKm, bearing, rev := geo.GeodesicDistanceBearing(link.CbsdLat, link.CbsdLon, link.RxLat, link.RxLon)
	params := itm.Params{
		DielectricConst: itmDielectric,
		Conductivity:    itmConductivity,
		Refractivity:    c.drivers.Refractivity.Refractivity((link.CbsdLat+link.RxLat)/2, (link.CbsdLon+link.RxLon)/2),
		FrequencyMHz:    link.FreqMHz,
		Climate:         c.drivers.Climate.PathClimate(link.CbsdLat, link.CbsdLon, link.RxLat, link.RxLon),
		Polarization:    itm.Vertical,
		Confidence:      itmConfidence,
		MdVar:           itmMdVar,
	}

	rels, means := expandReliabilities(reliabilities)
	r, err := itm.PointToPoint(profile, cbsdH, rxH, params, rels)
	if err != nil {
		return itmPath{}, fmt.Errorf("%w: %v", ErrPropagationFailure, err)
	}
	if r.ErrCode > itm.ErrCodeNone {
		c.logger.Debug(ctx, "itm warning",
			logging.Int("err_code", r.ErrCode),
			logging.String("mode", r.Mode),
			logging.Float64("distance_km", distKm),
		)
	}
	return itmPath{
		loss:       collapseMeans(r.LossDB, len(reliabilities), means),
		result:     r,
		profile:    profile,
		distKm:     distKm,
		bearing:    bearing,
		revBearing: rev,
		cbsdAgl:    cbsdH,
		rxAgl:      rxH,
	}, nil
}

func (c *Calculator) profile(link Link) ([]float64, error) {
	if link.Profile != nil {
		return link.Profile, nil
	}
	return c.drivers.Terrain.TerrainProfile(link.CbsdLat, link.CbsdLon, link.RxLat, link.RxLon,
		c.ProfileResolutionM, true, c.MaxProfilePoints)
}

func (c *Calculator) region(link Link) model.RegionType {
	if link.Region != nil {
		return *link.Region
	}
	return c.drivers.LandCover.RegionAt(link.CbsdLat, link.CbsdLon)
}

// meanReliabilities are the samples averaged for ReliabilityMean.
var meanReliabilities = func() []float64 {
	out := make([]float64, 99)
	for i := range out {
		out[i] = float64(i+1) / 100
	}
	return out
}()

// expandReliabilities replaces every ReliabilityMean entry by the 99 mean
// samples appended after the explicit reliabilities. means maps output
// positions to true for mean entries.
func expandReliabilities(in []float64) (rels []float64, means []bool) {
	means = make([]bool, len(in))
	hasMean := false
	for i, r := range in {
		if r == ReliabilityMean {
			means[i] = true
			hasMean = true
			continue
		}
		rels = append(rels, r)
	}
	if hasMean {
		rels = append(rels, meanReliabilities...)
	}
	return rels, means
}

func collapseMeans(losses []float64, n int, means []bool) []float64 {
	out := make([]float64, n)
	var mean float64
	nExplicit := 0
	for _, m := range means {
		if !m {
			nExplicit++
		}
	}
	if nExplicit < len(losses) {
		sum := 0.0
		for _, l := range losses[nExplicit:] {
			sum += math.Pow(10, -l/10)
		}
		mean = -10 * math.Log10(sum/float64(len(losses)-nExplicit))
	}
	j := 0
	for i := range out {
		if means[i] {
			out[i] = mean
			continue
		}
		out[i] = losses[j]
		j++
	}
	return out
}

func clampHeight(h float64) float64 {
	return math.Min(MaxHeightM, math.Max(MinHeightM, h))
}

func addConst(v []float64, c float64) {
	for i := range v {
		v[i] += c
	}
}

func radToDeg(r float64) float64 { return r * 180 / math.Pi }
