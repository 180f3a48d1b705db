// Package propagation computes CBSD to receiver path losses with the ITM and
// the hybrid ITM/eHata models, over terrain drawn from the geodata drivers.
package propagation

import (
	"context"
	"errors"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geodata"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/logging"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
)

var (
	// ErrInputOutOfRange is returned for frequencies outside 40 MHz-10 GHz.
	ErrInputOutOfRange = errors.New("propagation input out of range")
	// ErrPropagationFailure marks a path whose loss could not be evaluated.
	ErrPropagationFailure = errors.New("propagation failure")
)

// ReliabilityMean requests the mean loss over reliabilities 1%..99%,
// averaged in the linear domain.
const ReliabilityMean = -1.0

// Link is one CBSD to receiver path.
type Link struct {
	CbsdLat, CbsdLon float64
	CbsdHeightM      float64
	RxLat, RxLon     float64
	RxHeightM        float64
	CbsdIndoor       bool
	FreqMHz          float64
	// IsHeightAmsl marks both heights as above mean sea level instead of
	// above ground.
	IsHeightAmsl bool
	// Profile is an optional precomputed terrain profile in ITM layout.
	Profile []float64
	// Region overrides the land cover vote at the CBSD for the hybrid model.
	Region *model.RegionType
}

// IncidenceAngles are the departure and arrival directions of a path, in
// degrees. Horizontal angles are bearings clockwise from true North.
type IncidenceAngles struct {
	HorCbsd float64
	VerCbsd float64
	HorRx   float64
	VerRx   float64
}

// Internals records how a loss was obtained.
type Internals struct {
	DistanceKm       float64
	ItmMode          string
	ItmErrCode       int
	Region           model.RegionType
	EffectiveHeightM float64
	Branch           string // ITM, FSL_EHATA, EHATA or ITM_J80
}

// LossResult holds one loss per requested reliability.
type LossResult struct {
	LossDB    []float64
	Incidence IncidenceAngles
	Internals Internals
}

// Model draws path losses. Implementations must be safe for use by one
// goroutine at a time.
type Model interface {
	Losses(ctx context.Context, link Link, reliabilities []float64, rng *rand.Rand) (LossResult, error)
}

// ModelFactory builds a Model over one worker's geo drivers.
type ModelFactory func(drivers *geodata.Drivers) Model

// Options select the propagation model used by the engines.
type Options struct {
	Hybrid bool
	// AddClutter adds a uniform 0-15 dB loss on rural links.
	AddClutter bool
}

// Maximum rural clutter loss in dB.
const maxClutterDB = 15.0

type calcModel struct {
	calc *Calculator
	opts Options
}

// NewModel wraps a Calculator into a Model.
func NewModel(calc *Calculator, opts Options) Model {
	return &calcModel{calc: calc, opts: opts}
}

// Factory returns a ModelFactory building a Calculator per driver bundle.
func Factory(opts Options, logger logging.Logger) ModelFactory {
	return func(drivers *geodata.Drivers) Model {
		return NewModel(NewCalculator(drivers, logger), opts)
	}
}

// Losses evaluates the configured model once. With AddClutter, a clutter
// loss is drawn for each reliability of a rural link.
func (m *calcModel) Losses(ctx context.Context, link Link, reliabilities []float64, rng *rand.Rand) (LossResult, error) {
	var (
		res LossResult
		err error
	)
	if m.opts.Hybrid {
		res, err = m.calc.CalcHybridPropagationLoss(ctx, link, reliabilities)
	} else {
		res, err = m.calc.CalcItmPropagationLoss(ctx, link, reliabilities)
	}
	if err != nil {
		return LossResult{}, err
	}
	if !m.opts.AddClutter || rng == nil {
		return res, nil
	}
	region := res.Internals.Region
	if !m.opts.Hybrid {
		region = m.calc.region(link)
	}
	if region == model.RegionRural {
		u := distuv.Uniform{Min: 0, Max: maxClutterDB, Src: rng}
		for i := range res.LossDB {
			res.LossDB[i] += u.Rand()
		}
	}
	return res, nil
}
