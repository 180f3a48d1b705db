// Package ehata implements the Extended Hata median path loss model for
// open, suburban and urban environments.
package ehata

import (
	"fmt"
	"math"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
)

// Validity limits of the model inputs.
const (
	MinBaseHeightM   = 30.0
	MaxBaseHeightM   = 200.0
	MinMobileHeightM = 1.0
	MaxMobileHeightM = 10.0
	MinFrequencyMHz  = 30.0
)

// Link describes one evaluation of the model.
type Link struct {
	FrequencyMHz float64
	// BaseHeightM is the effective height of the base station above average
	// terrain; it is clamped to [30, 200] m.
	BaseHeightM   float64
	MobileHeightM float64
	DistanceKm    float64
	Region        model.RegionType
}

// MedianLoss returns the median basic transmission loss in dB. Frequencies
// above 3 GHz extrapolate the 2-3 GHz branch.
func MedianLoss(l Link) (float64, error) {
	if l.FrequencyMHz < MinFrequencyMHz {
		return 0, fmt.Errorf("ehata: frequency %g MHz below %g MHz", l.FrequencyMHz, MinFrequencyMHz)
	}
	if l.DistanceKm <= 0 {
		return 0, fmt.Errorf("ehata: distance %g km must be positive", l.DistanceKm)
	}
	f := l.FrequencyMHz
	hb := math.Min(MaxBaseHeightM, math.Max(MinBaseHeightM, l.BaseHeightM))
	hm := math.Min(MaxMobileHeightM, math.Max(MinMobileHeightM, l.MobileHeightM))
	d := l.DistanceKm

	logHb := math.Log10(hb)
	aHm := (1.1*math.Log10(f)-0.7)*hm - (1.56*math.Log10(f) - 0.8) + math.Max(0, 20*math.Log10(hm/10))
	bHb := math.Min(0, 20*math.Log10(hb/30))
	alpha := 1.0
	if d > 20 {
		alpha = 1 + (0.14+1.87e-4*f+1.07e-3*hb)*math.Pow(math.Log10(d/20), 0.8)
	}
	slope := (44.9 - 6.55*logHb) * math.Pow(math.Log10(d), alpha)

	var urban float64
	switch {
	case f <= 150:
		urban = 69.6 + 26.2*math.Log10(150) - 20*math.Log10(150/f)
	case f <= 1500:
		urban = 69.6 + 26.2*math.Log10(f)
	case f <= 2000:
		urban = 46.3 + 33.9*math.Log10(f)
	default:
		urban = 46.3 + 33.9*math.Log10(2000) + 10*math.Log10(f/2000)
	}
	urban += -13.82*logHb + slope - aHm - bHb

	fc := math.Min(math.Max(150, f), 2000)
	switch l.Region {
	case model.RegionDenseUrban, model.RegionUrban:
		return urban, nil
	case model.RegionSuburban:
		return urban - 2*math.Pow(math.Log10(fc/28), 2) - 5.4, nil
	case model.RegionRural:
		return urban - 4.78*math.Pow(math.Log10(fc), 2) + 18.33*math.Log10(fc) - 40.94, nil
	default:
		return 0, fmt.Errorf("ehata: unsupported region %v", l.Region)
	}
}
