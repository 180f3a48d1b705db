package propagation

import (
	"context"
	"fmt"
	"math"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geo"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/propagation/ehata"
)

// Hybrid model breakpoints.
const (
	hybridFslDistKm   = 0.1
	hybridEhataDistKm = 1.0
	hybridMaxDistKm   = 80.0
	hybridMaxHeffM    = 200.0
)

// CalcHybridPropagationLoss returns the hybrid ITM/eHata loss of link for
// each reliability. ITM serves rural regions, paths up to 100 m and CBSDs
// whose effective height exceeds 200 m. Elsewhere the eHata median, joined
// to free space below 1 km and to ITM beyond 80 km, carries the reliability
// spread of the ITM distribution.
func (c *Calculator) CalcHybridPropagationLoss(ctx context.Context, link Link, reliabilities []float64) (LossResult, error) {
	rels := append(append([]float64(nil), reliabilities...), 0.5)
	p, err := c.itmLoss(ctx, link, rels)
	if err != nil {
		return LossResult{}, err
	}
	itmMed := p.loss[len(p.loss)-1]
	itmLoss := p.loss[:len(p.loss)-1]

	region := c.region(link)
	haat, _, err := c.drivers.Terrain.ComputeNormalizedHaat(link.CbsdLat, link.CbsdLon)
	if err != nil {
		return LossResult{}, fmt.Errorf("%w: haat: %v", ErrPropagationFailure, err)
	}
	heff := p.cbsdAgl + haat

	res := LossResult{
		LossDB: make([]float64, len(itmLoss)),
		Internals: Internals{
			DistanceKm:       p.distKm,
			ItmMode:          p.result.Mode,
			ItmErrCode:       p.result.ErrCode,
			Region:           region,
			EffectiveHeightM: heff,
		},
	}

	d := p.distKm
	if d <= hybridFslDistKm || heff > hybridMaxHeffM || region == model.RegionRural {
		copy(res.LossDB, itmLoss)
		res.Internals.Branch = "ITM"
		res.Incidence = IncidenceAngles{
			HorCbsd: p.bearing,
			VerCbsd: radToDeg(p.result.HorizonAngleRad[0]),
			HorRx:   p.revBearing,
			VerRx:   radToDeg(p.result.HorizonAngleRad[1]),
		}
	} else {
		eh := func(distKm float64) (float64, error) {
			return ehata.MedianLoss(ehata.Link{
				FrequencyMHz:  link.FreqMHz,
				BaseHeightM:   heff,
				MobileHeightM: p.rxAgl,
				DistanceKm:    distKm,
				Region:        region,
			})
		}
		switch {
		case d < hybridEhataDistKm:
			fsl := FreeSpaceLoss(hybridFslDistKm, link.FreqMHz)
			eh1, err := eh(hybridEhataDistKm)
			if err != nil {
				return LossResult{}, fmt.Errorf("%w: %v", ErrPropagationFailure, err)
			}
			med := fsl + (eh1-fsl)*math.Log10(d/hybridFslDistKm)
			for i, l := range itmLoss {
				res.LossDB[i] = med + l - itmMed
			}
			res.Internals.Branch = "FSL_EHATA"
		case d <= hybridMaxDistKm:
			ehd, err := eh(d)
			if err != nil {
				return LossResult{}, fmt.Errorf("%w: %v", ErrPropagationFailure, err)
			}
			med := math.Max(ehd, itmMed)
			for i, l := range itmLoss {
				res.LossDB[i] = med + l - itmMed
			}
			res.Internals.Branch = "EHATA"
		default:
			j, err := c.offset80(ctx, link, p, eh)
			if err != nil {
				return LossResult{}, err
			}
			for i, l := range itmLoss {
				res.LossDB[i] = l + j
			}
			res.Internals.Branch = "ITM_J80"
		}
		cbsdAmsl := p.profile[2] + p.cbsdAgl
		rxAmsl := p.profile[len(p.profile)-1] + p.rxAgl
		dep, arr := geo.VerticalAngles(link.CbsdLat, link.CbsdLon, cbsdAmsl, link.RxLat, link.RxLon, rxAmsl)
		res.Incidence = IncidenceAngles{HorCbsd: p.bearing, VerCbsd: dep, HorRx: p.revBearing, VerRx: arr}
	}

	if link.CbsdIndoor {
		addConst(res.LossDB, IndoorLossDB)
	}
	return res, nil
}

// offset80 returns J = max(eHata80 - ITM80, 0) evaluated 80 km from the
// CBSD along the path bearing.
func (c *Calculator) offset80(ctx context.Context, link Link, p itmPath, eh func(float64) (float64, error)) (float64, error) {
	lat80, lon80, _ := geo.GeodesicPoint(link.CbsdLat, link.CbsdLon, hybridMaxDistKm, p.bearing)
	l80 := Link{
		CbsdLat:     link.CbsdLat,
		CbsdLon:     link.CbsdLon,
		CbsdHeightM: p.cbsdAgl,
		RxLat:       lat80,
		RxLon:       lon80,
		RxHeightM:   p.rxAgl,
		FreqMHz:     link.FreqMHz,
	}
	if link.Profile != nil {
		l80.Profile = truncateProfile(link.Profile, hybridMaxDistKm*1000)
	}
	p80, err := c.itmLoss(ctx, l80, []float64{0.5})
	if err != nil {
		return 0, err
	}
	eh80, err := eh(hybridMaxDistKm)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPropagationFailure, err)
	}
	return math.Max(eh80-p80.loss[0], 0), nil
}

// truncateProfile keeps the leading distM of an ITM profile.
func truncateProfile(pfl []float64, distM float64) []float64 {
	step := pfl[1]
	n := int(math.Round(distM / step))
	if n < 1 {
		n = 1
	}
	if n >= int(pfl[0]) {
		return pfl
	}
	out := make([]float64, 0, n+3)
	out = append(out, float64(n), step)
	return append(out, pfl[2:n+3]...)
}
