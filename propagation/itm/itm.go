// Package itm implements the Longley-Rice Irregular Terrain Model in
// point-to-point mode.
package itm

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"
)

const third = 1.0 / 3.0

// Polarization of the radiated wave.
type Polarization int

const (
	Horizontal Polarization = 0
	Vertical   Polarization = 1
)

// Warning codes reported in Result.ErrCode.
const (
	ErrCodeNone         = 0 // no warning
	ErrCodeNearLimits   = 1 // parameters close to the model limits
	ErrCodeDefaulted    = 2 // impossible parameters replaced by defaults
	ErrCodeInconsistent = 3 // combination of parameters out of range
	ErrCodeOutOfRange   = 4 // parameters out of range, results unreliable
)

// ErrBadProfile is returned for profiles that cannot describe a path.
var ErrBadProfile = errors.New("itm: bad terrain profile")

// Params are the path-independent ITM inputs.
type Params struct {
	DielectricConst float64 // relative permittivity of ground
	Conductivity    float64 // S/m
	Refractivity    float64 // surface refractivity, N-units
	FrequencyMHz    float64
	Climate         int // 1..7
	Polarization    Polarization
	Confidence      float64 // in (0, 1)
	MdVar           int     // variability mode, e.g. 13 = broadcast without location variability
}

// Result holds the losses and the path internals of one evaluation.
type Result struct {
	LossDB []float64 // one per requested reliability
	Mode   string
	// ErrCode is the largest warning code raised by the model.
	ErrCode int

	DistanceM         float64
	DeltaH            float64    // terrain irregularity
	EffectiveHeightsM [2]float64 // tx, rx
	HorizonDistM      [2]float64
	HorizonAngleRad   [2]float64 // elevation of each horizon, from the profile geometry
	FreeSpaceLossDB   float64
	ReferenceAttenDB  float64
}

// prop, propa and propv follow the classic ITM state layout. The mutable
// function-local state of the reference kernel lives on state so that a
// single evaluation is self-contained.
type prop struct {
	aref float64
	dist float64
	hg   [2]float64
	wn   float64
	dh   float64
	ens  float64
	gme  float64
	zgnd complex128
	he   [2]float64
	dl   [2]float64
	the  [2]float64
	kwx  int
	mdp  int
}

type propa struct {
	dlsa, dx, ael, ak1, ak2, aed, emd, aes, ems float64
	dls                                         [2]float64
	dla, tha                                    float64
}

type propv struct {
	sgc   float64
	lvar  int
	mdvar int
	klim  int
}

type state struct {
	prop
	pa propa
	pv propv

	// adiff
	wd1, xd1, afo, qk, aht, xht float64

	// ascat
	ad, rr, etq, h0s float64

	// alos
	wls float64

	// lrprop
	wlos, wscat bool
	dmin, xae   float64

	// avar
	kdv                                       int
	ws, w1                                    bool
	dexa, de, vmd, vs0, sgl, sgtm, sgtp, sgtd float64
	tgtd, gm, gp, cv1, cv2, yv1, yv2, yv3     float64
	csm1, csm2, ysm1, ysm2, ysm3              float64
	csp1, csp2, ysp1, ysp2, ysp3, csd1, zd    float64
	cfm1, cfm2, cfm3, cfp1, cfp2, cfp3        float64
}

func dim(x, y float64) float64 {
	if x > y {
		return x - y
	}
	return 0
}

func aknfe(v2 float64) float64 {
	if v2 < 5.76 {
		return 6.02 + 9.11*math.Sqrt(v2) - 1.27*v2
	}
	return 12.953 + 10*math.Log10(v2)
}

func fht(x, pk float64) float64 {
	if x < 200 {
		w := -math.Log(pk)
		if pk < 1e-5 || x*w*w*w > 5495 {
			v := -117.0
			if x > 1 {
				v += 17.372 * math.Log(x)
			}
			return v
		}
		return 2.5e-5*x*x/pk - 8.686*w - 15
	}
	v := 0.05751*x - 4.343*math.Log(x)
	if x < 2000 {
		w := 0.0134 * x * math.Exp(-0.005*x)
		v = (1-w)*v + w*(17.372*math.Log(x)-117)
	}
	return v
}

func h0f(r, et float64) float64 {
	a := [5]float64{25, 80, 177, 395, 705}
	b := [5]float64{24, 45, 68, 80, 105}
	it := int(et)
	var q float64
	switch {
	case it <= 0:
		it = 1
	case it >= 5:
		it = 5
	default:
		q = et - float64(it)
	}
	x := math.Pow(1/r, 2)
	v := 4.343 * math.Log((a[it-1]*x+b[it-1])*x+1)
	if q != 0 {
		v = (1-q)*v + q*4.343*math.Log((a[it]*x+b[it])*x+1)
	}
	return v
}

func ahd(td float64) float64 {
	a := [3]float64{133.4, 104.6, 71.8}
	b := [3]float64{0.332e-3, 0.212e-3, 0.157e-3}
	c := [3]float64{-4.343, -1.086, 2.171}
	i := 2
	if td <= 10e3 {
		i = 0
	} else if td <= 70e3 {
		i = 1
	}
	return a[i] + b[i]*td + c[i]*math.Log(td)
}

// adiff is the diffraction attenuation. d == 0 initializes the
// distance-independent terms.
func (s *state) adiff(d float64) float64 {
	if d == 0 {
		q := s.hg[0] * s.hg[1]
		s.qk = s.he[0]*s.he[1] - q
		if s.mdp < 0 {
			q += 10
		}
		s.wd1 = math.Sqrt(1 + s.qk/q)
		s.xd1 = s.pa.dla + s.pa.tha/s.gme
		q = (1 - 0.8*math.Exp(-s.pa.dlsa/50e3)) * s.dh
		q *= 0.78 * math.Exp(-math.Pow(q/16, 0.25))
		s.afo = math.Min(15, 2.171*math.Log(1+4.77e-4*s.hg[0]*s.hg[1]*s.wn*q))
		s.qk = 1 / cmplx.Abs(s.zgnd)
		s.aht = 20
		s.xht = 0
		for j := 0; j < 2; j++ {
			a := 0.5 * s.dl[j] * s.dl[j] / s.he[j]
			wa := math.Pow(a*s.wn, third)
			pk := s.qk / wa
			q = (1.607 - pk) * 151 * wa * s.dl[j] / a
			s.xht += q
			s.aht += fht(q, pk)
		}
		return 0
	}
	th := s.pa.tha + d*s.gme
	ds := d - s.pa.dla
	q := 0.0795775 * s.wn * ds * th * th
	v := aknfe(q*s.dl[0]/(ds+s.dl[0])) + aknfe(q*s.dl[1]/(ds+s.dl[1]))
	a := ds / th
	wa := math.Pow(a*s.wn, third)
	pk := s.qk / wa
	q = (1.607-pk)*151*wa*th + s.xht
	ar := 0.05751*q - 4.343*math.Log(q) - s.aht
	q = (s.wd1 + s.xd1/d) * math.Min((1-0.8*math.Exp(-d/50e3))*s.dh*s.wn, 6283.2)
	wd := 25.1 / (25.1 + math.Sqrt(q))
	return ar*wd + (1-wd)*v + s.afo
}

// ascat is the troposcatter attenuation. d == 0 initializes.
func (s *state) ascat(d float64) float64 {
	if d == 0 {
		s.ad = s.dl[0] - s.dl[1]
		s.rr = s.he[1] / s.he[0]
		if s.ad < 0 {
			s.ad = -s.ad
			s.rr = 1 / s.rr
		}
		s.etq = (5.67e-6*s.ens-2.32e-3)*s.ens + 0.031
		s.h0s = -15
		return 0
	}
	var h0 float64
	if s.h0s > 15 {
		h0 = s.h0s
	} else {
		th := s.the[0] + s.the[1] + d*s.gme
		r2 := 2 * s.wn * th
		r1 := r2 * s.he[0]
		r2 *= s.he[1]
		if r1 < 0.2 && r2 < 0.2 {
			return 1001
		}
		ss := (d - s.ad) / (d + s.ad)
		q := s.rr / ss
		ss = math.Max(0.1, ss)
		q = math.Min(math.Max(0.1, q), 10)
		z0 := (d - s.ad) * (d + s.ad) * th * 0.25 / d
		temp := math.Pow(math.Min(1.7, z0/8e3), 6)
		et := (s.etq*math.Exp(-temp) + 1) * z0 / 1.7556e3
		ett := math.Max(et, 1)
		h0 = (h0f(r1, ett) + h0f(r2, ett)) * 0.5
		h0 += math.Min(h0, (1.38-math.Log(ett))*math.Log(ss)*math.Log(q)*0.49)
		h0 = dim(h0, 0)
		if et < 1 {
			h0 = et*h0 + (1-et)*4.343*math.Log(math.Pow((1+1.4142/r1)*(1+1.4142/r2), 2)*(r1+r2)/(r1+r2+2.8284))
		}
		if h0 > 15 && s.h0s >= 0 {
			h0 = s.h0s
		}
	}
	s.h0s = h0
	th := s.pa.tha + d*s.gme
	return ahd(th*d) + 4.343*math.Log(47.7*s.wn*math.Pow(th, 4)) - 0.1*(s.ens-301)*math.Exp(-th*d/40e3) + h0
}

// qerfi is the inverse of the standard normal complementary distribution.
func qerfi(q float64) float64 {
	const (
		c0 = 2.515516698
		c1 = 0.802853
		c2 = 0.010328
		d1 = 1.432788
		d2 = 0.189269
		d3 = 0.001308
	)
	x := 0.5 - q
	t := math.Max(0.5-math.Abs(x), 0.000001)
	t = math.Sqrt(-2 * math.Log(t))
	v := t - ((c2*t+c1)*t+c0)/(((d3*t+d2)*t+d1)*t+1)
	if x < 0 {
		v = -v
	}
	return v
}

func (s *state) qlrps(fmhz, zsys, en0 float64, pol Polarization, eps, sgm float64) {
	const gma = 157e-9
	s.wn = fmhz / 47.7
	s.ens = en0
	if zsys != 0 {
		s.ens *= math.Exp(-zsys / 9460)
	}
	s.gme = gma * (1 - 0.04665*math.Exp(s.ens/179.3))
	zq := complex(eps, 376.62*sgm/s.wn)
	z := cmplx.Sqrt(zq - 1)
	if pol != Horizontal {
		z /= zq
	}
	s.zgnd = z
}

func absSq(r complex128) float64 { return real(r)*real(r) + imag(r)*imag(r) }

// alos is the line-of-sight attenuation. d == 0 initializes.
func (s *state) alos(d float64) float64 {
	if d == 0 {
		s.wls = 0.021 / (0.021 + s.wn*s.dh/math.Max(10e3, s.pa.dlsa))
		return 0
	}
	q := (1 - 0.8*math.Exp(-d/50e3)) * s.dh
	sr := 0.78 * q * math.Exp(-math.Pow(q/16, 0.25))
	q = s.he[0] + s.he[1]
	sps := q / math.Sqrt(d*d+q*q)
	r := (complex(sps, 0) - s.zgnd) / (complex(sps, 0) + s.zgnd) * complex(math.Exp(-math.Min(10, s.wn*sr*sps)), 0)
	q = absSq(r)
	if q < 0.25 || q < sps {
		r *= complex(math.Sqrt(sps/q), 0)
	}
	v := s.pa.emd*d + s.pa.aed
	q = s.wn * s.he[0] * s.he[1] * 2 / d
	if q > 1.57 {
		q = 3.14 - 2.4649/q
	}
	return (-4.343*math.Log(absSq(complex(math.Cos(q), -math.Sin(q))+r))-v)*s.wls + v
}

func (s *state) lrprop(d float64) {
	if s.mdp != 0 {
		for j := 0; j < 2; j++ {
			s.pa.dls[j] = math.Sqrt(2 * s.he[j] / s.gme)
		}
		s.pa.dlsa = s.pa.dls[0] + s.pa.dls[1]
		s.pa.dla = s.dl[0] + s.dl[1]
		s.pa.tha = math.Max(s.the[0]+s.the[1], -s.pa.dla*s.gme)
		s.wlos = false
		s.wscat = false
		if s.wn < 0.838 || s.wn > 210 {
			s.kwx = max(s.kwx, ErrCodeNearLimits)
		}
		for j := 0; j < 2; j++ {
			if s.hg[j] < 1 || s.hg[j] > 1000 {
				s.kwx = max(s.kwx, ErrCodeNearLimits)
			}
		}
		for j := 0; j < 2; j++ {
			if math.Abs(s.the[j]) > 200e-3 || s.dl[j] < 0.1*s.pa.dls[j] || s.dl[j] > 3*s.pa.dls[j] {
				s.kwx = max(s.kwx, ErrCodeInconsistent)
			}
		}
		if s.ens < 250 || s.ens > 400 || s.gme < 75e-9 || s.gme > 250e-9 ||
			real(s.zgnd) <= math.Abs(imag(s.zgnd)) || s.wn < 0.419 || s.wn > 420 {
			s.kwx = ErrCodeOutOfRange
		}
		for j := 0; j < 2; j++ {
			if s.hg[j] < 0.5 || s.hg[j] > 3000 {
				s.kwx = ErrCodeOutOfRange
			}
		}
		s.dmin = math.Abs(s.he[0]-s.he[1]) / 200e-3
		s.adiff(0)
		s.xae = math.Pow(s.wn*s.gme*s.gme, -third)
		d3 := math.Max(s.pa.dlsa, 1.3787*s.xae+s.pa.dla)
		d4 := d3 + 2.7574*s.xae
		a3 := s.adiff(d3)
		a4 := s.adiff(d4)
		s.pa.emd = (a4 - a3) / (d4 - d3)
		s.pa.aed = a3 - s.pa.emd*d3
	}
	if s.mdp >= 0 {
		s.mdp = 0
		s.dist = d
	}
	if s.dist > 0 {
		if s.dist > 1000e3 {
			s.kwx = max(s.kwx, ErrCodeNearLimits)
		}
		if s.dist < s.dmin {
			s.kwx = max(s.kwx, ErrCodeInconsistent)
		}
		if s.dist < 1e3 || s.dist > 2000e3 {
			s.kwx = ErrCodeOutOfRange
		}
	}
	if s.dist < s.pa.dlsa {
		if !s.wlos {
			s.alos(0)
			d2 := s.pa.dlsa
			a2 := s.pa.aed + d2*s.pa.emd
			d0 := 1.908 * s.wn * s.he[0] * s.he[1]
			var d1 float64
			if s.pa.aed >= 0 {
				d0 = math.Min(d0, 0.5*s.pa.dla)
				d1 = d0 + 0.25*(s.pa.dla-d0)
			} else {
				d1 = math.Max(-s.pa.aed/s.pa.emd, 0.25*s.pa.dla)
			}
			a1 := s.alos(d1)
			if d0 < d1 {
				a0 := s.alos(d0)
				q := math.Log(d2 / d0)
				s.pa.ak2 = math.Max(0, ((d2-d0)*(a1-a0)-(d1-d0)*(a2-a0))/((d2-d0)*math.Log(d1/d0)-(d1-d0)*q))
				if s.pa.aed >= 0 || s.pa.ak2 > 0 {
					s.pa.ak1 = (a2 - a0 - s.pa.ak2*q) / (d2 - d0)
					if s.pa.ak1 < 0 {
						s.pa.ak1 = 0
						s.pa.ak2 = dim(a2, a0) / q
						if s.pa.ak2 == 0 {
							s.pa.ak1 = s.pa.emd
						}
					}
				} else {
					s.pa.ak2 = 0
					s.pa.ak1 = (a2 - a1) / (d2 - d1)
					if s.pa.ak1 <= 0 {
						s.pa.ak1 = s.pa.emd
					}
				}
			} else {
				s.pa.ak1 = (a2 - a1) / (d2 - d1)
				s.pa.ak2 = 0
				if s.pa.ak1 <= 0 {
					s.pa.ak1 = s.pa.emd
				}
			}
			s.pa.ael = a2 - s.pa.ak1*d2 - s.pa.ak2*math.Log(d2)
			s.wlos = true
		}
		if s.dist > 0 {
			s.aref = s.pa.ael + s.pa.ak1*s.dist + s.pa.ak2*math.Log(s.dist)
		}
	}
	if s.dist <= 0 || s.dist >= s.pa.dlsa {
		if !s.wscat {
			s.ascat(0)
			d5 := s.pa.dla + 200e3
			d6 := d5 + 200e3
			a6 := s.ascat(d6)
			a5 := s.ascat(d5)
			if a5 < 1000 {
				s.pa.ems = (a6 - a5) / 200e3
				s.pa.dx = math.Max(s.pa.dlsa, math.Max(s.pa.dla+0.3*s.xae*math.Log(47.7*s.wn),
					(a5-s.pa.aed-s.pa.ems*d5)/(s.pa.emd-s.pa.ems)))
				s.pa.aes = (s.pa.emd-s.pa.ems)*s.pa.dx + s.pa.aed
			} else {
				s.pa.ems = s.pa.emd
				s.pa.aes = s.pa.aed
				s.pa.dx = 10e6
			}
			s.wscat = true
		}
		if s.dist > s.pa.dx {
			s.aref = s.pa.aes + s.pa.ems*s.dist
		} else {
			s.aref = s.pa.aed + s.pa.emd*s.dist
		}
	}
	s.aref = math.Max(s.aref, 0)
}

func curve(c1, c2, x1, x2, x3, de float64) float64 {
	return (c1 + c2/(1+math.Pow((de-x2)/x3, 2))) * math.Pow(de/x1, 2) / (1 + math.Pow(de/x1, 2))
}

// Climate-dependent variability coefficients, indexed by climate-1.
var (
	bv1  = [7]float64{-9.67, -0.62, 1.26, -9.21, -0.62, -0.39, 3.15}
	bv2  = [7]float64{12.7, 9.19, 15.5, 9.05, 9.19, 2.86, 857.9}
	xv1  = [7]float64{144.9e3, 228.9e3, 262.6e3, 84.1e3, 228.9e3, 141.7e3, 2222.e3}
	xv2  = [7]float64{190.3e3, 205.2e3, 185.2e3, 101.1e3, 205.2e3, 315.9e3, 164.8e3}
	xv3  = [7]float64{133.8e3, 143.6e3, 99.8e3, 98.6e3, 143.6e3, 167.4e3, 116.3e3}
	bsm1 = [7]float64{2.13, 2.66, 6.11, 1.98, 2.68, 6.86, 8.51}
	bsm2 = [7]float64{159.5, 7.67, 6.65, 13.11, 7.16, 10.38, 169.8}
	xsm1 = [7]float64{762.2e3, 100.4e3, 138.2e3, 139.1e3, 93.7e3, 187.8e3, 609.8e3}
	xsm2 = [7]float64{123.6e3, 172.5e3, 242.2e3, 132.7e3, 186.8e3, 169.6e3, 119.9e3}
	xsm3 = [7]float64{94.5e3, 136.4e3, 178.6e3, 193.5e3, 133.5e3, 108.9e3, 106.6e3}
	bsp1 = [7]float64{2.11, 6.87, 10.08, 3.68, 4.75, 8.58, 8.43}
	bsp2 = [7]float64{102.3, 15.53, 9.60, 159.3, 8.12, 13.97, 8.19}
	xsp1 = [7]float64{636.9e3, 138.7e3, 165.3e3, 464.4e3, 93.2e3, 216.0e3, 136.2e3}
	xsp2 = [7]float64{134.8e3, 143.7e3, 225.7e3, 93.1e3, 135.9e3, 152.0e3, 188.5e3}
	xsp3 = [7]float64{95.6e3, 98.6e3, 129.7e3, 94.2e3, 113.4e3, 122.7e3, 122.9e3}
	bsd1 = [7]float64{1.224, 0.801, 1.380, 1.000, 1.224, 1.518, 1.518}
	bzd1 = [7]float64{1.282, 2.161, 1.282, 20., 1.282, 1.282, 1.282}
	bfm1 = [7]float64{1.0, 1.0, 1.0, 1.0, 0.92, 1.0, 1.0}
	bfm2 = [7]float64{0.0, 0.0, 0.0, 0.0, 0.25, 0.0, 0.0}
	bfm3 = [7]float64{0.0, 0.0, 0.0, 0.0, 1.77, 0.0, 0.0}
	bfp1 = [7]float64{1.0, 0.93, 1.0, 0.93, 0.93, 1.0, 1.0}
	bfp2 = [7]float64{0.0, 0.31, 0.0, 0.19, 0.31, 0.0, 0.0}
	bfp3 = [7]float64{0.0, 2.00, 0.0, 1.79, 2.00, 0.0, 0.0}
)

// avar returns the attenuation not exceeded with the given standard normal
// deviates of time, location and situation variability. The first call
// computes the distance-dependent coefficients; later calls reuse them.
func (s *state) avar(zzt, zzl, zzc float64) float64 {
	const rt, rl = 7.8, 24.0
	k := s.pv.klim - 1
	if s.pv.lvar > 0 {
		switch s.pv.lvar {
		default:
			if s.pv.klim <= 0 || s.pv.klim > 7 {
				s.pv.klim = 5
				k = 4
				s.kwx = max(s.kwx, ErrCodeDefaulted)
			}
			s.cv1, s.cv2 = bv1[k], bv2[k]
			s.yv1, s.yv2, s.yv3 = xv1[k], xv2[k], xv3[k]
			s.csm1, s.csm2 = bsm1[k], bsm2[k]
			s.ysm1, s.ysm2, s.ysm3 = xsm1[k], xsm2[k], xsm3[k]
			s.csp1, s.csp2 = bsp1[k], bsp2[k]
			s.ysp1, s.ysp2, s.ysp3 = xsp1[k], xsp2[k], xsp3[k]
			s.csd1 = bsd1[k]
			s.zd = bzd1[k]
			s.cfm1, s.cfm2, s.cfm3 = bfm1[k], bfm2[k], bfm3[k]
			s.cfp1, s.cfp2, s.cfp3 = bfp1[k], bfp2[k], bfp3[k]
			fallthrough
		case 4:
			s.kdv = s.pv.mdvar
			s.ws = s.kdv >= 20
			if s.ws {
				s.kdv -= 20
			}
			s.w1 = s.kdv >= 10
			if s.w1 {
				s.kdv -= 10
			}
			if s.kdv < 0 || s.kdv > 3 {
				s.kdv = 0
				s.kwx = max(s.kwx, ErrCodeDefaulted)
			}
			fallthrough
		case 3:
			q := math.Log(0.133 * s.wn)
			s.gm = s.cfm1 + s.cfm2/(math.Pow(s.cfm3*q, 2)+1)
			s.gp = s.cfp1 + s.cfp2/(math.Pow(s.cfp3*q, 2)+1)
			fallthrough
		case 2:
			s.dexa = math.Sqrt(18e6*s.he[0]) + math.Sqrt(18e6*s.he[1]) + math.Pow(575.7e12/s.wn, third)
			fallthrough
		case 1:
			if s.dist < s.dexa {
				s.de = 130e3 * s.dist / s.dexa
			} else {
				s.de = 130e3 + s.dist - s.dexa
			}
		}
		s.vmd = curve(s.cv1, s.cv2, s.yv1, s.yv2, s.yv3, s.de)
		s.sgtm = curve(s.csm1, s.csm2, s.ysm1, s.ysm2, s.ysm3, s.de) * s.gm
		s.sgtp = curve(s.csp1, s.csp2, s.ysp1, s.ysp2, s.ysp3, s.de) * s.gp
		s.sgtd = s.sgtp * s.csd1
		s.tgtd = (s.sgtp - s.sgtd) * s.zd
		if s.w1 {
			s.sgl = 0
		} else {
			q := (1 - 0.8*math.Exp(-s.dist/50e3)) * s.dh * s.wn
			s.sgl = 10 * q / (q + 13)
		}
		if s.ws {
			s.vs0 = 0
		} else {
			s.vs0 = math.Pow(5+3*math.Exp(-s.de/100e3), 2)
		}
		s.pv.lvar = 0
	}

	zt, zl, zc := zzt, zzl, zzc
	switch s.kdv {
	case 0:
		zt = zc
		zl = zc
	case 1:
		zl = zc
	case 2:
		zl = zt
	}
	if math.Abs(zt) > 3.1 || math.Abs(zl) > 3.1 || math.Abs(zc) > 3.1 {
		s.kwx = max(s.kwx, ErrCodeNearLimits)
	}
	var sgt float64
	switch {
	case zt < 0:
		sgt = s.sgtm
	case zt <= s.zd:
		sgt = s.sgtp
	default:
		sgt = s.sgtd + s.tgtd/zt
	}
	vs := s.vs0 + math.Pow(sgt*zt, 2)/(rt+zc*zc) + math.Pow(s.sgl*zl, 2)/(rl+zc*zc)
	var yr float64
	switch s.kdv {
	case 0:
		yr = 0
		s.pv.sgc = math.Sqrt(sgt*sgt + s.sgl*s.sgl + vs)
	case 1:
		yr = sgt * zt
		s.pv.sgc = math.Sqrt(s.sgl*s.sgl + vs)
	case 2:
		yr = math.Sqrt(sgt*sgt+s.sgl*s.sgl) * zt
		s.pv.sgc = math.Sqrt(vs)
	default:
		yr = sgt*zt + s.sgl*zl
		s.pv.sgc = math.Sqrt(vs)
	}
	v := s.aref - s.vmd - yr - s.pv.sgc*zc
	if v < 0 {
		v = v * (29 - v) / (29 - 10*v)
	}
	return v
}

// hzns finds the radio horizons of both terminals along the profile.
func (s *state) hzns(pfl []float64) {
	np := int(pfl[0])
	xi := pfl[1]
	za := pfl[2] + s.hg[0]
	zb := pfl[np+2] + s.hg[1]
	qc := 0.5 * s.gme
	q := qc * s.dist
	s.the[1] = (zb - za) / s.dist
	s.the[0] = s.the[1] - q
	s.the[1] = -s.the[1] - q
	s.dl[0] = s.dist
	s.dl[1] = s.dist
	if np < 2 {
		return
	}
	sa := 0.0
	sb := s.dist
	wq := true
	for i := 1; i < np; i++ {
		sa += xi
		sb -= xi
		q = pfl[i+2] - (qc*sa+s.the[0])*sa - za
		if q > 0 {
			s.the[0] += q / sa
			s.dl[0] = sa
			wq = false
		}
		if !wq {
			q = pfl[i+2] - (qc*sb+s.the[1])*sb - zb
			if q > 0 {
				s.the[1] += q / sb
				s.dl[1] = sb
			}
		}
	}
}

// z1sq1 fits a least-squares line to the profile between x1 and x2 and
// returns its heights at the two profile ends.
func z1sq1(z []float64, x1, x2 float64) (z0, zn float64) {
	xn := z[0]
	xa := float64(int(dim(x1/z[1], 0)))
	xb := xn - float64(int(dim(xn, x2/z[1])))
	if xb <= xa {
		xa = dim(xa, 1)
		xb = xn - dim(xn, xb+1)
	}
	ja := int(xa)
	jb := int(xb)
	n := jb - ja
	xa = xb - xa
	x := -0.5 * xa
	xb += x
	a := 0.5 * (z[ja+2] + z[jb+2])
	b := 0.5 * (z[ja+2] - z[jb+2]) * x
	for i := 2; i <= n; i++ {
		ja++
		x++
		a += z[ja+2]
		b += z[ja+2] * x
	}
	a /= xa
	b = b * 12 / ((xa*xa + 2) * xa)
	return a - b*xb, a + b*(xn-xb)
}

// qtile returns the (ir+1)-th largest of a.
func qtile(a []float64, ir int) float64 {
	ir = min(max(0, ir), len(a)-1)
	sorted := append([]float64(nil), a...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	return sorted[ir]
}

// d1thx is the interdecile range of the terrain heights between x1 and x2
// after removing a linear fit.
func d1thx(pfl []float64, x1, x2 float64) float64 {
	np := int(pfl[0])
	xa := x1 / pfl[1]
	xb := x2 / pfl[1]
	if xb-xa < 2 {
		return 0
	}
	ka := int(0.1 * (xb - xa + 8))
	ka = min(max(4, ka), 25)
	n := 10*ka - 5
	kb := n - ka + 1
	sn := float64(n - 1)
	sp := make([]float64, n+2)
	sp[0] = sn
	sp[1] = 1
	xb = (xb - xa) / sn
	k := int(xa + 1)
	xa -= float64(k)
	for j := 0; j < n; j++ {
		for xa > 0 && k < np {
			xa--
			k++
		}
		sp[j+2] = pfl[k+2] + (pfl[k+2]-pfl[k+1])*xa
		xa += xb
	}
	xa, xb = z1sq1(sp, 0, sn)
	xb = (xb - xa) / sn
	for j := 0; j < n; j++ {
		sp[j+2] -= xa
		xa += xb
	}
	v := qtile(sp[2:], ka-1) - qtile(sp[2:], kb-1)
	return v / (1 - 0.8*math.Exp(-(x2-x1)/50e3))
}

// qlrpfl prepares the path parameters from the profile.
func (s *state) qlrpfl(pfl []float64, klimx, mdvarx int) {
	s.dist = pfl[0] * pfl[1]
	np := int(pfl[0])
	s.hzns(pfl)
	var xl [2]float64
	for j := 0; j < 2; j++ {
		xl[j] = math.Min(15*s.hg[j], 0.1*s.dl[j])
	}
	xl[1] = s.dist - xl[1]
	s.dh = d1thx(pfl, xl[0], xl[1])
	if s.dl[0]+s.dl[1] > 1.5*s.dist {
		za, zb := z1sq1(pfl, xl[0], xl[1])
		s.he[0] = s.hg[0] + dim(pfl[2], za)
		s.he[1] = s.hg[1] + dim(pfl[np+2], zb)
		for j := 0; j < 2; j++ {
			s.dl[j] = math.Sqrt(2*s.he[j]/s.gme) * math.Exp(-0.07*math.Sqrt(s.dh/math.Max(s.he[j], 5)))
		}
		q := s.dl[0] + s.dl[1]
		if q <= s.dist {
			q = math.Pow(s.dist/q, 2)
			for j := 0; j < 2; j++ {
				s.he[j] *= q
				s.dl[j] = math.Sqrt(2*s.he[j]/s.gme) * math.Exp(-0.07*math.Sqrt(s.dh/math.Max(s.he[j], 5)))
			}
		}
		for j := 0; j < 2; j++ {
			q = math.Sqrt(2 * s.he[j] / s.gme)
			s.the[j] = (0.65*s.dh*(q/s.dl[j]-1) - 2*s.he[j]) / q
		}
	} else {
		za, _ := z1sq1(pfl, xl[0], 0.9*s.dl[0])
		_, zb := z1sq1(pfl, s.dist-0.9*s.dl[1], xl[1])
		s.he[0] = s.hg[0] + dim(pfl[2], za)
		s.he[1] = s.hg[1] + dim(pfl[np+2], zb)
	}
	s.mdp = -1
	s.pv.lvar = max(s.pv.lvar, 3)
	if mdvarx >= 0 {
		s.pv.mdvar = mdvarx
		s.pv.lvar = max(s.pv.lvar, 4)
	}
	if klimx > 0 {
		s.pv.klim = klimx
		s.pv.lvar = 5
	}
	s.lrprop(0)
}

// PointToPoint evaluates the path loss over the terrain profile pfl, laid
// out as [N, step_m, h0, ..., hN], between a transmitter and a receiver at
// the given heights above ground. One loss is returned per reliability.
func PointToPoint(pfl []float64, txHeightM, rxHeightM float64, p Params, reliabilities []float64) (Result, error) {
	if len(pfl) < 4 {
		return Result{}, fmt.Errorf("%w: %d values", ErrBadProfile, len(pfl))
	}
	np := int(pfl[0])
	if np < 1 || len(pfl) != np+3 {
		return Result{}, fmt.Errorf("%w: header says %d intervals, have %d heights", ErrBadProfile, np, len(pfl)-2)
	}
	if !(pfl[1] > 0) {
		return Result{}, fmt.Errorf("%w: step %v", ErrBadProfile, pfl[1])
	}

	s := &state{}
	s.hg = [2]float64{txHeightM, rxHeightM}
	s.pv.klim = p.Climate
	s.kwx = 0
	s.pv.lvar = 5
	s.mdp = -1
	zc := qerfi(p.Confidence)

	// Average terrain over the central portion of the path lowers the
	// effective refractivity. The summation window starts at index ja-1 of
	// the raw profile array, header included.
	zsys := 0.0
	ja := int(3 + 0.1*pfl[0])
	jb := np - ja + 6
	for i := ja - 1; i < jb; i++ {
		zsys += pfl[i]
	}
	zsys /= float64(jb - ja + 1)

	s.pv.mdvar = p.MdVar
	s.qlrps(p.FrequencyMHz, zsys, p.Refractivity, p.Polarization, p.DielectricConst, p.Conductivity)
	horizon := state{}
	horizon.hg, horizon.gme, horizon.dist = s.hg, s.gme, pfl[0]*pfl[1]
	horizon.hzns(pfl)

	s.qlrpfl(pfl, s.pv.klim, s.pv.mdvar)

	fs := 32.45 + 20*math.Log10(p.FrequencyMHz) + 20*math.Log10(s.dist/1000)

	res := Result{
		Mode:              modeString(s),
		DistanceM:         s.dist,
		DeltaH:            s.dh,
		EffectiveHeightsM: s.he,
		HorizonDistM:      s.dl,
		HorizonAngleRad:   horizon.the,
		FreeSpaceLossDB:   fs,
		ReferenceAttenDB:  s.aref,
		LossDB:            make([]float64, len(reliabilities)),
	}
	for i, rel := range reliabilities {
		res.LossDB[i] = s.avar(qerfi(rel), 0, zc) + fs
	}
	res.ErrCode = s.kwx
	return res, nil
}

// modeString names the propagation mode. The horizon test truncates the
// distance beyond the horizons to whole metres.
func modeString(s *state) string {
	q := int(s.dist - s.pa.dla)
	if q < 0 {
		return "Line-Of-Sight Mode"
	}
	mode := "Double Horizon"
	if q == 0 {
		mode = "Single Horizon"
	}
	if s.dist <= s.pa.dlsa || s.dist <= s.pa.dx {
		return mode + ", Diffraction Dominant"
	}
	return mode + ", Troposcatter Dominant"
}
