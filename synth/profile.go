package synth

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
)

// Kind selects the device population of a run.
type Kind int

const (
	AccessPoint Kind = iota
	UserEquipment
)

func (k Kind) String() string {
	switch k {
	case AccessPoint:
		return "AP"
	case UserEquipment:
		return "UE"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Class is the deployment class of one synthesized device.
type Class int

const (
	ClassAIndoor Class = iota
	ClassAOutdoor
	ClassB
)

func (c Class) String() string {
	switch c {
	case ClassAIndoor:
		return "A_indoor"
	case ClassAOutdoor:
		return "A_outdoor"
	case ClassB:
		return "B"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Category returns the CBSD category of the class.
func (c Class) Category() model.Category {
	if c == ClassB {
		return model.CategoryB
	}
	return model.CategoryA
}

// Ratios weight the deployment classes of access points. They need not sum
// to one.
type Ratios struct {
	AIndoor  float64 `yaml:"a_indoor"`
	AOutdoor float64 `yaml:"a_outdoor"`
	B        float64 `yaml:"b"`
}

func (r Ratios) validate() error {
	if r.AIndoor < 0 || r.AOutdoor < 0 || r.B < 0 {
		return fmt.Errorf("class ratios %+v: negative weight", r)
	}
	if r.AIndoor+r.AOutdoor+r.B == 0 {
		return fmt.Errorf("class ratios %+v: all zero", r)
	}
	return nil
}

func (r Ratios) weights() []float64 { return []float64{r.AIndoor, r.AOutdoor, r.B} }

// layer is one step of a layered distribution: with probability weight the
// value is drawn uniformly in [lo, hi].
type layer struct {
	weight, lo, hi float64
}

type layered []layer

func (l layered) draw(rng *rand.Rand) float64 {
	w := make([]float64, len(l))
	for i, s := range l {
		w[i] = s.weight
	}
	s := l[int(distuv.NewCategorical(w, rng).Rand())]
	if s.hi <= s.lo {
		return s.lo
	}
	return distuv.Uniform{Min: s.lo, Max: s.hi, Src: rng}.Rand()
}

// antennaSpec is the antenna fitted to a class.
type antennaSpec struct {
	beamwidthDeg float64
	gainDBi      float64
}

// regionProfile holds every per-region distribution of the synthesis.
type regionProfile struct {
	ratios    Ratios
	ueIndoor  float64
	apHeight  [3]layered // indexed by Class
	apEirp    [3]layered // dBm per 10 MHz, indexed by Class
	ueHeight  layered
	ueEirp    layered
	apDensity float64 // access points per km2
	ueDensity float64 // user equipments per access point
}

var (
	antennaCatA = antennaSpec{beamwidthDeg: 360, gainDBi: 6}
	antennaCatB = antennaSpec{beamwidthDeg: 65, gainDBi: 14}
	antennaUE   = antennaSpec{beamwidthDeg: 360, gainDBi: 0}
)

func antennaFor(kind Kind, c Class) antennaSpec {
	switch {
	case kind == UserEquipment:
		return antennaUE
	case c == ClassB:
		return antennaCatB
	default:
		return antennaCatA
	}
}

var ueEirp = layered{{weight: 1, lo: 24, hi: 24}}

// profileFor returns the distributions of region.
func profileFor(region model.RegionType) (regionProfile, error) {
	switch region {
	case model.RegionRural:
		return regionProfile{
			ratios:   Ratios{AIndoor: 0.6, AOutdoor: 0.2, B: 0.2},
			ueIndoor: 0.5,
			apHeight: [3]layered{
				{{0.8, 3, 3}, {0.2, 6, 6}},
				{{1, 6, 6}},
				{{1, 6, 100}},
			},
			apEirp: [3]layered{
				{{0.2, 26, 26}, {0.8, 30, 30}},
				{{0.2, 26, 26}, {0.8, 30, 30}},
				{{1, 47, 47}},
			},
			ueHeight:  layered{{1, 1.5, 1.5}},
			ueEirp:    ueEirp,
			apDensity: 0.2,
			ueDensity: 3,
		}, nil
	case model.RegionSuburban:
		return regionProfile{
			ratios:   Ratios{AIndoor: 0.7, AOutdoor: 0.2, B: 0.1},
			ueIndoor: 0.7,
			apHeight: [3]layered{
				{{0.7, 3, 3}, {0.3, 6, 12}},
				{{1, 6, 6}},
				{{1, 6, 100}},
			},
			apEirp: [3]layered{
				{{0.3, 26, 26}, {0.7, 30, 30}},
				{{0.3, 26, 26}, {0.7, 30, 30}},
				{{0.4, 40, 40}, {0.6, 47, 47}},
			},
			ueHeight:  layered{{1, 1.5, 1.5}},
			ueEirp:    ueEirp,
			apDensity: 2,
			ueDensity: 3,
		}, nil
	case model.RegionUrban:
		return regionProfile{
			ratios:   Ratios{AIndoor: 0.8, AOutdoor: 0.15, B: 0.05},
			ueIndoor: 0.8,
			apHeight: [3]layered{
				{{0.5, 3, 3}, {0.25, 6, 18}, {0.25, 18, 30}},
				{{1, 6, 6}},
				{{1, 6, 30}},
			},
			apEirp: [3]layered{
				{{0.5, 26, 26}, {0.5, 30, 30}},
				{{0.5, 26, 26}, {0.5, 30, 30}},
				{{0.6, 40, 40}, {0.4, 47, 47}},
			},
			ueHeight:  layered{{0.7, 1.5, 1.5}, {0.3, 1.5, 15}},
			ueEirp:    ueEirp,
			apDensity: 8,
			ueDensity: 3,
		}, nil
	case model.RegionDenseUrban:
		return regionProfile{
			ratios:   Ratios{AIndoor: 0.85, AOutdoor: 0.1, B: 0.05},
			ueIndoor: 0.85,
			apHeight: [3]layered{
				{{0.5, 3, 3}, {0.25, 6, 18}, {0.25, 18, 60}},
				{{1, 6, 6}},
				{{1, 6, 30}},
			},
			apEirp: [3]layered{
				{{0.6, 24, 24}, {0.4, 30, 30}},
				{{0.6, 24, 24}, {0.4, 30, 30}},
				{{0.7, 40, 40}, {0.3, 47, 47}},
			},
			ueHeight:  layered{{0.6, 1.5, 1.5}, {0.4, 1.5, 30}},
			ueEirp:    ueEirp,
			apDensity: 20,
			ueDensity: 3,
		}, nil
	default:
		return regionProfile{}, fmt.Errorf("no deployment profile for region %v", region)
	}
}
