// Package synth generates random CBSD deployments around a protected site
// for aggregate interference runs.
package synth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geo"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geodata"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
)

// ErrNoLand is returned when no land location could be drawn in the disk.
var ErrNoLand = errors.New("no land location in deployment disk")

// MinHeightM is the lowest antenna height of a synthesized device.
const MinHeightM = 1.0

// DefaultMaxPlacementAttempts bounds the rejection sampling of one location.
const DefaultMaxPlacementAttempts = 1000

// Options configure one synthesis.
type Options struct {
	Kind      Kind
	CenterLat float64
	CenterLon float64
	RadiusKm  float64
	// Population sizes the access point deployment. User equipments scale it
	// by the region's UEs per access point.
	Population PopulationRetriever
	// Ratios override the region class mix of access points.
	Ratios *Ratios
	// Region forces the region of every device instead of the land cover
	// vote at its location.
	Region *model.RegionType
	// Channel is the frequency segment of every synthesized grant.
	Channel              model.FrequencyRange
	MaxPlacementAttempts int
}

// Cbsd is one synthesized device.
type Cbsd struct {
	Grant  model.Grant
	Class  Class
	Region model.RegionType
}

// Synthesize draws a deployment. All samples come from rng, so a run is
// reproduced by reseeding it. A nil land cover driver accepts every
// location.
func Synthesize(ctx context.Context, lc *geodata.LandCoverDriver, opts Options, rng *rand.Rand) ([]Cbsd, error) {
	if opts.RadiusKm <= 0 {
		return nil, fmt.Errorf("deployment radius %g km must be positive", opts.RadiusKm)
	}
	if opts.Population == nil {
		return nil, fmt.Errorf("deployment without population retriever")
	}
	if opts.Ratios != nil {
		if err := opts.Ratios.validate(); err != nil {
			return nil, err
		}
	}
	attempts := opts.MaxPlacementAttempts
	if attempts <= 0 {
		attempts = DefaultMaxPlacementAttempts
	}
	n, err := opts.Population.Population(ctx, opts.CenterLat, opts.CenterLon, opts.RadiusKm)
	if err != nil {
		return nil, fmt.Errorf("population: %w", err)
	}
	if opts.Kind == UserEquipment {
		centerRegion := regionAt(lc, opts.Region, opts.CenterLat, opts.CenterLon)
		p, err := profileFor(centerRegion)
		if err != nil {
			return nil, err
		}
		n = int(math.Round(float64(n) * p.ueDensity))
	}

	out := make([]Cbsd, 0, n)
	for i := 0; i < n; i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		lat, lon, err := placeOnLand(lc, opts, attempts, rng)
		if err != nil {
			return nil, err
		}
		region := regionAt(lc, opts.Region, lat, lon)
		c, err := draw(opts, region, lat, lon, rng)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// placeOnLand draws a location uniformly on the disk, rejecting water and
// perennial snow pixels.
func placeOnLand(lc *geodata.LandCoverDriver, opts Options, attempts int, rng *rand.Rand) (lat, lon float64, err error) {
	for range attempts {
		r := opts.RadiusKm * math.Sqrt(rng.Float64())
		bearing := 360 * rng.Float64()
		lat, lon, _ = geo.GeodesicPoint(opts.CenterLat, opts.CenterLon, r, bearing)
		if lc == nil {
			return lat, lon, nil
		}
		code, err := lc.GetLandCoverCode(lat, lon)
		if err != nil {
			return 0, 0, err
		}
		if isLand(code) {
			return lat, lon, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: %d attempts around (%g, %g)", ErrNoLand, attempts, opts.CenterLat, opts.CenterLon)
}

// isLand accepts codes above perennial snow, and out-of-coverage pixels.
func isLand(code int) bool {
	return code == geodata.NlcdUnknown || code > geodata.NlcdPerennialSnow
}

func regionAt(lc *geodata.LandCoverDriver, forced *model.RegionType, lat, lon float64) model.RegionType {
	switch {
	case forced != nil:
		return *forced
	case lc == nil:
		return model.RegionRural
	default:
		return lc.RegionAt(lat, lon)
	}
}

func draw(opts Options, region model.RegionType, lat, lon float64, rng *rand.Rand) (Cbsd, error) {
	p, err := profileFor(region)
	if err != nil {
		return Cbsd{}, err
	}
	var (
		class  Class
		height float64
		eirp   float64
		indoor bool
	)
	switch opts.Kind {
	case AccessPoint:
		ratios := p.ratios
		if opts.Ratios != nil {
			ratios = *opts.Ratios
		}
		class = Class(distuv.NewCategorical(ratios.weights(), rng).Rand())
		height = p.apHeight[class].draw(rng)
		eirp = p.apEirp[class].draw(rng)
		indoor = class == ClassAIndoor
	case UserEquipment:
		class = ClassAOutdoor
		height = p.ueHeight.draw(rng)
		eirp = p.ueEirp.draw(rng)
		indoor = rng.Float64() < p.ueIndoor
		if indoor {
			class = ClassAIndoor
		}
	default:
		return Cbsd{}, fmt.Errorf("unknown device kind %v", opts.Kind)
	}
	ant := antennaFor(opts.Kind, class)
	return Cbsd{
		Grant: model.Grant{
			Latitude:            lat,
			Longitude:           lon,
			HeightM:             math.Max(height, MinHeightM),
			Indoor:              indoor,
			AntennaAzimuthDeg:   360 * rng.Float64(),
			AntennaBeamwidthDeg: ant.beamwidthDeg,
			AntennaGainDBi:      ant.gainDBi,
			Category:            class.Category(),
			MaxEirpDBmPerMHz:    eirp - 10,
			LowFrequencyHz:      opts.Channel.LowHz,
			HighFrequencyHz:     opts.Channel.HighHz,
			Managed:             true,
		},
		Class:  class,
		Region: region,
	}, nil
}
