package synth

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/jszwec/csvutil"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geo"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
)

// PopulationRetriever returns the number of access points deployed in a
// disk.
type PopulationRetriever interface {
	Population(ctx context.Context, lat, lon, radiusKm float64) (int, error)
}

// FixedPopulation overrides the population with a constant.
type FixedPopulation int

// Population returns the fixed count.
func (n FixedPopulation) Population(context.Context, float64, float64, float64) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("fixed population %d is negative", int(n))
	}
	return int(n), nil
}

// DensityModel derives the population from the access point density of a
// region type over the disk area.
type DensityModel struct {
	Region model.RegionType
}

// Population returns round(density * pi * r^2).
func (m DensityModel) Population(_ context.Context, _, _, radiusKm float64) (int, error) {
	p, err := profileFor(m.Region)
	if err != nil {
		return 0, err
	}
	return int(math.Round(p.apDensity * math.Pi * radiusKm * radiusKm)), nil
}

// CensusTract is one row of a census population table.
type CensusTract struct {
	Latitude   float64 `csv:"latitude"`
	Longitude  float64 `csv:"longitude"`
	Population int     `csv:"population"`
}

// Census derives the population from tract head counts: every tract whose
// centroid lies in the disk contributes APsPerCapita access points per
// resident.
type Census struct {
	Tracts       []CensusTract
	APsPerCapita float64
}

// DefaultAPsPerCapita is the access point deployment rate of a census model.
const DefaultAPsPerCapita = 0.002

// LoadCensus reads a latitude,longitude,population CSV table.
func LoadCensus(path string) (*Census, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read census table: %w", err)
	}
	var tracts []CensusTract
	if err := csvutil.Unmarshal(data, &tracts); err != nil {
		return nil, fmt.Errorf("parse census table %q: %w", path, err)
	}
	return &Census{Tracts: tracts, APsPerCapita: DefaultAPsPerCapita}, nil
}

// Population sums the head count of the tracts inside the disk.
func (c *Census) Population(ctx context.Context, lat, lon, radiusKm float64) (int, error) {
	total := 0
	for i, t := range c.Tracts {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		d, _, _ := geo.GeodesicDistanceBearing(lat, lon, t.Latitude, t.Longitude)
		if d <= radiusKm {
			total += t.Population
		}
	}
	return int(math.Round(float64(total) * c.APsPerCapita)), nil
}
