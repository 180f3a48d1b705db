package geodata

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

// ITU global grids sampled every 0.75 degree: rows from +90 to -90 latitude,
// columns from 0 to 360 longitude.
const (
	ituGridStepDeg = 0.75
	ituGridRows    = 241
	ituGridCols    = 481

	ClimateFileName      = "TropoClim.txt"
	RefractivityFileName = "N050.TXT"
)

// Values used when no ITU data directory is configured.
const (
	DefaultClimate      = 5 // continental temperate
	DefaultRefractivity = 314.0
)

// Radio climate zones (ITU-R P.617).
const (
	ClimateEquatorial            = 1
	ClimateContinentalSubtropic  = 2
	ClimateMaritimeSubtropical   = 3
	ClimateDesert                = 4
	ClimateContinentalTemperate  = 5
	ClimateMaritimeTemperateLand = 6
	ClimateMaritimeTemperateSea  = 7
)

type ituGrid struct {
	values []float64
}

func loadItuGrid(path string) (*ituGrid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingGeoData, err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Split(bufio.ScanWords)
	values := make([]float64, 0, ituGridRows*ituGridCols)
	for sc.Scan() {
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		values = append(values, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(values) != ituGridRows*ituGridCols {
		return nil, fmt.Errorf("%s: %d values, want %d", path, len(values), ituGridRows*ituGridCols)
	}
	return &ituGrid{values: values}, nil
}

func (g *ituGrid) at(row, col int) float64 {
	return g.values[row*ituGridCols+col]
}

// position returns fractional grid coordinates of (lat, lon).
func (g *ituGrid) position(lat, lon float64) (row, col float64) {
	lon = math.Mod(lon, 360)
	if lon < 0 {
		lon += 360
	}
	lat = math.Max(-90, math.Min(90, lat))
	return (90 - lat) / ituGridStepDeg, lon / ituGridStepDeg
}

func (g *ituGrid) nearest(lat, lon float64) float64 {
	row, col := g.position(lat, lon)
	return g.at(clampIndex(int(math.Floor(row+0.5)), ituGridRows-1), clampIndex(int(math.Floor(col+0.5)), ituGridCols-1))
}

func (g *ituGrid) bilinear(lat, lon float64) float64 {
	row, col := g.position(lat, lon)
	r0 := clampIndex(int(math.Floor(row)), ituGridRows-2)
	c0 := clampIndex(int(math.Floor(col)), ituGridCols-2)
	dr := row - float64(r0)
	dc := col - float64(c0)
	top := g.at(r0, c0)*(1-dc) + g.at(r0, c0+1)*dc
	bottom := g.at(r0+1, c0)*(1-dc) + g.at(r0+1, c0+1)*dc
	return top*(1-dr) + bottom*dr
}

// ClimateDriver returns ITU-R P.617 radio climate zones.
type ClimateDriver struct {
	grid *ituGrid
}

// NewClimateDriver loads ClimateFileName from dir. An empty dir selects the
// fixed DefaultClimate.
func NewClimateDriver(dir string) (*ClimateDriver, error) {
	if dir == "" {
		return &ClimateDriver{}, nil
	}
	g, err := loadItuGrid(filepath.Join(dir, ClimateFileName))
	if err != nil {
		return nil, err
	}
	return &ClimateDriver{grid: g}, nil
}

// Climate returns the climate zone at (lat, lon).
func (d *ClimateDriver) Climate(lat, lon float64) int {
	if d.grid == nil {
		return DefaultClimate
	}
	return int(math.Round(d.grid.nearest(lat, lon)))
}

// PathClimate returns the climate for a path, sampled at its midpoint. A
// maritime sea midpoint resolves to the smaller endpoint code.
func (d *ClimateDriver) PathClimate(lat1, lon1, lat2, lon2 float64) int {
	c := d.Climate((lat1+lat2)/2, (lon1+lon2)/2)
	if c == ClimateMaritimeTemperateSea {
		c = min(d.Climate(lat1, lon1), d.Climate(lat2, lon2))
	}
	return c
}

// RefractivityDriver returns the surface refractivity in N-units.
type RefractivityDriver struct {
	grid *ituGrid
}

// NewRefractivityDriver loads RefractivityFileName from dir. An empty dir
// selects the fixed DefaultRefractivity.
func NewRefractivityDriver(dir string) (*RefractivityDriver, error) {
	if dir == "" {
		return &RefractivityDriver{}, nil
	}
	g, err := loadItuGrid(filepath.Join(dir, RefractivityFileName))
	if err != nil {
		return nil, err
	}
	return &RefractivityDriver{grid: g}, nil
}

// Refractivity returns the bilinearly interpolated refractivity at (lat, lon).
func (d *RefractivityDriver) Refractivity(lat, lon float64) float64 {
	if d.grid == nil {
		return DefaultRefractivity
	}
	return d.grid.bilinear(lat, lon)
}
