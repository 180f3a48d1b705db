// Package geodata provides the terrain, land cover, climate and refractivity
// drivers consumed by the propagation models.
package geodata

import (
	"errors"
	"fmt"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/logging"
)

// ErrMissingGeoData is returned when a configured data directory or a
// mandatory grid file is absent.
var ErrMissingGeoData = errors.New("missing geo data")

// Config locates the geo data. Empty directories select the built-in
// fallbacks: flat sea-level terrain, unknown land cover and fixed ITU values.
type Config struct {
	TerrainDir       string `yaml:"terrain_dir"`
	LandCoverDir     string `yaml:"nlcd_dir"`
	ItuDir           string `yaml:"itu_dir"`
	TerrainCacheSize int    `yaml:"terrain_cache_size"`
	NlcdCacheSize    int    `yaml:"nlcd_cache_size"`
}

// Drivers bundles one instance of every driver. A bundle is not shared
// between workers.
type Drivers struct {
	Terrain      *TerrainDriver
	LandCover    *LandCoverDriver
	Climate      *ClimateDriver
	Refractivity *RefractivityDriver
}

// NewDrivers opens every driver described by cfg.
func NewDrivers(cfg Config, logger logging.Logger) (*Drivers, error) {
	terrain, err := NewTerrainDriver(cfg.TerrainDir, cfg.TerrainCacheSize, logger)
	if err != nil {
		return nil, err
	}
	landCover, err := NewLandCoverDriver(cfg.LandCoverDir, cfg.NlcdCacheSize, logger)
	if err != nil {
		return nil, err
	}
	climate, err := NewClimateDriver(cfg.ItuDir)
	if err != nil {
		return nil, fmt.Errorf("climate driver: %w", err)
	}
	refractivity, err := NewRefractivityDriver(cfg.ItuDir)
	if err != nil {
		return nil, fmt.Errorf("refractivity driver: %w", err)
	}
	return &Drivers{
		Terrain:      terrain,
		LandCover:    landCover,
		Climate:      climate,
		Refractivity: refractivity,
	}, nil
}

// Stats returns the tile cache state of the terrain and land cover drivers.
func (d *Drivers) Stats() []TileStats {
	return []TileStats{d.Terrain.Stats(), d.LandCover.Stats()}
}

// ResetStats clears the swap counters of every cache.
func (d *Drivers) ResetStats() {
	d.Terrain.ResetStats()
	d.LandCover.ResetStats()
}

// Close drops every cached tile.
func (d *Drivers) Close() {
	d.Terrain.tiles.purge()
	d.LandCover.tiles.purge()
}
