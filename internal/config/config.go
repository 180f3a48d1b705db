// Package config loads the simulator configuration from YAML with
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/aggregate"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/dpa"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geodata"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/logging"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/observability"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/pool"
)

// DefaultCacheSize is the tile count kept per driver and worker.
const DefaultCacheSize = 8

// Config is the full simulator configuration.
type Config struct {
	Geodata    geodata.Config              `yaml:"geodata"`
	Pool       PoolConfig                  `yaml:"pool"`
	Simulation SimulationConfig            `yaml:"simulation"`
	Logging    logging.Config              `yaml:"logging"`
	Metrics    MetricsConfig               `yaml:"metrics"`
	Tracing    observability.TracingConfig `yaml:"tracing"`
}

// PoolConfig sizes the worker pool: -1 for half the CPUs, -2 for all but
// one, or a positive count.
type PoolConfig struct {
	NumWorkers int `yaml:"num_workers"`
}

// SimulationConfig holds the Monte-Carlo settings.
type SimulationConfig struct {
	Seed                int64   `yaml:"seed"`
	MoveListIterations  int     `yaml:"movelist_iterations"`
	AggregateIterations int     `yaml:"aggregate_iterations"`
	Hybrid              bool    `yaml:"hybrid"`
	AddClutter          bool    `yaml:"add_clutter"`
	Mode                string  `yaml:"mode"`
	PointsMethod        string  `yaml:"points_method"`
	MarginDB            float64 `yaml:"margin_db"`
	// PortalDpaFile is an optional KML or GeoJSON file of portal DPAs.
	PortalDpaFile string `yaml:"portal_dpa_file"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Geodata: geodata.Config{
			TerrainCacheSize: DefaultCacheSize,
			NlcdCacheSize:    DefaultCacheSize,
		},
		Pool: PoolConfig{NumWorkers: pool.HalfCPUs},
		Simulation: SimulationConfig{
			MoveListIterations:  dpa.DefaultNumIter,
			AggregateIterations: aggregate.DefaultNumIter,
			Mode:                aggregate.ModeNTIA.String(),
			PointsMethod:        dpa.DefaultPointsMethod,
		},
		Logging: logging.Config{Level: "info", Format: "text"},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Load reads path over the defaults, applies the environment and validates
// the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	cfg, err := ApplyEnv(cfg)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode rejects unknown keys so typos do not silently fall back to
// defaults.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overlays DPASIM_SEED, DPASIM_NUM_WORKERS, the logging variables
// and the tracing variables onto cfg.
func ApplyEnv(cfg Config) (Config, error) {
	if v := os.Getenv("DPASIM_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("DPASIM_SEED: %w", err)
		}
		cfg.Simulation.Seed = seed
	}
	if v := os.Getenv("DPASIM_NUM_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("DPASIM_NUM_WORKERS: %w", err)
		}
		cfg.Pool.NumWorkers = n
	}
	cfg.Logging = logging.ConfigFromEnv(cfg.Logging)
	cfg.Tracing = observability.ApplyTracingEnv(cfg.Tracing)
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Geodata.TerrainCacheSize < 0 || c.Geodata.NlcdCacheSize < 0 {
		errs = append(errs, fmt.Errorf("geodata: negative cache size"))
	}
	if n := c.Pool.NumWorkers; n == 0 || n < pool.AllButOneCPU {
		errs = append(errs, fmt.Errorf("pool.num_workers %d: want -1, -2 or a positive count", n))
	}
	if c.Simulation.MoveListIterations <= 0 {
		errs = append(errs, fmt.Errorf("simulation.movelist_iterations must be positive"))
	}
	if c.Simulation.AggregateIterations <= 0 {
		errs = append(errs, fmt.Errorf("simulation.aggregate_iterations must be positive"))
	}
	if c.Simulation.MarginDB < 0 {
		errs = append(errs, fmt.Errorf("simulation.margin_db must not be negative"))
	}
	if _, err := aggregate.ParseMode(c.Simulation.Mode); err != nil {
		errs = append(errs, fmt.Errorf("simulation.mode: %w", err))
	}
	if _, _, err := dpa.ParsePointsMethod(c.Simulation.PointsMethod); err != nil {
		errs = append(errs, fmt.Errorf("simulation.points_method: %w", err))
	}
	if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio %g outside [0, 1]", r))
	}
	return errors.Join(errs...)
}

// Mode returns the parsed aggregate mode.
func (c Config) Mode() aggregate.Mode {
	m, _ := aggregate.ParseMode(c.Simulation.Mode)
	return m
}
