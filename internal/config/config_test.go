package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/aggregate"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geodata"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dpasim.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DPASIM_SEED", "DPASIM_NUM_WORKERS", "LOG_LEVEL", "LOG_FORMAT",
		"DPASIM_TRACING_ENABLED", "DPASIM_TRACING_EXPORTER", "DPASIM_TRACING_SERVICE_NAME",
		"DPASIM_OTLP_ENDPOINT", "DPASIM_TRACING_SAMPLE_RATIO",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
	if cfg.Mode() != aggregate.ModeNTIA {
		t.Fatalf("Mode() = %v, want ntia", cfg.Mode())
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
geodata:
  terrain_dir: /data/ned
  terrain_cache_size: 16
pool:
  num_workers: 4
simulation:
  seed: 12
  mode: winnforum
  hybrid: true
  points_method: default(5,2,2,1,40)
metrics:
  addr: ":9102"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	wantGeo := geodata.Config{TerrainDir: "/data/ned", TerrainCacheSize: 16, NlcdCacheSize: DefaultCacheSize}
	if diff := cmp.Diff(wantGeo, cfg.Geodata); diff != "" {
		t.Fatalf("geodata mismatch (-want +got):\n%s", diff)
	}
	if cfg.Pool.NumWorkers != 4 || cfg.Simulation.Seed != 12 || !cfg.Simulation.Hybrid {
		t.Fatalf("config = %+v", cfg)
	}
	if cfg.Mode() != aggregate.ModeWinnForum || cfg.Metrics.Addr != ":9102" {
		t.Fatalf("mode = %v addr = %q", cfg.Mode(), cfg.Metrics.Addr)
	}
	if cfg.Simulation.MoveListIterations != Default().Simulation.MoveListIterations {
		t.Fatalf("unset iterations lost their default: %d", cfg.Simulation.MoveListIterations)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("DPASIM_SEED", "99")
	t.Setenv("DPASIM_NUM_WORKERS", "-2")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DPASIM_TRACING_ENABLED", "true")
	cfg, err := Load(writeConfig(t, "simulation:\n  seed: 1\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Simulation.Seed != 99 || cfg.Pool.NumWorkers != -2 {
		t.Fatalf("seed = %d workers = %d, want 99 and -2", cfg.Simulation.Seed, cfg.Pool.NumWorkers)
	}
	if cfg.Logging.Level != "debug" || !cfg.Tracing.Enabled {
		t.Fatalf("logging = %+v tracing = %+v", cfg.Logging, cfg.Tracing)
	}

	t.Setenv("DPASIM_SEED", "seven")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "DPASIM_SEED") {
		t.Fatalf("bad seed: err = %v", err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	clearEnv(t)
	for name, body := range map[string]string{
		"unknown key":     "simulation:\n  seeds: 3\n",
		"zero workers":    "pool:\n  num_workers: 0\n",
		"bad selector":    "pool:\n  num_workers: -3\n",
		"negative cache":  "geodata:\n  nlcd_cache_size: -1\n",
		"unknown mode":    "simulation:\n  mode: okumura\n",
		"bad points":      "simulation:\n  points_method: grid(3)\n",
		"zero iterations": "simulation:\n  aggregate_iterations: 0\n",
		"sample ratio":    "tracing:\n  sample_ratio: 2\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("Load: want error")
			}
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Pool.NumWorkers = 0
	cfg.Simulation.Mode = "x"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("Validate: want error")
	}
	for _, want := range []string{"pool.num_workers", "simulation.mode"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}
