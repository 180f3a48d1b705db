package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
)

const portalDoc = `{"type":"FeatureCollection","features":[{
  "type":"Feature",
  "properties":{"name":"Portal7","freqRangeMHz":"3550-3570","protectionCritDbmPer10MHz":-139,"radarHeightMeters":10},
  "geometry":{"type":"Polygon","coordinates":[[[-106.6,32.3],[-106.4,32.3],[-106.4,32.5],[-106.6,32.5],[-106.6,32.3]]]}
}]}`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// fixture writes a portal DPA, a grants file and a small configuration.
func fixture(t *testing.T) (cfgPath, grantsPath string) {
	t.Helper()
	for _, k := range []string{
		"DPASIM_SEED", "DPASIM_NUM_WORKERS", "LOG_LEVEL", "LOG_FORMAT",
		"DPASIM_TRACING_ENABLED", "DPASIM_TRACING_EXPORTER",
	} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	portal := writeFile(t, dir, "portal.geojson", portalDoc)
	cfgPath = writeFile(t, dir, "dpasim.yaml", `
pool:
  num_workers: 1
simulation:
  seed: 4
  movelist_iterations: 10
  aggregate_iterations: 5
  points_method: default(2,0,1,0,40)
  portal_dpa_file: `+portal+`
logging:
  level: error
`)
	grantsPath = writeFile(t, dir, "grants.csv", `latitude,longitude,height_m,indoor,azimuth_deg,beamwidth_deg,gain_dbi,category,eirp_dbm_mhz,low_mhz,high_mhz
40,-100,6,true,0,360,6,A,20,3550,3560
41,-100,20,false,90,65,14,B,37,3560,3570
`)
	return cfgPath, grantsPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run(append([]string{"dpasim"}, args...))
	return out.String(), err
}

func TestReadGrants(t *testing.T) {
	_, path := fixture(t)
	got, err := readGrants(path)
	if err != nil {
		t.Fatalf("readGrants: %v", err)
	}
	want := []model.Grant{
		{
			Latitude: 40, Longitude: -100, HeightM: 6, Indoor: true,
			AntennaBeamwidthDeg: 360, AntennaGainDBi: 6,
			Category: model.CategoryA, MaxEirpDBmPerMHz: 20,
			LowFrequencyHz: 3550e6, HighFrequencyHz: 3560e6, Managed: true,
		},
		{
			Latitude: 41, Longitude: -100, HeightM: 20,
			AntennaAzimuthDeg: 90, AntennaBeamwidthDeg: 65, AntennaGainDBi: 14,
			Category: model.CategoryB, MaxEirpDBmPerMHz: 37,
			LowFrequencyHz: 3560e6, HighFrequencyHz: 3570e6, Managed: true,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("grants mismatch (-want +got):\n%s", diff)
	}
}

func TestReadGrantsRejectsBadRows(t *testing.T) {
	dir := t.TempDir()
	header := "latitude,longitude,height_m,indoor,azimuth_deg,beamwidth_deg,gain_dbi,category,eirp_dbm_mhz,low_mhz,high_mhz,managed\n"
	for name, row := range map[string]string{
		"category":  "40,-100,6,true,0,360,6,C,20,3550,3560,true",
		"frequency": "40,-100,6,true,0,360,6,A,20,3560,3550,true",
		"latitude":  "95,-100,6,true,0,360,6,A,20,3550,3560,true",
		"number":    "40,west,6,true,0,360,6,A,20,3550,3560,true",
	} {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, dir, name+".csv", header+row+"\n")
			if _, err := readGrants(path); err == nil {
				t.Fatalf("readGrants: want error")
			}
		})
	}

	path := writeFile(t, dir, "peer.csv", header+"40,-100,6,true,0,360,6,A,20,3550,3560,false\n")
	got, err := readGrants(path)
	if err != nil {
		t.Fatalf("readGrants: %v", err)
	}
	if got[0].Managed {
		t.Fatalf("managed column ignored")
	}
}

func TestMoveListCommand(t *testing.T) {
	cfg, grants := fixture(t)
	out, err := run(t, "--config", cfg, "movelist", "--dpa", "portal7", "--grants", grants, "--check")
	if err != nil {
		t.Fatalf("movelist: %v", err)
	}
	for _, want := range []string{"DPA Portal7: 2 grants", "3550-3560", "3560-3570", "pass"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestMoveListCommandNeedsFlags(t *testing.T) {
	if _, err := run(t, "movelist", "--dpa", "East1"); err == nil {
		t.Fatalf("movelist without grants: want error")
	}
	cfg, grants := fixture(t)
	if _, err := run(t, "--config", cfg, "movelist", "--dpa", "Atlantis", "--grants", grants); err == nil {
		t.Fatalf("unknown DPA: want error")
	}
}

func TestNeighborhoodCommand(t *testing.T) {
	cfg, _ := fixture(t)
	out, err := run(t, "--config", cfg, "neighborhood", "--dpa", "portal7",
		"--population", "0", "--region", "rural", "--channel", "3560", "--quiet")
	if err != nil {
		t.Fatalf("neighborhood: %v", err)
	}
	for _, want := range []string{"DPA Portal7 channel 3560-3570", "ntia mode", "5 iterations", "AP", "UE"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output lacks %q:\n%s", want, out)
		}
	}

	if _, err := run(t, "--config", cfg, "neighborhood", "--dpa", "portal7", "--mode", "hata", "--quiet"); err == nil {
		t.Fatalf("unknown mode: want error")
	}
	if _, err := run(t, "--config", cfg, "neighborhood", "--dpa", "portal7", "--region", "lunar"); err == nil {
		t.Fatalf("unknown region: want error")
	}
}
