package geodata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
)

func encodeTerrain(fn func(row, col int) float32) []byte {
	buf := make([]byte, TerrainTileSize*TerrainTileSize*4)
	for r := 0; r < TerrainTileSize; r++ {
		for c := 0; c < TerrainTileSize; c++ {
			binary.LittleEndian.PutUint32(buf[4*(r*TerrainTileSize+c):], math.Float32bits(fn(r, c)))
		}
	}
	return buf
}

func latForRow(key TileKey, row float64) float64 {
	return float64(key.Lat+1) - (row-terrainEdgeOffset)/terrainPixelsDeg
}

func lonForCol(key TileKey, col float64) float64 {
	return float64(key.Lon) + (col-terrainEdgeOffset)/terrainPixelsDeg
}

func TestTerrainTileName(t *testing.T) {
	cases := map[TileKey]string{
		{Lat: 37, Lon: -123}: "usgs_ned_1_n38w123_gridfloat_std.flt",
		{Lat: -2, Lon: 5}:    "usgs_ned_1_s01e005_gridfloat_std.flt",
	}
	for key, want := range cases {
		if got := TerrainTileName(key); got != want {
			t.Errorf("TerrainTileName(%v) = %q, want %q", key, got, want)
		}
	}
	if got := LandCoverTileName(TileKey{Lat: 37, Lon: -123}); got != "nlcd_n38w123_ref.int" {
		t.Errorf("LandCoverTileName = %q", got)
	}
}

func TestTerrainDriver_MissingDirectory(t *testing.T) {
	_, err := NewTerrainDriver(filepath.Join(t.TempDir(), "nope"), 0, nil)
	if !errors.Is(err, ErrMissingGeoData) {
		t.Fatalf("err = %v, want ErrMissingGeoData", err)
	}
}

func TestTerrainDriver_MissingTileIsZero(t *testing.T) {
	d, err := NewTerrainDriver(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatalf("NewTerrainDriver: %v", err)
	}
	h, err := d.GetTerrainElevation(37.5, -122.5, true)
	if err != nil || h != 0 {
		t.Fatalf("elevation = %v, %v; want 0, nil", h, err)
	}
	st := d.Stats()
	if diff := cmp.Diff([]TileKey{{Lat: 37, Lon: -123}}, st.MissingTiles); diff != "" {
		t.Fatalf("missing tiles mismatch (-want +got):\n%s", diff)
	}
}

func TestTerrainDriver_Interpolation(t *testing.T) {
	dir := t.TempDir()
	key := TileKey{Lat: 37, Lon: -123}
	raw := encodeTerrain(func(row, col int) float32 { return float32(row) + 0.5*float32(col) })
	if err := os.WriteFile(filepath.Join(dir, TerrainTileName(key)), raw, 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := NewTerrainDriver(dir, 2, nil)
	if err != nil {
		t.Fatalf("NewTerrainDriver: %v", err)
	}

	lat, lon := latForRow(key, 100), lonForCol(key, 200)
	got, err := d.GetTerrainElevation(lat, lon, false)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-200) > 1e-6 {
		t.Fatalf("nearest elevation = %v, want 200", got)
	}

	lat, lon = latForRow(key, 100.25), lonForCol(key, 200.5)
	got, err = d.GetTerrainElevation(lat, lon, true)
	if err != nil {
		t.Fatal(err)
	}
	if want := 100.25 + 0.5*200.5; math.Abs(got-want) > 1e-3 {
		t.Fatalf("bilinear elevation = %v, want %v", got, want)
	}
}

func TestTerrainDriver_ZstdTileAndNoData(t *testing.T) {
	dir := t.TempDir()
	key := TileKey{Lat: 10, Lon: 20}
	raw := encodeTerrain(func(row, col int) float32 {
		if row == 1000 && col == 1000 {
			return terrainNoData
		}
		return 42
	})
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	packed := enc.EncodeAll(raw, nil)
	enc.Close()
	if err := os.WriteFile(filepath.Join(dir, TerrainTileName(key)+".zst"), packed, 0o644); err != nil {
		t.Fatal(err)
	}
	hdr := "ncols 3612\nnrows 3612\nxllcorner 19.99833\nyllcorner 9.99833\ncellsize 0.000277777777778\nNODATA_value -9999\nbyteorder LSBFIRST\n"
	hdrPath := strings.TrimSuffix(filepath.Join(dir, TerrainTileName(key)), ".flt") + ".hdr"
	if err := os.WriteFile(hdrPath, []byte(hdr), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := NewTerrainDriver(dir, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := d.GetTerrainElevation(10.5, 20.5, true)
	if err != nil || math.Abs(got-42) > 1e-9 {
		t.Fatalf("elevation = %v, %v; want 42", got, err)
	}
	got, _ = d.GetTerrainElevation(latForRow(key, 1000), lonForCol(key, 1000), false)
	if got != 0 {
		t.Fatalf("NODATA sample = %v, want 0", got)
	}
}

func TestTileCache_SwapStats(t *testing.T) {
	d, err := NewTerrainDriver("", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	a, b := TileKey{Lat: 37, Lon: -123}, TileKey{Lat: 38, Lon: -123}
	for _, k := range []TileKey{a, b, a} {
		if _, err := d.GetTerrainElevation(float64(k.Lat)+0.5, float64(k.Lon)+0.5, true); err != nil {
			t.Fatal(err)
		}
	}
	st := d.Stats()
	if diff := cmp.Diff([]TileKey{a}, st.ActiveTiles); diff != "" {
		t.Fatalf("active tiles (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[TileKey]int{a: 1, b: 1}, st.Swaps); diff != "" {
		t.Fatalf("swaps (-want +got):\n%s", diff)
	}
	if st.TotalSwaps() != 2 {
		t.Fatalf("TotalSwaps = %d, want 2", st.TotalSwaps())
	}
	d.ResetStats()
	if d.Stats().TotalSwaps() != 0 {
		t.Fatalf("swaps not reset")
	}
}

func TestTileCache_MappedTilesLiveUntilEviction(t *testing.T) {
	dir := t.TempDir()
	a, b := TileKey{Lat: 37, Lon: -123}, TileKey{Lat: 38, Lon: -123}
	raw := encodeTerrain(func(int, int) float32 { return 7 })
	for _, k := range []TileKey{a, b} {
		if err := os.WriteFile(filepath.Join(dir, TerrainTileName(k)), raw, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	d, err := NewTerrainDriver(dir, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	elev := func(k TileKey) float64 {
		t.Helper()
		h, err := d.GetTerrainElevation(float64(k.Lat)+0.5, float64(k.Lon)+0.5, true)
		if err != nil {
			t.Fatal(err)
		}
		return h
	}

	if h := elev(a); h != 7 {
		t.Fatalf("elevation = %v, want 7", h)
	}
	v, ok := d.tiles.cache.Peek(a)
	if !ok {
		t.Fatalf("tile %v not cached", a)
	}
	tileA := v.(*terrainTile)
	if tileA.mapped == nil {
		t.Fatalf("tile %v was copied out of its mapping", a)
	}

	if h := elev(b); h != 7 {
		t.Fatalf("elevation = %v, want 7", h)
	}
	if tileA.mapped != nil || tileA.data != nil {
		t.Fatalf("evicted tile %v still mapped", a)
	}
	if h := elev(a); h != 7 {
		t.Fatalf("elevation after reload = %v, want 7", h)
	}
}

func TestTerrainProfileAndHaatOnFlatTerrain(t *testing.T) {
	d, err := NewTerrainDriver("", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	prof, err := d.TerrainProfile(37.0, -122.0, 37.0, -121.99, DefaultProfileResolutionM, true, DefaultProfileMaxPoints)
	if err != nil {
		t.Fatal(err)
	}
	n := int(prof[0])
	if len(prof) != n+3 {
		t.Fatalf("profile length %d, want N+3 = %d", len(prof), n+3)
	}
	if prof[1] <= 0 || prof[1] > DefaultProfileResolutionM {
		t.Fatalf("step = %v, want (0, %v]", prof[1], DefaultProfileResolutionM)
	}

	long, err := d.TerrainProfile(37.0, -122.0, 38.0, -122.0, DefaultProfileResolutionM, true, DefaultProfileMaxPoints)
	if err != nil {
		t.Fatal(err)
	}
	if int(long[0]) != DefaultProfileMaxPoints-1 {
		t.Fatalf("long profile intervals = %v, want %d", long[0], DefaultProfileMaxPoints-1)
	}

	haat, ground, err := d.ComputeNormalizedHaat(37.0, -122.0)
	if err != nil || haat != 0 || ground != 0 {
		t.Fatalf("HAAT = (%v, %v, %v), want zeros", haat, ground, err)
	}
}

func writeLandCover(t *testing.T, dir string, key TileKey, set map[[2]int]byte) {
	t.Helper()
	buf := make([]byte, LandCoverTileSize*LandCoverTileSize)
	for i := range buf {
		buf[i] = NlcdDevelopedOpen
	}
	for rc, code := range set {
		buf[rc[0]*LandCoverTileSize+rc[1]] = code
	}
	if err := os.WriteFile(filepath.Join(dir, LandCoverTileName(key)), buf, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRegionNlcdVote_Prefixes(t *testing.T) {
	dir := t.TempDir()
	key := TileKey{Lat: 37, Lon: -123}
	codes := []byte{NlcdDevelopedHigh, NlcdDevelopedMedium, NlcdDevelopedOpen, NlcdDevelopedLow, NlcdOpenWater}
	set := map[[2]int]byte{}
	var pts []model.ProtectionPoint
	for i, c := range codes {
		row, col := 1000+10*i, 2000+10*i
		set[[2]int{row, col}] = c
		pts = append(pts, model.ProtectionPoint{
			Latitude:  float64(key.Lat+1) - (float64(row)+0.5)/LandCoverTileSize,
			Longitude: float64(key.Lon) + (float64(col)+0.5)/LandCoverTileSize,
		})
	}
	writeLandCover(t, dir, key, set)

	d, err := NewLandCoverDriver(dir, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []model.RegionType{model.RegionUrban, model.RegionUrban, model.RegionSuburban, model.RegionSuburban, model.RegionRural}
	for i := range pts {
		got, err := d.RegionNlcdVote(pts[:i+1], true)
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
		if got != want[i] {
			t.Errorf("prefix %d vote = %v, want %v", i+1, got, want[i])
		}
	}
}

func TestRegionNlcdVote_OutForbid(t *testing.T) {
	d, err := NewLandCoverDriver("", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	pts := []model.ProtectionPoint{{Latitude: 37.5, Longitude: -122.5}}
	if _, err := d.RegionNlcdVote(pts, true); !errors.Is(err, ErrOutOfCoverage) {
		t.Fatalf("err = %v, want ErrOutOfCoverage", err)
	}
	if r, err := d.RegionNlcdVote(pts, false); err != nil || r != model.RegionRural {
		t.Fatalf("vote = %v, %v; want RURAL", r, err)
	}
}

func writeItuGrid(t *testing.T, path string, fn func(row, col int) float64) {
	t.Helper()
	var sb strings.Builder
	for r := 0; r < ituGridRows; r++ {
		for c := 0; c < ituGridCols; c++ {
			fmt.Fprintf(&sb, "%g ", fn(r, c))
		}
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestItuDrivers(t *testing.T) {
	dir := t.TempDir()
	// Sea (7) everywhere east of 10E, land zones elsewhere.
	writeItuGrid(t, filepath.Join(dir, ClimateFileName), func(row, col int) float64 {
		switch {
		case col >= 20 && col < 40:
			return ClimateMaritimeTemperateSea
		case col < 20:
			return ClimateContinentalTemperate
		default:
			return ClimateMaritimeTemperateLand
		}
	})
	writeItuGrid(t, filepath.Join(dir, RefractivityFileName), func(row, col int) float64 {
		return 300 + float64(col)
	})

	cd, err := NewClimateDriver(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := cd.Climate(0, 20); got != ClimateMaritimeTemperateSea {
		t.Fatalf("Climate(0,20) = %d, want 7", got)
	}
	// Midpoint at 22.5E is sea; endpoints are 6 and 5.
	if got := cd.PathClimate(0, 10, 0, 35); got != ClimateContinentalTemperate {
		t.Fatalf("PathClimate = %d, want 5", got)
	}

	rd, err := NewRefractivityDriver(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := rd.Refractivity(0, 0.375); math.Abs(got-300.5) > 1e-9 {
		t.Fatalf("Refractivity = %v, want 300.5", got)
	}
	if got := rd.Refractivity(0, -0.75); math.Abs(got-(300+479)) > 1e-9 {
		t.Fatalf("Refractivity at 359.25E = %v, want 779", got)
	}
}

func TestItuDrivers_MissingFile(t *testing.T) {
	if _, err := NewClimateDriver(t.TempDir()); !errors.Is(err, ErrMissingGeoData) {
		t.Fatalf("err = %v, want ErrMissingGeoData", err)
	}
	d, err := NewRefractivityDriver("")
	if err != nil {
		t.Fatal(err)
	}
	if d.Refractivity(10, 10) != DefaultRefractivity {
		t.Fatalf("fallback refractivity not used")
	}
}
