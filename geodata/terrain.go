package geodata

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edsrzf/mmap-go"
	"github.com/klauspost/compress/zstd"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geo"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/logging"
)

// NED 1 arc-second gridfloat layout. Each tile holds 3600x3600 samples plus a
// 6 sample overlap on every side.
const (
	TerrainTileSize   = 3612
	terrainPixelsDeg  = 3600
	terrainEdgeOffset = 5.5 // pixel-centre offset of sample 0 from the tile edge
	terrainNoData     = -9999
)

// Defaults for TerrainProfile.
const (
	DefaultProfileResolutionM = 30.0
	DefaultProfileMaxPoints   = 1501
)

// TerrainTileName returns the gridfloat file name of the tile containing
// (lat, lon). Tiles are named by their north-west corner.
func TerrainTileName(key TileKey) string {
	return fmt.Sprintf("usgs_ned_1_%s_gridfloat_std.flt", cornerName(key.Lat+1, key.Lon))
}

func cornerName(lat, lon int) string {
	ns, ew := 'n', 'w'
	if lat < 0 {
		ns = 's'
		lat = -lat
	}
	if lon >= 0 {
		ew = 'e'
	} else {
		lon = -lon
	}
	return fmt.Sprintf("%c%02d%c%03d", ns, lat, ew, lon)
}

// terrainTile is a little-endian float32 elevation tile, either mapped from
// its .flt file or decompressed into memory. A nil data slice is the shared
// zero tile.
type terrainTile struct {
	data   []byte
	mapped mmap.MMap
	noData float32
}

func (t *terrainTile) at(row, col int) float64 {
	if t.data == nil {
		return 0
	}
	i := 4 * (row*TerrainTileSize + col)
	v := math.Float32frombits(binary.LittleEndian.Uint32(t.data[i:]))
	if v == t.noData || v <= terrainNoData {
		return 0
	}
	return float64(v)
}

// unmap releases the file mapping of an evicted tile.
func (t *terrainTile) unmap() {
	if t.mapped == nil {
		return
	}
	_ = t.mapped.Unmap()
	t.mapped, t.data = nil, nil
}

var zeroTerrainTile = &terrainTile{}

// TerrainDriver serves elevations from NED 1 arc-second gridfloat tiles.
// Positions outside tile coverage read as 0 m.
type TerrainDriver struct {
	dir   string
	tiles *tileCache[*terrainTile]
}

// NewTerrainDriver opens a driver over dir. An empty dir yields a driver
// that returns 0 everywhere; a dir that does not exist is an error.
func NewTerrainDriver(dir string, cacheSize int, logger logging.Logger) (*TerrainDriver, error) {
	if dir != "" {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("%w: terrain directory %q: %v", ErrMissingGeoData, dir, err)
		}
	}
	d := &TerrainDriver{dir: dir}
	tiles, err := newTileCache("terrain", cacheSize, d.loadTile, zeroTerrainTile, (*terrainTile).unmap, logger)
	if err != nil {
		return nil, err
	}
	d.tiles = tiles
	return d, nil
}

// Stats reports the tile cache state.
func (d *TerrainDriver) Stats() TileStats { return d.tiles.stats() }

// ResetStats clears the per-tile swap counters.
func (d *TerrainDriver) ResetStats() { d.tiles.resetStats() }

func (d *TerrainDriver) loadTile(key TileKey) (*terrainTile, bool, error) {
	if d.dir == "" {
		return nil, false, nil
	}
	base := filepath.Join(d.dir, TerrainTileName(key))
	noData := float32(terrainNoData)
	if hdr, err := readGridHeader(strings.TrimSuffix(base, ".flt") + ".hdr"); err == nil {
		if hdr.ncols != TerrainTileSize || hdr.nrows != TerrainTileSize {
			return nil, false, fmt.Errorf("terrain tile %s: header size %dx%d", key, hdr.ncols, hdr.nrows)
		}
		if hdr.msbFirst {
			return nil, false, fmt.Errorf("terrain tile %s: big-endian gridfloat not supported", key)
		}
		noData = float32(hdr.noData)
	}

	tile, err := mapTerrainTile(base)
	if errors.Is(err, fs.ErrNotExist) {
		tile, err = readTerrainTileZstd(base + ".zst")
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("terrain tile %s: %w", key, err)
	}
	tile.noData = noData
	return tile, true, nil
}

// mapTerrainTile maps path read-only. The mapping lives until the tile
// leaves the cache.
func mapTerrainTile(path string) (*terrainTile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, err
	}
	if err := checkTerrainSize(len(m)); err != nil {
		_ = m.Unmap()
		return nil, err
	}
	return &terrainTile{data: m, mapped: m}, nil
}

func readTerrainTileZstd(path string) (*terrainTile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	buf, err := dec.DecodeAll(raw, make([]byte, 0, TerrainTileSize*TerrainTileSize*4))
	if err != nil {
		return nil, err
	}
	if err := checkTerrainSize(len(buf)); err != nil {
		return nil, err
	}
	return &terrainTile{data: buf}, nil
}

func checkTerrainSize(n int) error {
	if want := TerrainTileSize * TerrainTileSize * 4; n != want {
		return fmt.Errorf("tile has %d bytes, want %d", n, want)
	}
	return nil
}

type gridHeader struct {
	ncols, nrows int
	noData       float64
	msbFirst     bool
}

// readGridHeader parses an ESRI .hdr companion file.
func readGridHeader(path string) (gridHeader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return gridHeader{}, err
	}
	h := gridHeader{noData: terrainNoData}
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		val := fields[1]
		switch strings.ToLower(fields[0]) {
		case "ncols":
			h.ncols, err = strconv.Atoi(val)
		case "nrows":
			h.nrows, err = strconv.Atoi(val)
		case "nodata_value":
			h.noData, err = strconv.ParseFloat(val, 64)
		case "byteorder":
			h.msbFirst = strings.EqualFold(val, "MSBFIRST")
		}
		if err != nil {
			return gridHeader{}, fmt.Errorf("%s: %s: %w", path, fields[0], err)
		}
	}
	return h, sc.Err()
}

// GetTerrainElevation returns the elevation in metres at (lat, lon), using
// bilinear interpolation when interp is set and the nearest sample otherwise.
func (d *TerrainDriver) GetTerrainElevation(lat, lon float64, interp bool) (float64, error) {
	key := KeyFor(lat, lon)
	var elev float64
	err := d.tiles.view(key, func(tile *terrainTile) {
		if tile.data == nil {
			return
		}
		row := (float64(key.Lat+1)-lat)*terrainPixelsDeg + terrainEdgeOffset
		col := (lon-float64(key.Lon))*terrainPixelsDeg + terrainEdgeOffset
		if !interp {
			r := clampIndex(int(math.Floor(row+0.5)), TerrainTileSize-1)
			c := clampIndex(int(math.Floor(col+0.5)), TerrainTileSize-1)
			elev = tile.at(r, c)
			return
		}
		r0 := clampIndex(int(math.Floor(row)), TerrainTileSize-2)
		c0 := clampIndex(int(math.Floor(col)), TerrainTileSize-2)
		dr := row - float64(r0)
		dc := col - float64(c0)
		top := tile.at(r0, c0)*(1-dc) + tile.at(r0, c0+1)*dc
		bottom := tile.at(r0+1, c0)*(1-dc) + tile.at(r0+1, c0+1)*dc
		elev = top*(1-dr) + bottom*dr
	})
	if err != nil {
		return 0, err
	}
	return elev, nil
}

// GetTerrainElevations is the vector form of GetTerrainElevation.
func (d *TerrainDriver) GetTerrainElevations(lats, lons []float64, interp bool) ([]float64, error) {
	if len(lats) != len(lons) {
		return nil, fmt.Errorf("terrain lookup: %d latitudes, %d longitudes", len(lats), len(lons))
	}
	out := make([]float64, len(lats))
	for i := range lats {
		v, err := d.GetTerrainElevation(lats[i], lons[i], interp)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// TerrainProfile samples terrain along the geodesic in the ITM profile
// layout: [N, step_m, h0, ..., hN]. The sample count is ceil(dist/res)+1,
// capped at maxPoints, and never below 2.
func (d *TerrainDriver) TerrainProfile(lat1, lon1, lat2, lon2, targetResM float64, interp bool, maxPoints int) ([]float64, error) {
	if targetResM <= 0 {
		targetResM = DefaultProfileResolutionM
	}
	distKm, _, _ := geo.GeodesicDistanceBearing(lat1, lon1, lat2, lon2)
	distM := distKm * 1000
	n := int(math.Ceil(distM/targetResM)) + 1
	if maxPoints > 0 && n > maxPoints {
		n = maxPoints
	}
	if n < 2 {
		n = 2
	}
	lats, lons := geo.GeodesicSampling(lat1, lon1, lat2, lon2, n)
	elev, err := d.GetTerrainElevations(lats, lons, interp)
	if err != nil {
		return nil, err
	}
	profile := make([]float64, 0, n+2)
	profile = append(profile, float64(n-1), distM/float64(n-1))
	return append(profile, elev...), nil
}

func clampIndex(i, hi int) int {
	if i < 0 {
		return 0
	}
	if i > hi {
		return hi
	}
	return i
}
