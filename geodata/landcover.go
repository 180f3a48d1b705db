package geodata

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/logging"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
)

// NLCD tiles are 3600x3600 unsigned bytes per 1x1 degree cell.
const LandCoverTileSize = 3600

// NLCD classes referenced by the simulator.
const (
	NlcdUnknown         = 0
	NlcdOpenWater       = 11
	NlcdPerennialSnow   = 12
	NlcdDevelopedOpen   = 21
	NlcdDevelopedLow    = 22
	NlcdDevelopedMedium = 23
	NlcdDevelopedHigh   = 24
)

// ErrOutOfCoverage is returned by RegionNlcdVote when out-of-coverage points
// are forbidden and one is found.
var ErrOutOfCoverage = errors.New("point outside land cover coverage")

// LandCoverTileName returns the NLCD file name for a tile.
func LandCoverTileName(key TileKey) string {
	return fmt.Sprintf("nlcd_%s_ref.int", cornerName(key.Lat+1, key.Lon))
}

// landCoverTile maps one NLCD tile. A nil codes slice is the zero tile.
type landCoverTile struct {
	codes mmap.MMap
}

func (t *landCoverTile) unmap() {
	if t.codes == nil {
		return
	}
	_ = t.codes.Unmap()
	t.codes = nil
}

var zeroLandCoverTile = &landCoverTile{}

// LandCoverDriver serves NLCD land cover codes. Missing tiles read as code 0.
type LandCoverDriver struct {
	dir    string
	tiles  *tileCache[*landCoverTile]
	logger logging.Logger
}

// NewLandCoverDriver opens a driver over dir. An empty dir yields code 0
// everywhere; a dir that does not exist is an error.
func NewLandCoverDriver(dir string, cacheSize int, logger logging.Logger) (*LandCoverDriver, error) {
	if dir != "" {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("%w: land cover directory %q: %v", ErrMissingGeoData, dir, err)
		}
	}
	d := &LandCoverDriver{dir: dir, logger: logging.OrNoop(logger)}
	tiles, err := newTileCache("nlcd", cacheSize, d.loadTile, zeroLandCoverTile, (*landCoverTile).unmap, logger)
	if err != nil {
		return nil, err
	}
	d.tiles = tiles
	return d, nil
}

// Stats reports the tile cache state.
func (d *LandCoverDriver) Stats() TileStats { return d.tiles.stats() }

// ResetStats clears the per-tile swap counters.
func (d *LandCoverDriver) ResetStats() { d.tiles.resetStats() }

func (d *LandCoverDriver) loadTile(key TileKey) (*landCoverTile, bool, error) {
	if d.dir == "" {
		return nil, false, nil
	}
	f, err := os.Open(filepath.Join(d.dir, LandCoverTileName(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, false, fmt.Errorf("land cover tile %s: %w", key, err)
	}
	if len(m) != LandCoverTileSize*LandCoverTileSize {
		_ = m.Unmap()
		return nil, false, fmt.Errorf("land cover tile %s has %d bytes, want %d", key, len(m), LandCoverTileSize*LandCoverTileSize)
	}
	return &landCoverTile{codes: m}, true, nil
}

// GetLandCoverCode returns the NLCD code at (lat, lon).
func (d *LandCoverDriver) GetLandCoverCode(lat, lon float64) (int, error) {
	key := KeyFor(lat, lon)
	code := NlcdUnknown
	err := d.tiles.view(key, func(tile *landCoverTile) {
		if tile.codes == nil {
			return
		}
		row := clampIndex(int(math.Floor((float64(key.Lat+1)-lat)*LandCoverTileSize)), LandCoverTileSize-1)
		col := clampIndex(int(math.Floor((lon-float64(key.Lon))*LandCoverTileSize)), LandCoverTileSize-1)
		code = int(tile.codes[row*LandCoverTileSize+col])
	})
	if err != nil {
		return 0, err
	}
	return code, nil
}

// GetLandCoverCodes is the vector form of GetLandCoverCode.
func (d *LandCoverDriver) GetLandCoverCodes(lats, lons []float64) ([]int, error) {
	if len(lats) != len(lons) {
		return nil, fmt.Errorf("land cover lookup: %d latitudes, %d longitudes", len(lats), len(lons))
	}
	out := make([]int, len(lats))
	for i := range lats {
		c, err := d.GetLandCoverCode(lats[i], lons[i])
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// RegionNlcdVote classifies the points by the developed-medium and
// developed-high vote: high scores 2, medium 1, anything else 0. An average
// below 2/3 is rural, up to 4/3 suburban, above that urban. With outForbid
// any point with code 0 fails the vote.
func (d *LandCoverDriver) RegionNlcdVote(points []model.ProtectionPoint, outForbid bool) (model.RegionType, error) {
	if len(points) == 0 {
		return model.RegionRural, fmt.Errorf("region vote over no points")
	}
	score := 0
	for _, p := range points {
		code, err := d.GetLandCoverCode(p.Latitude, p.Longitude)
		if err != nil {
			return model.RegionRural, err
		}
		switch code {
		case NlcdUnknown:
			if outForbid {
				return model.RegionRural, fmt.Errorf("%w: %v", ErrOutOfCoverage, p)
			}
		case NlcdDevelopedHigh:
			score += 2
		case NlcdDevelopedMedium:
			score++
		}
	}
	return classifyVote(score, len(points)), nil
}

// classifyVote compares 3*score against 2*n and 4*n to avoid rounding at
// the 2/3 and 4/3 boundaries.
func classifyVote(score, n int) model.RegionType {
	switch {
	case 3*score < 2*n:
		return model.RegionRural
	case 3*score <= 4*n:
		return model.RegionSuburban
	default:
		return model.RegionUrban
	}
}

// RegionAt returns the morphology of a single location.
func (d *LandCoverDriver) RegionAt(lat, lon float64) model.RegionType {
	region, err := d.RegionNlcdVote([]model.ProtectionPoint{{Latitude: lat, Longitude: lon}}, false)
	if err != nil {
		d.logger.Debug(context.Background(), "region lookup failed, assuming rural", logging.Err(err))
		return model.RegionRural
	}
	return region
}
