package geodata

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/logging"
)

// DefaultCacheSize is the number of 1x1 degree tiles a driver keeps open.
const DefaultCacheSize = 8

// TileKey identifies a 1x1 degree tile by the floor of its south-west
// corner latitude and longitude.
type TileKey struct {
	Lat int
	Lon int
}

// KeyFor returns the key of the tile containing (lat, lon).
func KeyFor(lat, lon float64) TileKey {
	return TileKey{Lat: int(math.Floor(lat)), Lon: int(math.Floor(lon))}
}

func (k TileKey) String() string { return fmt.Sprintf("(%d,%d)", k.Lat, k.Lon) }

// TileStats reports cache activity for one driver.
type TileStats struct {
	Driver       string
	ActiveTiles  []TileKey
	Swaps        map[TileKey]int // evictions per tile
	MissingTiles []TileKey
}

// TotalSwaps sums the per-tile eviction counts.
func (s TileStats) TotalSwaps() int {
	n := 0
	for _, v := range s.Swaps {
		n += v
	}
	return n
}

// Merge folds other into s. Active tiles are unioned.
func (s *TileStats) Merge(other TileStats) {
	if s.Swaps == nil {
		s.Swaps = make(map[TileKey]int)
	}
	for k, v := range other.Swaps {
		s.Swaps[k] += v
	}
	s.ActiveTiles = unionKeys(s.ActiveTiles, other.ActiveTiles)
	s.MissingTiles = unionKeys(s.MissingTiles, other.MissingTiles)
}

func unionKeys(a, b []TileKey) []TileKey {
	seen := make(map[TileKey]struct{}, len(a)+len(b))
	for _, k := range a {
		seen[k] = struct{}{}
	}
	for _, k := range b {
		seen[k] = struct{}{}
	}
	out := make([]TileKey, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sortKeys(out)
	return out
}

func sortKeys(keys []TileKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Lat != keys[j].Lat {
			return keys[i].Lat < keys[j].Lat
		}
		return keys[i].Lon < keys[j].Lon
	})
}

// tileLoader reads one tile. found is false when the tile file does not exist,
// in which case the cache substitutes the driver's zero tile.
type tileLoader[T any] func(key TileKey) (tile T, found bool, err error)

// tileCache is a fixed-capacity LRU of open tiles shared by the terrain and
// land-cover drivers. Evicted tiles are released once no view is running.
type tileCache[T any] struct {
	name    string
	logger  logging.Logger
	cache   *lru.Cache
	load    tileLoader[T]
	zero    T
	release func(T)

	loadMu sync.Mutex

	views    atomic.Int32
	retireMu sync.Mutex
	retired  []T

	statsMu sync.Mutex
	swaps   map[TileKey]int
	missing map[TileKey]struct{}
}

func newTileCache[T any](name string, size int, load tileLoader[T], zero T, release func(T), logger logging.Logger) (*tileCache[T], error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	tc := &tileCache[T]{
		name:    name,
		logger:  logging.OrNoop(logger),
		load:    load,
		zero:    zero,
		release: release,
		swaps:   make(map[TileKey]int),
		missing: make(map[TileKey]struct{}),
	}
	c, err := lru.NewWithEvict(size, tc.onEvict)
	if err != nil {
		return nil, fmt.Errorf("%s tile cache: %w", name, err)
	}
	tc.cache = c
	return tc, nil
}

// onEvict must not call back into the LRU.
func (tc *tileCache[T]) onEvict(key, value interface{}) {
	tc.statsMu.Lock()
	tc.swaps[key.(TileKey)]++
	tc.statsMu.Unlock()
	if tc.release != nil {
		tc.retireMu.Lock()
		tc.retired = append(tc.retired, value.(T))
		tc.retireMu.Unlock()
	}
}

// view runs fn over the tile for key. The tile stays open until fn returns
// even if a concurrent load evicts it.
func (tc *tileCache[T]) view(key TileKey, fn func(T)) error {
	tc.views.Add(1)
	defer func() {
		if tc.views.Add(-1) == 0 {
			tc.releaseRetired()
		}
	}()
	tile, err := tc.get(key)
	if err != nil {
		return err
	}
	fn(tile)
	return nil
}

// releaseRetired releases evicted tiles when no view is running. Views that
// start meanwhile cannot reach them: they are already out of the LRU.
func (tc *tileCache[T]) releaseRetired() {
	tc.retireMu.Lock()
	defer tc.retireMu.Unlock()
	if tc.views.Load() != 0 {
		return
	}
	for _, t := range tc.retired {
		tc.release(t)
	}
	tc.retired = nil
}

// get returns the tile for key, loading it on a miss.
func (tc *tileCache[T]) get(key TileKey) (T, error) {
	if v, ok := tc.cache.Get(key); ok {
		return v.(T), nil
	}
	tc.loadMu.Lock()
	defer tc.loadMu.Unlock()
	if v, ok := tc.cache.Get(key); ok {
		return v.(T), nil
	}
	tile, found, err := tc.load(key)
	if err != nil {
		return tc.zero, err
	}
	if !found {
		tile = tc.zero
		tc.statsMu.Lock()
		_, seen := tc.missing[key]
		tc.missing[key] = struct{}{}
		tc.statsMu.Unlock()
		if !seen {
			tc.logger.Warn(context.Background(), "tile missing, substituting zero tile",
				logging.String("driver", tc.name),
				logging.Int("tile_lat", key.Lat),
				logging.Int("tile_lon", key.Lon),
			)
		}
	}
	tc.cache.Add(key, tile)
	return tile, nil
}

func (tc *tileCache[T]) stats() TileStats {
	keys := make([]TileKey, 0, tc.cache.Len())
	for _, k := range tc.cache.Keys() {
		keys = append(keys, k.(TileKey))
	}
	sortKeys(keys)

	tc.statsMu.Lock()
	defer tc.statsMu.Unlock()
	swaps := make(map[TileKey]int, len(tc.swaps))
	for k, v := range tc.swaps {
		swaps[k] = v
	}
	missing := make([]TileKey, 0, len(tc.missing))
	for k := range tc.missing {
		missing = append(missing, k)
	}
	sortKeys(missing)
	return TileStats{Driver: tc.name, ActiveTiles: keys, Swaps: swaps, MissingTiles: missing}
}

func (tc *tileCache[T]) resetStats() {
	tc.statsMu.Lock()
	defer tc.statsMu.Unlock()
	tc.swaps = make(map[TileKey]int)
}

// purge drops every cached tile without counting swaps.
func (tc *tileCache[T]) purge() {
	tc.loadMu.Lock()
	defer tc.loadMu.Unlock()
	tc.statsMu.Lock()
	saved := tc.swaps
	tc.swaps = make(map[TileKey]int)
	tc.statsMu.Unlock()

	tc.cache.Purge()

	tc.statsMu.Lock()
	tc.swaps = saved
	tc.statsMu.Unlock()
	tc.releaseRetired()
}
