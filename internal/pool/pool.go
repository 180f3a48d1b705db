// Package pool runs simulation tasks on a bounded set of workers. Each worker
// owns its own geo data drivers, created lazily on first use, so tile caches
// are never shared between concurrently running tasks.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/sync/errgroup"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geodata"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/logging"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/observability"
)

// Worker count selectors accepted by Configure.
const (
	HalfCPUs     = -1
	AllButOneCPU = -2
)

// ErrPoolMisconfigured is returned when the pool is configured from inside a
// worker task, while a batch is running, or with an invalid worker count.
var ErrPoolMisconfigured = errors.New("pool misconfigured")

// DriversFactory builds the geo drivers of one worker.
type DriversFactory func() (*geodata.Drivers, error)

// Options configures a Pool.
type Options struct {
	NumWorkers int
	Geodata    geodata.Config
	// Drivers overrides how worker drivers are built; defaults to
	// geodata.NewDrivers over Geodata.
	Drivers DriversFactory
	Logger  logging.Logger
	Metrics *observability.SimCollector
}

// Pool is a fixed set of workers. A Pool is safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	workers []*Worker
	free    chan *Worker
	running int

	newDrivers DriversFactory
	log        logging.Logger
	metrics    *observability.SimCollector
}

// Worker is the execution slot a task runs on.
type Worker struct {
	ID int

	newDrivers DriversFactory
	mu         sync.Mutex
	drivers    *geodata.Drivers
}

type workerKey struct{}

// New builds a pool with opts.NumWorkers workers (see Configure).
func New(opts Options) (*Pool, error) {
	p := &Pool{
		log:        logging.OrNoop(opts.Logger),
		metrics:    opts.Metrics,
		newDrivers: opts.Drivers,
	}
	if p.newDrivers == nil {
		cfg := opts.Geodata
		log := p.log
		p.newDrivers = func() (*geodata.Drivers, error) {
			return geodata.NewDrivers(cfg, log)
		}
	}
	if err := p.Configure(context.Background(), opts.NumWorkers); err != nil {
		return nil, err
	}
	return p, nil
}

// ResolveWorkers maps a worker selector to a positive count: HalfCPUs gives
// half the logical CPUs, AllButOneCPU all but one, N > 0 gives N.
func ResolveWorkers(n int) (int, error) {
	cpus := cpuCount()
	switch {
	case n > 0:
		return n, nil
	case n == HalfCPUs:
		return max(1, cpus/2), nil
	case n == AllButOneCPU:
		return max(1, cpus-1), nil
	default:
		return 0, fmt.Errorf("%w: invalid worker count %d", ErrPoolMisconfigured, n)
	}
}

func cpuCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		n = runtime.NumCPU()
	}
	return max(1, n)
}

// Configure resizes the pool. It must be called from outside any worker task
// and while no batch is running; the drivers of previous workers are closed.
func (p *Pool) Configure(ctx context.Context, numWorkers int) error {
	if InWorker(ctx) {
		return fmt.Errorf("%w: configured from inside worker task", ErrPoolMisconfigured)
	}
	n, err := ResolveWorkers(numWorkers)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running > 0 {
		return fmt.Errorf("%w: %d batches running", ErrPoolMisconfigured, p.running)
	}
	for _, w := range p.workers {
		w.close()
	}
	p.workers = make([]*Worker, n)
	p.free = make(chan *Worker, n)
	for i := range p.workers {
		w := &Worker{ID: i, newDrivers: p.newDrivers}
		p.workers[i] = w
		p.free <- w
	}
	p.metrics.SetPoolWorkers(n)
	p.log.Info(ctx, "pool configured",
		logging.Int("requested", numWorkers),
		logging.Int("workers", n),
	)
	return nil
}

// NumWorkers returns the configured worker count.
func (p *Pool) NumWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Close releases the drivers of every worker.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		w.close()
	}
}

// InWorker reports whether ctx belongs to a task running on a pool worker.
func InWorker(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	_, ok := ctx.Value(workerKey{}).(*Worker)
	return ok
}

// begin marks a batch as running and returns the free list it must use.
func (p *Pool) begin() chan *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running++
	return p.free
}

func (p *Pool) end() {
	p.mu.Lock()
	p.running--
	p.mu.Unlock()
}

// acquire takes a free worker, blocking until one is available.
func acquire(ctx context.Context, free chan *Worker) (*Worker, error) {
	select {
	case w := <-free:
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Drivers returns the worker's geo drivers, building them on first call. A
// failed build is retried on the next call.
func (w *Worker) Drivers() (*geodata.Drivers, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.drivers == nil {
		d, err := w.newDrivers()
		if err != nil {
			return nil, err
		}
		w.drivers = d
	}
	return w.drivers, nil
}

// TileStats returns the tile statistics of the worker's drivers, or nil when
// the drivers were never built.
func (w *Worker) TileStats() []geodata.TileStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.drivers == nil {
		return nil
	}
	return w.drivers.Stats()
}

// ResetTileStats clears the worker's tile statistics.
func (w *Worker) ResetTileStats() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.drivers != nil {
		w.drivers.ResetStats()
	}
}

func (w *Worker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.drivers != nil {
		w.drivers.Close()
		w.drivers = nil
	}
}

// Map runs fn over items on the pool's workers and returns the results in
// item order. The first error cancels the remaining tasks and is returned.
func Map[T, R any](ctx context.Context, p *Pool, items []T, fn func(ctx context.Context, w *Worker, item T) (R, error)) ([]R, error) {
	free := p.begin()
	defer p.end()

	out := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cap(free))
	for i, item := range items {
		g.Go(func() error {
			w, err := acquire(gctx, free)
			if err != nil {
				return err
			}
			defer func() { free <- w }()
			r, err := fn(context.WithValue(gctx, workerKey{}, w), w, item)
			if err != nil {
				return fmt.Errorf("task %d: %w", i, err)
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// AsyncResult is the pending outcome of ApplyAsync.
type AsyncResult[R any] struct {
	done chan struct{}
	val  R
	err  error
}

// Get waits for the task and returns its result or error.
func (a *AsyncResult[R]) Get(ctx context.Context) (R, error) {
	select {
	case <-a.done:
		return a.val, a.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// ApplyAsync schedules fn on the next free worker and returns immediately.
func ApplyAsync[R any](ctx context.Context, p *Pool, fn func(ctx context.Context, w *Worker) (R, error)) *AsyncResult[R] {
	free := p.begin()
	res := &AsyncResult[R]{done: make(chan struct{})}
	go func() {
		defer close(res.done)
		defer p.end()
		w, err := acquire(ctx, free)
		if err != nil {
			res.err = err
			return
		}
		defer func() { free <- w }()
		res.val, res.err = fn(context.WithValue(ctx, workerKey{}, w), w)
	}()
	return res
}

// RunOnEachWorker runs fn once on every worker after the running tasks
// release them, and returns the results in worker order. It must not be
// called from inside a worker task.
func RunOnEachWorker[R any](ctx context.Context, p *Pool, fn func(ctx context.Context, w *Worker) (R, error)) ([]R, error) {
	free := p.begin()
	defer p.end()

	n := cap(free)
	held := make([]*Worker, 0, n)
	defer func() {
		for _, w := range held {
			free <- w
		}
	}()
	for len(held) < n {
		w, err := acquire(ctx, free)
		if err != nil {
			return nil, err
		}
		held = append(held, w)
	}

	out := make([]R, n)
	for _, w := range held {
		r, err := fn(context.WithValue(ctx, workerKey{}, w), w)
		if err != nil {
			return nil, fmt.Errorf("worker %d: %w", w.ID, err)
		}
		out[w.ID] = r
	}
	return out, nil
}

// CollectTileStats gathers the tile statistics of every worker, resets them
// and records them in the pool's metrics. Missing tiles are logged once per
// batch.
func (p *Pool) CollectTileStats(ctx context.Context) ([]geodata.TileStats, error) {
	per, err := RunOnEachWorker(ctx, p, func(_ context.Context, w *Worker) ([]geodata.TileStats, error) {
		s := w.TileStats()
		w.ResetTileStats()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	var all []geodata.TileStats
	for _, s := range per {
		all = append(all, s...)
	}
	p.metrics.RecordTileStats(all)

	merged := map[string]*geodata.TileStats{}
	var order []string
	for _, s := range all {
		m, ok := merged[s.Driver]
		if !ok {
			m = &geodata.TileStats{Driver: s.Driver}
			merged[s.Driver] = m
			order = append(order, s.Driver)
		}
		m.Merge(s)
	}
	out := make([]geodata.TileStats, 0, len(order))
	for _, name := range order {
		s := *merged[name]
		if swaps := s.TotalSwaps(); swaps > 0 {
			p.log.Warn(ctx, "tile cache swapping; consider a larger cache",
				logging.String("driver", name),
				logging.Int("swaps", swaps),
				logging.Int("active_tiles", len(s.ActiveTiles)),
			)
		}
		if len(s.MissingTiles) > 0 {
			p.log.Warn(ctx, "tiles missing; zero substituted",
				logging.String("driver", name),
				logging.Int("missing", len(s.MissingTiles)),
			)
		}
		out = append(out, s)
	}
	return out, nil
}
