package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geodata"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/logging"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/observability"
)

func newTestPool(t *testing.T, n int, builds *atomic.Int32) *Pool {
	t.Helper()
	p, err := New(Options{
		NumWorkers: n,
		Drivers: func() (*geodata.Drivers, error) {
			if builds != nil {
				builds.Add(1)
			}
			return geodata.NewDrivers(geodata.Config{}, logging.Noop())
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestResolveWorkers(t *testing.T) {
	cpus := cpuCount()
	for _, tc := range []struct {
		in   int
		want int
	}{
		{in: 3, want: 3},
		{in: HalfCPUs, want: max(1, cpus/2)},
		{in: AllButOneCPU, want: max(1, cpus-1)},
	} {
		got, err := ResolveWorkers(tc.in)
		if err != nil {
			t.Fatalf("ResolveWorkers(%d): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ResolveWorkers(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
	for _, bad := range []int{0, -3} {
		if _, err := ResolveWorkers(bad); !errors.Is(err, ErrPoolMisconfigured) {
			t.Fatalf("ResolveWorkers(%d) err = %v, want ErrPoolMisconfigured", bad, err)
		}
	}
}

func TestMapPreservesOrder(t *testing.T) {
	p := newTestPool(t, 3, nil)
	items := []int{5, 1, 4, 2, 3, 9, 8}
	got, err := Map(context.Background(), p, items, func(_ context.Context, _ *Worker, v int) (int, error) {
		return v * v, nil
	})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if diff := cmp.Diff([]int{25, 1, 16, 4, 9, 81, 64}, got); diff != "" {
		t.Fatalf("Map mismatch (-want +got):\n%s", diff)
	}
}

func TestMapReturnsFirstError(t *testing.T) {
	p := newTestPool(t, 2, nil)
	boom := errors.New("boom")
	_, err := Map(context.Background(), p, []int{0, 1, 2, 3}, func(_ context.Context, _ *Worker, v int) (int, error) {
		if v == 2 {
			return 0, boom
		}
		return v, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Map err = %v, want boom", err)
	}
}

func TestWorkersBuildDriversLazilyOnce(t *testing.T) {
	var builds atomic.Int32
	p := newTestPool(t, 2, &builds)
	if builds.Load() != 0 {
		t.Fatalf("drivers built before first task")
	}
	_, err := Map(context.Background(), p, make([]int, 20), func(_ context.Context, w *Worker, _ int) (bool, error) {
		d, err := w.Drivers()
		return d != nil, err
	})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if n := builds.Load(); n < 1 || n > 2 {
		t.Fatalf("drivers built %d times, want 1 or 2", n)
	}
}

func TestConfigureFromWorkerFails(t *testing.T) {
	p := newTestPool(t, 1, nil)
	res := ApplyAsync(context.Background(), p, func(ctx context.Context, _ *Worker) (bool, error) {
		return errors.Is(p.Configure(ctx, 2), ErrPoolMisconfigured), nil
	})
	rejected, err := res.Get(context.Background())
	if err != nil {
		t.Fatalf("ApplyAsync: %v", err)
	}
	if !rejected {
		t.Fatalf("Configure from worker succeeded, want ErrPoolMisconfigured")
	}
}

func TestConfigureDuringBatchFails(t *testing.T) {
	p := newTestPool(t, 1, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	res := ApplyAsync(context.Background(), p, func(context.Context, *Worker) (int, error) {
		close(started)
		<-release
		return 7, nil
	})
	<-started
	if err := p.Configure(context.Background(), 4); !errors.Is(err, ErrPoolMisconfigured) {
		t.Fatalf("Configure during batch err = %v, want ErrPoolMisconfigured", err)
	}
	close(release)
	if v, err := res.Get(context.Background()); err != nil || v != 7 {
		t.Fatalf("Get = %d, %v, want 7", v, err)
	}
	if err := p.Configure(context.Background(), 4); err != nil {
		t.Fatalf("Configure after batch: %v", err)
	}
	if p.NumWorkers() != 4 {
		t.Fatalf("NumWorkers = %d, want 4", p.NumWorkers())
	}
}

func TestRunOnEachWorker(t *testing.T) {
	p := newTestPool(t, 4, nil)
	got, err := RunOnEachWorker(context.Background(), p, func(_ context.Context, w *Worker) (int, error) {
		return w.ID, nil
	})
	if err != nil {
		t.Fatalf("RunOnEachWorker: %v", err)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3}, got); diff != "" {
		t.Fatalf("RunOnEachWorker mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectTileStatsRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	p, err := New(Options{
		NumWorkers: 2,
		Metrics:    metrics,
		Drivers: func() (*geodata.Drivers, error) {
			return geodata.NewDrivers(geodata.Config{}, logging.Noop())
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if got := testutil.ToFloat64(metrics.PoolWorkers); got != 2 {
		t.Fatalf("dpasim_pool_workers = %v, want 2", got)
	}
	// Workers that never built drivers report nothing.
	stats, err := p.CollectTileStats(context.Background())
	if err != nil {
		t.Fatalf("CollectTileStats: %v", err)
	}
	if len(stats) != 0 {
		t.Fatalf("stats = %+v, want none", stats)
	}
}
