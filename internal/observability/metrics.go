package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geodata"
)

// SimCollector bundles the Prometheus metrics of a simulation run.
type SimCollector struct {
	gatherer prometheus.Gatherer

	MoveListTasks       *prometheus.CounterVec
	MoveListDuration    *prometheus.HistogramVec
	TileSwaps           *prometheus.CounterVec
	TileCacheActive     *prometheus.GaugeVec
	PropagationRetries  prometheus.Counter
	AggregateIterations *prometheus.CounterVec
	PoolWorkers         prometheus.Gauge
	InterferenceChecks  *prometheus.CounterVec
}

// NewSimCollector registers the simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	tasks, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dpasim_movelist_tasks_total",
		Help: "Move-list tasks completed, labeled by DPA and channel.",
	}, []string{"dpa", "channel"}), "dpasim_movelist_tasks_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dpasim_movelist_duration_seconds",
		Help:    "Wall time of a full move-list computation for one DPA.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
	}, []string{"dpa"}), "dpasim_movelist_duration_seconds")
	if err != nil {
		return nil, err
	}

	swaps, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dpasim_tile_swaps_total",
		Help: "Tiles evicted from the geo data caches, labeled by driver.",
	}, []string{"driver"}), "dpasim_tile_swaps_total")
	if err != nil {
		return nil, err
	}

	active, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dpasim_tile_cache_active",
		Help: "Tiles currently held by the geo data caches, distinct over workers.",
	}, []string{"driver"}), "dpasim_tile_cache_active")
	if err != nil {
		return nil, err
	}

	retries, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dpasim_propagation_retries_total",
		Help: "Propagation evaluations drawn again after a failure.",
	}), "dpasim_propagation_retries_total")
	if err != nil {
		return nil, err
	}

	iterations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dpasim_aggregate_iterations_total",
		Help: "Aggregate interference Monte-Carlo iterations, labeled by mode and device kind.",
	}, []string{"mode", "kind"}), "dpasim_aggregate_iterations_total")
	if err != nil {
		return nil, err
	}

	workers, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dpasim_pool_workers",
		Help: "Configured number of pool workers.",
	}), "dpasim_pool_workers")
	if err != nil {
		return nil, err
	}

	checks, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dpasim_interference_checks_total",
		Help: "Keep-list interference checks, labeled by DPA and result.",
	}, []string{"dpa", "result"}), "dpasim_interference_checks_total")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:            gatherer,
		MoveListTasks:       tasks,
		MoveListDuration:    duration,
		TileSwaps:           swaps,
		TileCacheActive:     active,
		PropagationRetries:  retries,
		AggregateIterations: iterations,
		PoolWorkers:         workers,
		InterferenceChecks:  checks,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// IncMoveListTasks counts one finished (point, channel) task.
func (c *SimCollector) IncMoveListTasks(dpa, channel string) {
	if c == nil || c.MoveListTasks == nil {
		return
	}
	c.MoveListTasks.WithLabelValues(dpa, channel).Inc()
}

// ObserveMoveListDuration records the duration of a DPA move-list run.
func (c *SimCollector) ObserveMoveListDuration(dpa string, d time.Duration) {
	if c == nil || c.MoveListDuration == nil {
		return
	}
	c.MoveListDuration.WithLabelValues(dpa).Observe(d.Seconds())
}

// AddPropagationRetries counts redrawn propagation evaluations.
func (c *SimCollector) AddPropagationRetries(n int) {
	if c == nil || c.PropagationRetries == nil || n <= 0 {
		return
	}
	c.PropagationRetries.Add(float64(n))
}

// RecordTileStats adds the swaps of a batch and sets the active tile
// gauges. Stats from several workers are merged per driver first.
func (c *SimCollector) RecordTileStats(stats []geodata.TileStats) {
	if c == nil {
		return
	}
	merged := map[string]geodata.TileStats{}
	var order []string
	for _, s := range stats {
		m, ok := merged[s.Driver]
		if !ok {
			order = append(order, s.Driver)
			m = geodata.TileStats{Driver: s.Driver}
		}
		m.Merge(s)
		merged[s.Driver] = m
	}
	for _, name := range order {
		s := merged[name]
		if c.TileSwaps != nil {
			c.TileSwaps.WithLabelValues(name).Add(float64(s.TotalSwaps()))
		}
		if c.TileCacheActive != nil {
			c.TileCacheActive.WithLabelValues(name).Set(float64(len(s.ActiveTiles)))
		}
	}
}

// IncAggregateIterations counts one aggregate interference iteration.
func (c *SimCollector) IncAggregateIterations(mode, kind string) {
	if c == nil || c.AggregateIterations == nil {
		return
	}
	c.AggregateIterations.WithLabelValues(mode, kind).Inc()
}

// SetPoolWorkers updates the worker gauge.
func (c *SimCollector) SetPoolWorkers(n int) {
	if c == nil || c.PoolWorkers == nil {
		return
	}
	c.PoolWorkers.Set(float64(n))
}

// IncInterferenceChecks counts one keep-list check outcome.
func (c *SimCollector) IncInterferenceChecks(dpa string, passed bool) {
	if c == nil || c.InterferenceChecks == nil {
		return
	}
	result := "fail"
	if passed {
		result = "pass"
	}
	c.InterferenceChecks.WithLabelValues(dpa, result).Inc()
}
