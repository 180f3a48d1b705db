// Package aggregate estimates DPA neighborhood sizes by Monte-Carlo
// simulation of synthetic CBSD deployments around the DPA.
package aggregate

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gonum.org/v1/gonum/floats"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/dpa"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geo"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geodata"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/logging"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/observability"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/pool"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/movelist"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/propagation"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/synth"
)

// Mode selects the interference formulation of an iteration.
type Mode int

const (
	// ModeNTIA bisects the radius on the full interference chain.
	ModeNTIA Mode = iota
	// ModeWinnForum takes the farthest grant of the reference move list.
	ModeWinnForum
)

func (m Mode) String() string {
	switch m {
	case ModeNTIA:
		return "ntia"
	case ModeWinnForum:
		return "winnforum"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode reads a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ntia":
		return ModeNTIA, nil
	case "winnforum", "wf":
		return ModeWinnForum, nil
	default:
		return 0, fmt.Errorf("unknown aggregate mode %q", s)
	}
}

// NTIA interference chain constants.
const (
	ReferenceBandwidthHz  = 5e6
	TxInsertionLossDB     = 2.0
	RxInsertionLossDB     = 2.0
	InBandInsertionLossDB = 2.0
)

// Defaults of a calculator.
const (
	DefaultNumIter      = 100
	DefaultMoveListIter = 100
	DefaultRadiusTolKm  = 0.1
	ResultPercentile    = 0.95
)

// DefaultSimulationDistances bound the deployment disk per category.
var DefaultSimulationDistances = movelist.CategoryDistances{CatAKm: 150, CatBKm: 200}

// DeploymentOptions describe the synthetic population of every iteration.
type DeploymentOptions struct {
	Population synth.PopulationRetriever
	Ratios     *synth.Ratios
	Region     *model.RegionType
	// SimulationDistances limits each category to a disk around the DPA.
	SimulationDistances movelist.CategoryDistances
	// Kinds lists the separate runs, access points and user equipments by
	// default.
	Kinds []synth.Kind
}

// Option configures a calculator.
type Option func(*AggregateInterferenceMonteCarloCalculator)

// WithMode selects the interference formulation.
func WithMode(m Mode) Option {
	return func(c *AggregateInterferenceMonteCarloCalculator) { c.mode = m }
}

// WithIterations sets the Monte-Carlo iterations per run.
func WithIterations(n int) Option {
	return func(c *AggregateInterferenceMonteCarloCalculator) { c.numIter = n }
}

// WithMoveListIterations sets the move list iterations of WinnForum mode.
func WithMoveListIterations(n int) Option {
	return func(c *AggregateInterferenceMonteCarloCalculator) { c.moveListIter = n }
}

// WithSeed sets the seed from which every iteration stream is derived.
func WithSeed(seed int64) Option {
	return func(c *AggregateInterferenceMonteCarloCalculator) { c.seed = seed }
}

// WithChannel sets the protected channel. It defaults to the first DPA
// channel.
func WithChannel(ch model.Channel) Option {
	return func(c *AggregateInterferenceMonteCarloCalculator) { c.channel = &ch }
}

// WithDeployment sets the population of every iteration.
func WithDeployment(d DeploymentOptions) Option {
	return func(c *AggregateInterferenceMonteCarloCalculator) { c.deployment = d }
}

// WithPool runs the iterations on p.
func WithPool(p *pool.Pool) Option {
	return func(c *AggregateInterferenceMonteCarloCalculator) { c.pool = p }
}

// WithGeodata sets the geo data of the calculator's own pool.
func WithGeodata(cfg geodata.Config) Option {
	return func(c *AggregateInterferenceMonteCarloCalculator) { c.geodata = cfg }
}

// WithModelFactory replaces the propagation model of both modes.
func WithModelFactory(f propagation.ModelFactory) Option {
	return func(c *AggregateInterferenceMonteCarloCalculator) {
		c.modelFactory = func(propagation.Options) propagation.ModelFactory { return f }
	}
}

// WithProgress sets a callback run after every finished iteration, possibly
// from several workers at once.
func WithProgress(fn func()) Option {
	return func(c *AggregateInterferenceMonteCarloCalculator) { c.progress = fn }
}

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(c *AggregateInterferenceMonteCarloCalculator) { c.log = l }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *observability.SimCollector) Option {
	return func(c *AggregateInterferenceMonteCarloCalculator) { c.metrics = m }
}

// AggregateInterferenceMonteCarloCalculator finds the neighborhood radius of
// a DPA: the smallest disk whose suppression keeps the aggregate
// interference at the DPA center under threshold in 95% of deployments.
type AggregateInterferenceMonteCarloCalculator struct {
	dpa          *dpa.Dpa
	mode         Mode
	numIter      int
	moveListIter int
	seed         int64
	channel      *model.Channel
	deployment   DeploymentOptions
	pool         *pool.Pool
	geodata      geodata.Config
	modelFactory func(propagation.Options) propagation.ModelFactory
	progress     func()
	log          logging.Logger
	metrics      *observability.SimCollector
}

// NewCalculator builds a calculator for d.
func NewCalculator(d *dpa.Dpa, opts ...Option) (*AggregateInterferenceMonteCarloCalculator, error) {
	if d == nil {
		return nil, fmt.Errorf("aggregate calculator without DPA")
	}
	c := &AggregateInterferenceMonteCarloCalculator{
		dpa:          d,
		numIter:      DefaultNumIter,
		moveListIter: DefaultMoveListIter,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.log = logging.OrNoop(c.log).With(logging.String("dpa", d.Name), logging.String("mode", c.mode.String()))
	if c.mode != ModeNTIA && c.mode != ModeWinnForum {
		return nil, fmt.Errorf("unknown aggregate mode %v", c.mode)
	}
	if c.numIter <= 0 {
		return nil, fmt.Errorf("aggregate iterations %d must be positive", c.numIter)
	}
	if c.channel == nil {
		if len(d.Channels) == 0 {
			return nil, fmt.Errorf("%w: DPA %s has no channels", dpa.ErrInvariantViolation, d.Name)
		}
		ch := d.Channels[0]
		c.channel = &ch
	}
	if c.deployment.Population == nil {
		c.deployment.Population = synth.DensityModel{Region: model.RegionSuburban}
	}
	if c.deployment.SimulationDistances == (movelist.CategoryDistances{}) {
		c.deployment.SimulationDistances = DefaultSimulationDistances
	}
	if len(c.deployment.Kinds) == 0 {
		c.deployment.Kinds = []synth.Kind{synth.AccessPoint, synth.UserEquipment}
	}
	if c.modelFactory == nil {
		log := c.log
		c.modelFactory = func(o propagation.Options) propagation.ModelFactory {
			return propagation.Factory(o, log)
		}
	}
	return c, nil
}

// CategoryResult is the percentile outcome of one category.
type CategoryResult struct {
	DistanceKm      float64
	InterferenceDBm float64
}

// KindResult holds the outcome of one deployment kind.
type KindResult struct {
	CatA CategoryResult
	CatB CategoryResult
	// RadiiA and RadiiB hold the per-iteration radii, in iteration order.
	RadiiA []float64
	RadiiB []float64
}

// AggregateInterferenceMonteCarloResults is the record of one calculation.
type AggregateInterferenceMonteCarloResults struct {
	RunID     string
	Dpa       string
	Mode      Mode
	Channel   model.Channel
	NumIter   int
	Distances movelist.CategoryDistances
	// Interferences are the co-percentile aggregates, in dBm over the
	// reference bandwidth, of the run that set each distance.
	Interferences map[model.Category]float64
	PerKind       map[synth.Kind]KindResult
	Elapsed       time.Duration
}

type iterTask struct {
	kind int
	iter int
}

type iterResult struct {
	radius  [2]float64
	aggDBm  [2]float64
	retries int
}

// Calculate runs every kind and returns the category-wise maximum
// distances.
func (c *AggregateInterferenceMonteCarloCalculator) Calculate(ctx context.Context) (_ *AggregateInterferenceMonteCarloResults, err error) {
	start := time.Now()
	ctx, log := logging.WithRunLogger(ctx, c.log)
	runID := logging.RunIDFromContext(ctx)
	ctx, span := observability.StartSpan(ctx, "aggregate.Calculate",
		attribute.String("dpa", c.dpa.Name),
		attribute.String("mode", c.mode.String()),
		attribute.Int("iterations", c.numIter),
	)
	defer func() { observability.EndSpan(span, err) }()

	p := c.pool
	if p == nil {
		if p, err = pool.New(pool.Options{NumWorkers: pool.HalfCPUs, Geodata: c.geodata, Logger: log, Metrics: c.metrics}); err != nil {
			return nil, err
		}
		defer p.Close()
	}

	lat, lon := geo.Centroid(c.dpa.Geometry)
	s := site{
		point:        model.ProtectionPoint{Latitude: lat, Longitude: lon},
		radarHeightM: c.dpa.RadarHeightM,
		beamwidthDeg: c.dpa.BeamwidthDeg,
		azimuths:     c.dpa.Azimuths(),
	}
	propOpts := propagation.Options{}
	if c.mode == ModeNTIA {
		propOpts = propagation.Options{Hybrid: true, AddClutter: true}
	}
	factory := c.modelFactory(propOpts)

	tasks := make([]iterTask, 0, len(c.deployment.Kinds)*c.numIter)
	for k := range c.deployment.Kinds {
		for i := 0; i < c.numIter; i++ {
			tasks = append(tasks, iterTask{kind: k, iter: i})
		}
	}
	results, err := pool.Map(ctx, p, tasks, func(ctx context.Context, w *pool.Worker, t iterTask) (iterResult, error) {
		drivers, err := w.Drivers()
		if err != nil {
			return iterResult{}, err
		}
		r, err := c.iterate(ctx, factory(drivers), drivers.LandCover, s, t)
		if err != nil {
			return iterResult{}, fmt.Errorf("%v iteration %d: %w", c.deployment.Kinds[t.kind], t.iter, err)
		}
		c.metrics.IncAggregateIterations(c.mode.String(), c.deployment.Kinds[t.kind].String())
		if c.progress != nil {
			c.progress()
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := p.CollectTileStats(ctx); err != nil {
		log.Warn(ctx, "tile stats collection failed", logging.Err(err))
	}

	out := &AggregateInterferenceMonteCarloResults{
		RunID:         runID,
		Dpa:           c.dpa.Name,
		Mode:          c.mode,
		Channel:       *c.channel,
		NumIter:       c.numIter,
		Interferences: map[model.Category]float64{model.CategoryA: math.Inf(-1), model.CategoryB: math.Inf(-1)},
		PerKind:       make(map[synth.Kind]KindResult, len(c.deployment.Kinds)),
	}
	retries := 0
	for k, kind := range c.deployment.Kinds {
		kr := KindResult{
			RadiiA: make([]float64, c.numIter),
			RadiiB: make([]float64, c.numIter),
		}
		aggA := make([]float64, c.numIter)
		aggB := make([]float64, c.numIter)
		for i, r := range results[k*c.numIter : (k+1)*c.numIter] {
			kr.RadiiA[i], kr.RadiiB[i] = r.radius[0], r.radius[1]
			aggA[i], aggB[i] = r.aggDBm[0], r.aggDBm[1]
			retries += r.retries
		}
		kr.CatA = coPercentile(kr.RadiiA, aggA)
		kr.CatB = coPercentile(kr.RadiiB, aggB)
		out.PerKind[kind] = kr
		for _, cat := range model.Categories {
			cr := kr.CatA
			if cat == model.CategoryB {
				cr = kr.CatB
			}
			if k == 0 || cr.DistanceKm > out.Distances.Get(cat) {
				setDistance(&out.Distances, cat, cr.DistanceKm)
				out.Interferences[cat] = cr.InterferenceDBm
			}
		}
	}
	c.metrics.AddPropagationRetries(retries)
	out.Elapsed = time.Since(start)

	log.Info(ctx, "aggregate interference run finished",
		logging.Float64("cat_a_km", out.Distances.CatAKm),
		logging.Float64("cat_b_km", out.Distances.CatBKm),
		logging.Int("iterations", c.numIter),
		logging.Int("propagation_retries", retries),
		logging.Duration("elapsed", out.Elapsed),
	)
	span.SetAttributes(
		attribute.Float64("cat_a_km", out.Distances.CatAKm),
		attribute.Float64("cat_b_km", out.Distances.CatBKm),
	)
	return out, nil
}

func setDistance(d *movelist.CategoryDistances, cat model.Category, km float64) {
	if cat == model.CategoryA {
		d.CatAKm = km
	} else {
		d.CatBKm = km
	}
}

// iterate runs one deployment draw. The stream depends only on the seed,
// the kind and the iteration index.
func (c *AggregateInterferenceMonteCarloCalculator) iterate(ctx context.Context, pm propagation.Model,
	lc *geodata.LandCoverDriver, s site, t iterTask,
) (iterResult, error) {
	rng := rand.New(rand.NewPCG(uint64(c.seed), uint64(t.kind*c.numIter+t.iter)))
	dists := c.deployment.SimulationDistances
	cbsds, err := synth.Synthesize(ctx, lc, synth.Options{
		Kind:       c.deployment.Kinds[t.kind],
		CenterLat:  s.point.Latitude,
		CenterLon:  s.point.Longitude,
		RadiusKm:   math.Max(dists.CatAKm, dists.CatBKm),
		Population: c.deployment.Population,
		Ratios:     c.deployment.Ratios,
		Region:     c.deployment.Region,
		Channel:    *c.channel,
	}, rng)
	if err != nil {
		return iterResult{}, err
	}
	grants := make([]model.Grant, 0, len(cbsds))
	for _, cb := range cbsds {
		d, _, _ := geo.GeodesicDistanceBearing(s.point.Latitude, s.point.Longitude, cb.Grant.Latitude, cb.Grant.Longitude)
		if d <= dists.Get(cb.Grant.Category) {
			grants = append(grants, cb.Grant)
		}
	}

	var r iterResult
	switch c.mode {
	case ModeNTIA:
		band := model.FrequencyRange{LowHz: c.channel.LowHz, HighHz: c.channel.LowHz + ReferenceBandwidthHz}
		threshold := c.dpa.ThresholdDBm + 10*math.Log10(ReferenceBandwidthHz/c.channel.WidthHz())
		lossDB := TxInsertionLossDB + RxInsertionLossDB + InBandInsertionLossDB
		cs, retries, err := contributions(ctx, pm, grants, s, band, lossDB, rng)
		if err != nil {
			return iterResult{}, err
		}
		r.retries = retries
		for k, cat := range model.Categories {
			r.radius[k], r.aggDBm[k] = bisectRadius(cs, cat, dists.Get(cat), threshold, DefaultRadiusTolKm)
		}
	case ModeWinnForum:
		moved, retries, err := winnForumDistances(ctx, pm, grants, s, *c.channel, dists, c.dpa.ThresholdDBm, c.moveListIter, rng)
		if err != nil {
			return iterResult{}, err
		}
		cs, more, err := contributions(ctx, pm, grants, s, *c.channel, 0, rng)
		if err != nil {
			return iterResult{}, err
		}
		r.retries = retries + more
		for k, cat := range model.Categories {
			r.radius[k] = moved.Get(cat)
			r.aggDBm[k] = aggregateBeyond(cs, cat, r.radius[k])
		}
	}
	return r, nil
}

// coPercentile returns the nearest-rank 95th percentile of radii together
// with the aggregate of the iteration that produced it.
func coPercentile(radii, aggDBm []float64) CategoryResult {
	if len(radii) == 0 {
		return CategoryResult{InterferenceDBm: math.Inf(-1)}
	}
	sorted := append([]float64(nil), radii...)
	idx := make([]int, len(sorted))
	floats.Argsort(sorted, idx)
	k := int(math.Ceil(ResultPercentile*float64(len(sorted)))) - 1
	k = min(max(k, 0), len(sorted)-1)
	return CategoryResult{DistanceKm: sorted[k], InterferenceDBm: aggDBm[idx[k]]}
}
