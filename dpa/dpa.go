// Package dpa manages Dynamic Protection Areas: their geometry and
// protection points, the grants bound to them, the per-channel move lists
// and the keep-list interference check.
package dpa

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/paulmach/orb"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/antenna"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geo"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geodata"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/interference"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/logging"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/observability"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/pool"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/movelist"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/propagation"
)

// ErrInvariantViolation is returned when a DPA is used out of order or with
// a channel outside its range.
var ErrInvariantViolation = errors.New("DPA invariant violation")

// State is the lifecycle stage of a Dpa.
type State int

const (
	StateCreated State = iota
	StateGrantsBound
	StateMoveListReady
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateGrantsBound:
		return "GRANTS_BOUND"
	case StateMoveListReady:
		return "MOVE_LIST_READY"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Dpa is one protection area with its bound grants and move lists. A Dpa
// has a single owner and is not safe for concurrent use.
type Dpa struct {
	Name             string
	Geometry         orb.MultiPolygon
	ProtectionPoints []model.ProtectionPoint
	Channels         []model.Channel
	Neighbors        interference.NeighborDistances
	Type             interference.DpaType
	RadarHeightM     float64
	BeamwidthDeg     float64
	// AzimuthRangeDeg is nil for an omni radar.
	AzimuthRangeDeg *[2]float64
	ThresholdDBm    float64 // per 10 MHz
	NumIter         int
	Portal          bool

	state     State
	grants    []model.Grant
	index     *interference.GrantIndex
	moveLists []mapset.Set[int]
	neighbors []mapset.Set[int]
	propOpts  propagation.Options

	seed         int64
	registry     *Registry
	portalFile   string
	points       []model.ProtectionPoint
	pool         *pool.Pool
	geodata      geodata.Config
	modelFactory func(propagation.Options) propagation.ModelFactory
	log          logging.Logger
	metrics      *observability.SimCollector
}

// Option customises BuildDpa.
type Option func(*Dpa)

// WithRegistry looks the DPA up in r instead of the bundled coastal DPAs.
func WithRegistry(r *Registry) Option {
	return func(d *Dpa) { d.registry = r }
}

// WithPortalFile loads the DPA from a KML or GeoJSON portal DPA file.
func WithPortalFile(path string) Option {
	return func(d *Dpa) { d.portalFile = path }
}

// WithProtectionPoints bypasses the points method.
func WithProtectionPoints(pts []model.ProtectionPoint) Option {
	return func(d *Dpa) { d.points = pts }
}

// WithPool runs the DPA's tasks on p. Without it the DPA builds its own pool
// over the WithGeodata configuration.
func WithPool(p *pool.Pool) Option {
	return func(d *Dpa) { d.pool = p }
}

// WithGeodata sets the geo data of the DPA's own pool.
func WithGeodata(cfg geodata.Config) Option {
	return func(d *Dpa) { d.geodata = cfg }
}

// WithModelFactory replaces the propagation model, whatever the hybrid and
// clutter flags of ComputeMoveLists.
func WithModelFactory(f propagation.ModelFactory) Option {
	return func(d *Dpa) {
		d.modelFactory = func(propagation.Options) propagation.ModelFactory { return f }
	}
}

// WithSeed sets the Monte-Carlo seed.
func WithSeed(seed int64) Option {
	return func(d *Dpa) { d.seed = seed }
}

// WithNumIterations sets the Monte-Carlo iterations per protection point.
func WithNumIterations(n int) Option {
	return func(d *Dpa) { d.NumIter = n }
}

// WithDpaType selects co-channel or out-of-band protection.
func WithDpaType(t interference.DpaType) Option {
	return func(d *Dpa) { d.Type = t }
}

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(d *Dpa) { d.log = l }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *observability.SimCollector) Option {
	return func(d *Dpa) { d.metrics = m }
}

// BuildDpa creates the DPA called name from the bundled coastal DPAs, a
// registry or a portal DPA file, and samples its protection points with
// pointsMethod (see ParsePointsMethod).
func BuildDpa(name, pointsMethod string, opts ...Option) (*Dpa, error) {
	d := &Dpa{NumIter: DefaultNumIter}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.log = logging.OrNoop(d.log).With(logging.String("dpa", name))
	if d.modelFactory == nil {
		log := d.log
		d.modelFactory = func(o propagation.Options) propagation.ModelFactory {
			return propagation.Factory(o, log)
		}
	}

	reg, err := d.lookupRegistry()
	if err != nil {
		return nil, err
	}
	def, err := reg.Lookup(name)
	if err != nil {
		return nil, err
	}
	d.Name = def.Name
	d.Geometry = def.Geometry
	d.Neighbors = def.Neighbors
	d.RadarHeightM = def.RadarHeightM
	d.BeamwidthDeg = def.BeamwidthDeg
	d.AzimuthRangeDeg = def.AzimuthRangeDeg
	d.ThresholdDBm = def.ThresholdDBm
	d.Portal = def.Portal

	pts := d.points
	if pts == nil {
		policy, csvPath, err := ParsePointsMethod(pointsMethod)
		if err != nil {
			return nil, err
		}
		if policy != nil {
			pts = policy.Generate(def.Geometry, reg.Border())
		} else if pts, err = readPointsCSV(csvPath); err != nil {
			return nil, err
		}
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("%w: DPA %s has no protection points", ErrInvariantViolation, d.Name)
	}
	for _, p := range pts {
		if !geo.Contains(def.Geometry, p.Latitude, p.Longitude) {
			return nil, fmt.Errorf("%w: protection point %v outside DPA %s", ErrInvariantViolation, p, d.Name)
		}
	}
	d.ProtectionPoints = pts

	if err := d.ResetFreqRange(def.FreqRangesMHz); err != nil {
		return nil, err
	}
	d.log.Info(context.Background(), "DPA built",
		logging.Int("protection_points", len(d.ProtectionPoints)),
		logging.Int("channels", len(d.Channels)),
		logging.Bool("portal", d.Portal),
	)
	return d, nil
}

func (d *Dpa) lookupRegistry() (*Registry, error) {
	if d.portalFile == "" {
		if d.registry != nil {
			return d.registry, nil
		}
		return CoastalRegistry()
	}
	reg := NewRegistry()
	if coastal, err := CoastalRegistry(); err == nil {
		for _, ls := range coastal.Border() {
			reg.AddBorder(ls)
		}
	}
	if err := reg.LoadFile(d.portalFile); err != nil {
		return nil, err
	}
	return reg, nil
}

// State returns the lifecycle stage.
func (d *Dpa) State() State { return d.state }

// Grants returns the bound grant snapshot.
func (d *Dpa) Grants() []model.Grant { return d.grants }

// ResetFreqRange replaces the channelization by tiling the MHz ranges into
// 10 MHz channels. Move lists are cleared.
func (d *Dpa) ResetFreqRange(rangesMHz [][2]float64) error {
	channels, err := model.TileChannels(rangesMHz)
	if err != nil {
		return fmt.Errorf("DPA %s: %w", d.Name, err)
	}
	if len(channels) == 0 {
		return fmt.Errorf("%w: DPA %s has no channels", ErrInvariantViolation, d.Name)
	}
	d.Channels = channels
	d.clearMoveLists()
	return nil
}

// SetGrantsFromList binds a grant snapshot. Move lists are cleared.
func (d *Dpa) SetGrantsFromList(grants []model.Grant) error {
	for i, g := range grants {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("grant %d: %w", i, err)
		}
	}
	snapshot := append([]model.Grant(nil), grants...)
	index, err := interference.NewGrantIndex(snapshot)
	if err != nil {
		return fmt.Errorf("index grants: %w", err)
	}
	d.grants = snapshot
	d.index = index
	d.state = StateGrantsBound
	d.clearMoveLists()
	return nil
}

func (d *Dpa) clearMoveLists() {
	d.moveLists = nil
	d.neighbors = nil
	if d.state == StateMoveListReady {
		d.state = StateGrantsBound
	}
}

// channelIndex returns the position of ch in the channelization.
func (d *Dpa) channelIndex(ch model.Channel) (int, error) {
	for i, c := range d.Channels {
		if c == ch {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: channel %v not in DPA %s", ErrInvariantViolation, ch, d.Name)
}

func (d *Dpa) requireState(want State, op string) error {
	if d.state < want {
		return fmt.Errorf("%w: %s on DPA %s in state %s", ErrInvariantViolation, op, d.Name, d.state)
	}
	return nil
}

// Azimuths returns the radar pointing directions to protect, spaced by half
// a beamwidth across the azimuth range, or nil for an omni radar.
func (d *Dpa) Azimuths() []float64 {
	return radarAzimuths(d.AzimuthRangeDeg, d.BeamwidthDeg)
}

func radarAzimuths(rg *[2]float64, beamwidthDeg float64) []float64 {
	if rg == nil {
		return nil
	}
	lo, hi := rg[0], rg[1]
	if hi < lo {
		hi += 360
	}
	if hi-lo >= 360 {
		return nil
	}
	step := beamwidthDeg / 2
	if step <= 0 {
		step = DefaultBeamwidthDeg / 2
	}
	n := int(math.Floor((hi - lo) / step))
	out := make([]float64, 0, n+2)
	for i := 0; i <= n; i++ {
		out = append(out, math.Mod(lo+float64(i)*step, 360))
	}
	if last := lo + float64(n)*step; hi-last > 1e-9 {
		out = append(out, math.Mod(hi, 360))
	}
	return out
}

func (d *Dpa) workers() (*pool.Pool, error) {
	if d.pool != nil {
		return d.pool, nil
	}
	p, err := pool.New(pool.Options{
		NumWorkers: pool.HalfCPUs,
		Geodata:    d.geodata,
		Logger:     d.log,
		Metrics:    d.metrics,
	})
	if err != nil {
		return nil, err
	}
	d.pool = p
	return p, nil
}

type task struct {
	ch, pt int
}

// rng returns the independent stream of one (channel, point) task.
func (d *Dpa) rng(t task) *rand.Rand {
	id := t.ch*len(d.ProtectionPoints) + t.pt
	return rand.New(rand.NewPCG(uint64(d.seed), uint64(id)))
}

func channelLabel(ch model.Channel) string {
	return fmt.Sprintf("%g-%g", ch.LowHz/1e6, ch.HighHz/1e6)
}

// ComputeMoveLists runs the move-list engine on every (protection point,
// channel) pair and stores, per channel, the union of the point move lists
// and neighbor lists.
func (d *Dpa) ComputeMoveLists(ctx context.Context, hybrid, addClutter bool) (err error) {
	if err := d.requireState(StateGrantsBound, "ComputeMoveLists"); err != nil {
		return err
	}
	ctx, span := observability.StartSpan(ctx, "dpa.ComputeMoveLists",
		attribute.String("dpa", d.Name),
		attribute.Int("grants", len(d.grants)),
		attribute.Int("protection_points", len(d.ProtectionPoints)),
		attribute.Int("channels", len(d.Channels)),
	)
	defer func() { observability.EndSpan(span, err) }()

	p, err := d.workers()
	if err != nil {
		return err
	}
	start := time.Now()
	d.propOpts = propagation.Options{Hybrid: hybrid, AddClutter: addClutter}
	factory := d.modelFactory(d.propOpts)
	azimuths := d.Azimuths()

	tasks := make([]task, 0, len(d.Channels)*len(d.ProtectionPoints))
	for c := range d.Channels {
		for pt := range d.ProtectionPoints {
			tasks = append(tasks, task{ch: c, pt: pt})
		}
	}
	results, err := pool.Map(ctx, p, tasks, func(ctx context.Context, w *pool.Worker, t task) (movelist.Result, error) {
		drivers, err := w.Drivers()
		if err != nil {
			return movelist.Result{}, err
		}
		ch := d.Channels[t.ch]
		res, err := movelist.Compute(ctx, factory(drivers), d.index, movelist.Request{
			Point:        d.ProtectionPoints[t.pt],
			Channel:      ch,
			DpaType:      d.Type,
			Neighbors:    d.Neighbors,
			ThresholdDBm: d.ThresholdDBm,
			RadarHeightM: d.RadarHeightM,
			BeamwidthDeg: d.BeamwidthDeg,
			Azimuths:     azimuths,
			NumIter:      d.NumIter,
		}, d.rng(t))
		if err != nil {
			return movelist.Result{}, err
		}
		d.metrics.IncMoveListTasks(d.Name, channelLabel(ch))
		return res, nil
	})
	if err != nil {
		return fmt.Errorf("DPA %s move lists: %w", d.Name, err)
	}

	moveLists := make([]mapset.Set[int], len(d.Channels))
	neighbors := make([]mapset.Set[int], len(d.Channels))
	for c := range d.Channels {
		moveLists[c] = mapset.NewSet[int]()
		neighbors[c] = mapset.NewSet[int]()
	}
	retries := 0
	for i, res := range results {
		c := tasks[i].ch
		moveLists[c] = moveLists[c].Union(res.MoveList)
		neighbors[c] = neighbors[c].Union(res.Neighbors)
		retries += res.Retries
	}
	d.moveLists = moveLists
	d.neighbors = neighbors
	d.state = StateMoveListReady

	if _, err := p.CollectTileStats(ctx); err != nil {
		d.log.Warn(ctx, "collect tile stats failed", logging.Err(err))
	}
	elapsed := time.Since(start)
	d.metrics.AddPropagationRetries(retries)
	d.metrics.ObserveMoveListDuration(d.Name, elapsed)
	for c, ch := range d.Channels {
		d.log.Debug(ctx, "move list computed",
			logging.String("channel", channelLabel(ch)),
			logging.Int("moved", moveLists[c].Cardinality()),
			logging.Int("neighbors", neighbors[c].Cardinality()),
		)
	}
	d.log.Info(ctx, "move lists computed",
		logging.Int("tasks", len(tasks)),
		logging.Int("propagation_retries", retries),
		logging.Bool("hybrid", hybrid),
		logging.Bool("clutter", addClutter),
		logging.String("elapsed", elapsed.String()),
	)
	return nil
}

// GetMoveList returns the grant indices to move off ch.
func (d *Dpa) GetMoveList(ch model.Channel) (mapset.Set[int], error) {
	if err := d.requireState(StateMoveListReady, "GetMoveList"); err != nil {
		return nil, err
	}
	c, err := d.channelIndex(ch)
	if err != nil {
		return nil, err
	}
	return d.moveLists[c].Clone(), nil
}

// GetMoveListMask returns, per bound grant, whether it is moved off ch.
func (d *Dpa) GetMoveListMask(ch model.Channel) ([]bool, error) {
	moved, err := d.GetMoveList(ch)
	if err != nil {
		return nil, err
	}
	mask := make([]bool, len(d.grants))
	moved.Each(func(i int) bool {
		mask[i] = true
		return false
	})
	return mask, nil
}

// GetNeighborList returns the grants inside the neighborhood of any
// protection point on ch.
func (d *Dpa) GetNeighborList(ch model.Channel) (mapset.Set[int], error) {
	if err := d.requireState(StateGrantsBound, "GetNeighborList"); err != nil {
		return nil, err
	}
	c, err := d.channelIndex(ch)
	if err != nil {
		return nil, err
	}
	if d.neighbors != nil {
		return d.neighbors[c].Clone(), nil
	}
	out := mapset.NewSet[int]()
	for _, p := range d.ProtectionPoints {
		out.Append(d.index.FindInsideNeighborhood(model.NewDpaConstraint(p, ch), d.Type, d.Neighbors)...)
	}
	return out, nil
}

// GetDpaNeighborhoodDistance returns, per CBSD category, the largest
// distance between a protection point and a grant moved off ch.
func (d *Dpa) GetDpaNeighborhoodDistance(ch model.Channel) (movelist.CategoryDistances, error) {
	moved, err := d.GetMoveList(ch)
	if err != nil {
		return movelist.CategoryDistances{}, err
	}
	return movelist.MaximumMoveListDistance(d.grants, moved, d.ProtectionPoints), nil
}

// pointCheck is the outcome of the interference check at one point.
type pointCheck struct {
	UutDBm float64
	RefDBm float64
	Passed bool
}

// CheckInterference reports whether the aggregate interference of the
// keep list stays acceptable at every protection point on ch. At each point
// only keep-list grants inside the point's neighborhood contribute, and the
// 95th percentile, maximized over radar azimuths, is compared with
// threshold + marginDB when absCheck is set, and otherwise with the larger
// of the threshold and the level of the DPA's own keep list, plus marginDB.
// The Monte-Carlo draws repeat those of ComputeMoveLists. A nil keepList is
// an empty one.
func (d *Dpa) CheckInterference(ctx context.Context, keepList mapset.Set[int], marginDB float64, ch model.Channel, absCheck bool) (passed bool, err error) {
	need := StateMoveListReady
	if absCheck {
		need = StateGrantsBound
	}
	if err := d.requireState(need, "CheckInterference"); err != nil {
		return false, err
	}
	c, err := d.channelIndex(ch)
	if err != nil {
		return false, err
	}
	if keepList == nil {
		keepList = mapset.NewSet[int]()
	}
	var badID error
	keepList.Each(func(i int) bool {
		if i < 0 || i >= len(d.grants) {
			badID = fmt.Errorf("%w: keep list grant %d not bound to DPA %s", ErrInvariantViolation, i, d.Name)
			return true
		}
		return false
	})
	if badID != nil {
		return false, badID
	}

	ctx, span := observability.StartSpan(ctx, "dpa.CheckInterference",
		attribute.String("dpa", d.Name),
		attribute.String("channel", channelLabel(ch)),
		attribute.Int("keep_list", keepList.Cardinality()),
		attribute.Bool("absolute", absCheck),
	)
	defer func() {
		span.SetAttributes(attribute.Bool("passed", passed))
		observability.EndSpan(span, err)
	}()

	p, err := d.workers()
	if err != nil {
		return false, err
	}
	factory := d.modelFactory(d.propOpts)
	var moved mapset.Set[int]
	if !absCheck {
		moved = d.moveLists[c]
	}
	azimuths := d.Azimuths()
	points := make([]int, len(d.ProtectionPoints))
	for i := range points {
		points[i] = i
	}
	checks, err := pool.Map(ctx, p, points, func(ctx context.Context, w *pool.Worker, pt int) (pointCheck, error) {
		drivers, err := w.Drivers()
		if err != nil {
			return pointCheck{}, err
		}
		return d.checkPoint(ctx, factory(drivers), task{ch: c, pt: pt}, keepList, moved, azimuths, marginDB)
	})
	if err != nil {
		return false, fmt.Errorf("DPA %s interference check: %w", d.Name, err)
	}

	passed = true
	for i, pc := range checks {
		if pc.Passed {
			continue
		}
		passed = false
		d.log.Info(ctx, "interference check failed at protection point",
			logging.String("channel", channelLabel(ch)),
			logging.String("point", d.ProtectionPoints[i].String()),
			logging.Float64("uut_dbm", pc.UutDBm),
			logging.Float64("ref_dbm", pc.RefDBm),
			logging.Float64("threshold_dbm", d.ThresholdDBm),
			logging.Float64("margin_db", marginDB),
		)
	}
	d.metrics.IncInterferenceChecks(d.Name, passed)
	return passed, nil
}

func (d *Dpa) checkPoint(ctx context.Context, pm propagation.Model, t task, keep, moved mapset.Set[int],
	azimuths []float64, marginDB float64,
) (pointCheck, error) {
	ch := d.Channels[t.ch]
	c := model.NewDpaConstraint(d.ProtectionPoints[t.pt], ch)
	ids := d.index.FindInsideNeighborhood(c, d.Type, d.Neighbors)
	res := pointCheck{UutDBm: math.Inf(-1), RefDBm: math.Inf(-1), Passed: true}
	if len(ids) == 0 {
		return res, nil
	}
	m, err := interference.FormInterferenceMatrix(ctx, pm, d.grants, ids, c, d.RadarHeightM, d.NumIter, d.rng(t))
	if err != nil {
		return pointCheck{}, err
	}
	uut := make([]bool, len(m.GrantIDs))
	ref := make([]bool, len(m.GrantIDs))
	for j, id := range m.GrantIDs {
		uut[j] = keep.Contains(id)
		ref[j] = moved != nil && !moved.Contains(id)
	}
	res.UutDBm = worstQuantile(m, uut, azimuths, d.BeamwidthDeg)
	if moved == nil {
		res.Passed = res.UutDBm <= d.ThresholdDBm+marginDB
		return res, nil
	}
	res.RefDBm = worstQuantile(m, ref, azimuths, d.BeamwidthDeg)
	res.Passed = res.UutDBm <= math.Max(res.RefDBm, d.ThresholdDBm)+marginDB
	return res, nil
}

// worstQuantile returns the largest move-list percentile of the live
// aggregate over the radar azimuths.
func worstQuantile(m interference.Matrix, live []bool, azimuths []float64, beamwidthDeg float64) float64 {
	if len(azimuths) == 0 {
		return interference.Quantile(interference.MoveListPercentile, m.Aggregate(live, nil))
	}
	worst := math.Inf(-1)
	for _, az := range azimuths {
		offsets := antenna.GetRadarNormalizedAntennaGains(m.ArrivalDeg, az, beamwidthDeg)
		worst = math.Max(worst, interference.Quantile(interference.MoveListPercentile, m.Aggregate(live, offsets)))
	}
	return worst
}
