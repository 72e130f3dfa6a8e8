package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/leo-router/core"
	"github.com/signalsfoundry/leo-router/internal/logging"
	"github.com/signalsfoundry/leo-router/internal/sched"
	"github.com/signalsfoundry/leo-router/model"
)

// Epsilon is added to the mobility interval so that a routing cycle runs
// after the position update of the same instant.
const Epsilon = time.Nanosecond

// Phase is the engine's position in a rebuild cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRebuildingTopology
	PhaseRecomputingDistances
	PhaseComputingPaths
	PhaseInstallingTables
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRebuildingTopology:
		return "rebuilding_topology"
	case PhaseRecomputingDistances:
		return "recomputing_distances"
	case PhaseComputingPaths:
		return "computing_paths"
	case PhaseInstallingTables:
		return "installing_tables"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Variant distinguishes the first cycle, which also builds the
// inter-satellite grid, from the periodic ones.
type Variant int

const (
	VariantInitial Variant = iota
	VariantPeriodic
)

func (v Variant) String() string {
	if v == VariantInitial {
		return "initial"
	}
	return "periodic"
}

// Topology is the link maintenance the engine drives each cycle.
// *core.TopologyBuilder implements it.
type Topology interface {
	EstablishInterSatelliteLinks(ctx context.Context) (int, error)
	UpdateGroundLinks(ctx context.Context) (core.Churn, error)
	UpdateLinkWeights(ctx context.Context) error
}

// SnapshotSource provides the link state to route over.
// *core.KnowledgeBase implements it.
type SnapshotSource interface {
	Snapshot() core.Snapshot
}

// Registry enumerates nodes. *kb.KnowledgeBase implements it.
type Registry interface {
	NumNodes() int
	NameIndex() map[string]model.NodeID
}

// Mobility refreshes node positions before the topology is rebuilt.
// *core.MobilityService implements it.
type Mobility interface {
	UpdatePositions(ctx context.Context, t time.Time) (core.MobilityReport, error)
}

// Metrics receives engine measurements. The observability package's
// RoutingCollector implements it.
type Metrics interface {
	DropRecorder
	ObservePhase(phase string, d time.Duration)
	IncRebuild(variant, result string)
	SetTopology(links, connectedInterfaces, entries int)
	AddGroundChurn(added, removed int)
	IncCacheLookup(result string)
	AddPropagationFailures(n int)
}

// RebuildReport summarises one cycle.
type RebuildReport struct {
	Variant    Variant
	SimTime    time.Time
	Positions  core.MobilityReport
	Churn      core.Churn
	Links      int
	Entries    int
	Partitions int
	CacheHit   bool
	Duration   time.Duration
	Err        error
}

// Listener observes completed cycles.
type Listener func(RebuildReport)

type engineOptions struct {
	searcher  *Searcher
	cache     *RouteCache
	cacheKey  CacheKey
	metrics   Metrics
	tracer    trace.Tracer
	interval  time.Duration
	override  time.Duration
	listeners []Listener
	mobility  Mobility
	workers   int
	start     time.Time
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithSearcher sets the path searcher. The default finds one path.
func WithSearcher(s *Searcher) Option {
	return func(o *engineOptions) { o.searcher = s }
}

// WithCache enables the route cache for key.
func WithCache(c *RouteCache, key CacheKey) Option {
	return func(o *engineOptions) { o.cache, o.cacheKey = c, key }
}

func WithMetrics(m Metrics) Option {
	return func(o *engineOptions) { o.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *engineOptions) { o.tracer = t }
}

// WithUpdateInterval sets the mobility update interval the routing timer
// follows.
func WithUpdateInterval(d time.Duration) Option {
	return func(o *engineOptions) { o.interval = d }
}

// WithIntervalOverride replaces the derived routing interval.
func WithIntervalOverride(d time.Duration) Option {
	return func(o *engineOptions) { o.override = d }
}

func WithListener(l Listener) Option {
	return func(o *engineOptions) { o.listeners = append(o.listeners, l) }
}

func WithMobility(m Mobility) Option {
	return func(o *engineOptions) { o.mobility = m }
}

// WithWorkers bounds the number of sources searched in parallel.
func WithWorkers(n int) Option {
	return func(o *engineOptions) { o.workers = n }
}

// WithStartTime sets the simulation start used to derive cache ticks.
func WithStartTime(t time.Time) Option {
	return func(o *engineOptions) { o.start = t }
}

// Engine runs the periodic topology and routing cycle on a scheduler.
type Engine struct {
	topo      Topology
	snaps     SnapshotSource
	registry  Registry
	scheduler sched.EventScheduler
	log       logging.Logger
	opts      engineOptions
	tables    *Tables

	mu      sync.Mutex
	phase   Phase
	timerID string
	running bool
	ctx     context.Context
	last    RebuildReport
}

// NewEngine wires an engine. All dependencies are required except log.
func NewEngine(topo Topology, snaps SnapshotSource, registry Registry, scheduler sched.EventScheduler, log logging.Logger, opts ...Option) (*Engine, error) {
	if topo == nil || snaps == nil || registry == nil || scheduler == nil {
		return nil, errors.New("NewEngine: missing dependency")
	}
	if log == nil {
		log = logging.Noop()
	}
	o := engineOptions{interval: time.Second, workers: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.searcher == nil {
		o.searcher = &Searcher{K: 1}
	}
	if o.searcher.K < 1 {
		return nil, fmt.Errorf("NewEngine: %w (got %d)", ErrInvalidK, o.searcher.K)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("github.com/signalsfoundry/leo-router/internal/routing")
	}
	if o.workers < 1 {
		o.workers = 1
	}
	if o.start.IsZero() {
		o.start = scheduler.Now()
	}

	var drops DropRecorder
	if o.metrics != nil {
		drops = o.metrics
	}
	return &Engine{
		topo:      topo,
		snaps:     snaps,
		registry:  registry,
		scheduler: scheduler,
		log:       log,
		opts:      o,
		tables:    NewTables(drops),
	}, nil
}

// Tables returns the engine's forwarding tables.
func (e *Engine) Tables() *Tables { return e.tables }

// Phase reports the current cycle phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// LastReport returns the report of the most recent cycle.
func (e *Engine) LastReport() RebuildReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Interval is the time between periodic cycles.
func (e *Engine) Interval() time.Duration {
	if e.opts.override > 0 {
		return e.opts.override
	}
	return e.opts.interval + Epsilon
}

// Start runs the initial cycle synchronously and schedules the first
// periodic one. An initial cycle error is returned and nothing is
// scheduled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("Engine.Start: already running")
	}
	e.running = true
	e.ctx = context.WithoutCancel(ctx)
	e.mu.Unlock()

	if _, err := e.Rebuild(ctx, VariantInitial); err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		e.scheduleLocked()
	}
	return nil
}

// Stop cancels the pending cycle. It is safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	if e.timerID != "" {
		e.scheduler.Cancel(e.timerID)
		e.timerID = ""
	}
}

// NOTE: caller must hold e.mu.
func (e *Engine) scheduleLocked() {
	e.timerID = e.scheduler.Schedule(e.scheduler.Now().Add(e.Interval()), e.onTimer)
}

func (e *Engine) onTimer() {
	e.mu.Lock()
	e.timerID = ""
	if !e.running {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	e.mu.Unlock()

	// Errors are already logged, counted and reported to listeners.
	_, _ = e.Rebuild(ctx, VariantPeriodic)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running && e.timerID == "" {
		e.scheduleLocked()
	}
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

// runPhase executes fn as phase p inside its own span.
func (e *Engine) runPhase(ctx context.Context, p Phase, fn func(context.Context) error) error {
	e.setPhase(p)
	ctx, span := e.opts.tracer.Start(ctx, "routing."+p.String())
	start := time.Now()
	err := fn(ctx)
	if e.opts.metrics != nil {
		e.opts.metrics.ObservePhase(p.String(), time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	return err
}

// Rebuild runs one full cycle now. It does not observe ctx cancellation
// once started. Failures are contained: the report is still delivered to
// listeners and the error is returned.
func (e *Engine) Rebuild(ctx context.Context, variant Variant) (rep RebuildReport, err error) {
	began := time.Now()
	now := e.scheduler.Now()
	tick := now.Sub(e.opts.start)
	if tick < 0 {
		tick = 0
	}
	ctx, log := logging.WithTickLogger(ctx, e.log, uint64(tick.Milliseconds()))
	rep = RebuildReport{Variant: variant, SimTime: now}

	ctx, span := e.opts.tracer.Start(context.WithoutCancel(ctx), "routing.rebuild",
		trace.WithAttributes(
			attribute.String("variant", variant.String()),
			attribute.Int64("tick_ms", tick.Milliseconds()),
		))
	defer func() {
		e.setPhase(PhaseIdle)
		rep.Duration = time.Since(began)
		rep.Err = err
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error(ctx, "routing cycle failed", logging.String("variant", variant.String()), logging.Err(err))
		}
		span.End()
		if e.opts.metrics != nil {
			e.opts.metrics.IncRebuild(variant.String(), result)
		}
		e.mu.Lock()
		e.last = rep
		e.mu.Unlock()
		for _, l := range e.opts.listeners {
			l(rep)
		}
	}()

	if e.opts.mobility != nil {
		rep.Positions, err = e.opts.mobility.UpdatePositions(ctx, now)
		if e.opts.metrics != nil && rep.Positions.Failed > 0 {
			e.opts.metrics.AddPropagationFailures(rep.Positions.Failed)
		}
		if err != nil {
			return rep, fmt.Errorf("Rebuild: %w", err)
		}
	}

	// Topology and weight failures are partial: routing still runs over
	// whatever link state resulted and the tick reports the error.
	var partial []error
	topoErr := e.runPhase(ctx, PhaseRebuildingTopology, func(ctx context.Context) error {
		var errs []error
		if variant == VariantInitial {
			n, err := e.topo.EstablishInterSatelliteLinks(ctx)
			errs = append(errs, err)
			log.Debug(ctx, "grid built", logging.Int("isl", n))
		}
		churn, err := e.topo.UpdateGroundLinks(ctx)
		rep.Churn = churn
		if e.opts.metrics != nil {
			e.opts.metrics.AddGroundChurn(churn.Added, churn.Removed)
		}
		return errors.Join(append(errs, err)...)
	})
	partial = append(partial, topoErr)

	var g *Graph
	var snap core.Snapshot
	weightErr := e.runPhase(ctx, PhaseRecomputingDistances, func(ctx context.Context) error {
		err := e.topo.UpdateLinkWeights(ctx)
		snap = e.snaps.Snapshot()
		g = BuildGraph(snap, e.registry.NumNodes())
		return err
	})
	partial = append(partial, weightErr)
	rep.Links = len(snap.Links)

	var routes []Route
	err = e.runPhase(ctx, PhaseComputingPaths, func(ctx context.Context) error {
		cached, hit, err := e.loadCached(ctx, log, g, tick)
		if err != nil {
			return err
		}
		if hit {
			rep.CacheHit = true
			routes = cached
			return nil
		}
		routes, rep.Partitions = e.computeRoutes(g)
		if errors.Join(partial...) == nil {
			e.saveCached(ctx, log, tick, routes)
		}
		return nil
	})
	if err != nil {
		e.tables.Clear()
		return rep, fmt.Errorf("Rebuild: %w", errors.Join(append(partial, err)...))
	}

	_ = e.runPhase(ctx, PhaseInstallingTables, func(ctx context.Context) error {
		rep.Entries = e.tables.Install(g, routes)
		return nil
	})
	if e.opts.metrics != nil {
		e.opts.metrics.SetTopology(rep.Links, connectedInterfaces(snap), rep.Entries)
	}

	log.Info(ctx, "routing cycle complete",
		logging.String("variant", variant.String()),
		logging.Int("links", rep.Links),
		logging.Int("entries", rep.Entries),
		logging.Int("gsl_added", rep.Churn.Added),
		logging.Int("gsl_removed", rep.Churn.Removed),
		logging.Int("partitions", rep.Partitions),
	)
	if err := errors.Join(partial...); err != nil {
		return rep, fmt.Errorf("Rebuild: %w", err)
	}
	return rep, nil
}

// loadCached returns cached routes for tick when the cache is in a load
// mode. A miss is only an error under MissFail.
func (e *Engine) loadCached(ctx context.Context, log logging.Logger, g *Graph, tick time.Duration) ([]Route, bool, error) {
	c := e.opts.cache
	if c == nil || !c.Mode.Loads() {
		return nil, false, nil
	}
	routes, err := e.readRoutes(g, tick)
	if err == nil {
		if e.opts.metrics != nil {
			e.opts.metrics.IncCacheLookup("hit")
		}
		return routes, true, nil
	}
	if e.opts.metrics != nil {
		e.opts.metrics.IncCacheLookup("miss")
	}
	log.Warn(ctx, "route cache miss",
		logging.String("key", e.opts.cacheKey.Dir()),
		logging.String("policy", c.OnMiss.String()),
		logging.Err(err),
	)
	if c.OnMiss == MissFail {
		if !errors.Is(err, ErrCacheMiss) {
			err = fmt.Errorf("%w: %w", ErrCacheMiss, err)
		}
		return nil, false, err
	}
	return nil, false, nil
}

func (e *Engine) readRoutes(g *Graph, tick time.Duration) ([]Route, error) {
	c, key := e.opts.cache, e.opts.cacheKey
	if err := c.CheckNodeIndex(key, e.registry.NameIndex()); err != nil {
		return nil, err
	}
	var routes []Route
	for rank := 1; rank <= e.opts.searcher.K; rank++ {
		triples, err := c.Load(key, tick, rank)
		if err != nil {
			return nil, err
		}
		for _, r := range RoutesFromTriples(triples, rank) {
			if !g.InterfaceConnectedOn(r.Interface, r.Source) {
				return nil, fmt.Errorf("%w: interface %d not connected on node %d", ErrCacheMismatch, r.Interface, r.Source)
			}
			routes = append(routes, r)
		}
	}
	return routes, nil
}

func (e *Engine) saveCached(ctx context.Context, log logging.Logger, tick time.Duration, routes []Route) {
	c, key := e.opts.cache, e.opts.cacheKey
	if c == nil || !c.Mode.Saves() {
		return
	}
	err := c.WriteNodeIndex(key, e.registry.NameIndex())
	for rank := 1; err == nil && rank <= e.opts.searcher.K; rank++ {
		err = c.Save(key, tick, rank, TriplesForRank(routes, rank))
	}
	if err != nil {
		log.Warn(ctx, "route cache write failed", logging.Err(err))
	}
}

// computeRoutes searches every source, using up to opts.workers
// goroutines, and merges results in source order.
func (e *Engine) computeRoutes(g *Graph) ([]Route, int) {
	n := g.Order()
	perSource := make([][]Route, n)
	partitions := make([]int, n)

	sources := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < e.opts.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for src := range sources {
				perSource[src], partitions[src] = e.routesFrom(g, model.NodeID(src))
			}
		}()
	}
	for src := 0; src < n; src++ {
		sources <- src
	}
	close(sources)
	wg.Wait()

	var routes []Route
	total := 0
	for src := 0; src < n; src++ {
		routes = append(routes, perSource[src]...)
		total += partitions[src]
	}
	return routes, total
}

func (e *Engine) routesFrom(g *Graph, src model.NodeID) ([]Route, int) {
	var out []Route
	reached := make(map[model.NodeID]bool)
	for p := range e.opts.searcher.From(g, src) {
		reached[p.Dest] = true
		if r, ok := g.RouteFor(p); ok {
			out = append(out, r)
		}
	}
	return out, g.Order() - 1 - len(reached)
}

func connectedInterfaces(snap core.Snapshot) int {
	n := 0
	for _, intf := range snap.Interfaces {
		if intf.Connected && !intf.Loopback {
			n++
		}
	}
	return n
}
