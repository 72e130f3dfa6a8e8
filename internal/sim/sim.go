// Package sim wires a configured constellation, its topology builder and
// the routing engine onto one simulation clock.
package sim

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/leo-router/core"
	"github.com/signalsfoundry/leo-router/internal/config"
	"github.com/signalsfoundry/leo-router/internal/logging"
	"github.com/signalsfoundry/leo-router/internal/observability"
	"github.com/signalsfoundry/leo-router/internal/recorder"
	"github.com/signalsfoundry/leo-router/internal/routing"
	"github.com/signalsfoundry/leo-router/internal/sched"
	"github.com/signalsfoundry/leo-router/kb"
	"github.com/signalsfoundry/leo-router/model"
	"github.com/signalsfoundry/leo-router/timectrl"
)

// Simulation owns every component of one run. Components are exposed for
// read access; callers must not rewire them.
type Simulation struct {
	cfg      *config.Config
	log      logging.Logger
	registry *kb.KnowledgeBase
	network  *core.KnowledgeBase
	nodes    []core.Node
	builder  *core.TopologyBuilder
	mobility *core.MobilityService
	clock    *timectrl.TimeController
	events   sched.EventScheduler
	engine   *routing.Engine
	metrics  *observability.RoutingCollector
	recorder *recorder.Recorder

	mu      sync.Mutex
	started bool
}

type options struct {
	log       logging.Logger
	reg       prometheus.Registerer
	stations  *core.StationFile
	recorder  *recorder.Recorder
	listeners []routing.Listener
}

// Option customises Simulation construction.
type Option func(*options)

func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRegisterer registers routing metrics against reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// WithStations replaces the station file named in the configuration.
func WithStations(sf *core.StationFile) Option {
	return func(o *options) { o.stations = sf }
}

// WithRecorder records every routing cycle. The simulation closes it on
// Stop.
func WithRecorder(r *recorder.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

func WithListener(l routing.Listener) Option {
	return func(o *options) { o.listeners = append(o.listeners, l) }
}

// New builds the constellation described by cfg. Configuration errors are
// returned before anything is scheduled.
func New(cfg *config.Config, opts ...Option) (*Simulation, error) {
	if cfg == nil {
		return nil, fmt.Errorf("sim.New: %w: nil config", config.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sim.New: %w", err)
	}
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.log == nil {
		o.log = logging.Noop()
	}

	stations := o.stations
	if stations == nil {
		sf, err := loadStations(cfg.Ground.StationFile)
		if err != nil {
			return nil, fmt.Errorf("sim.New: %w", err)
		}
		stations = sf
	}

	start := cfg.Start()
	registry := kb.NewKnowledgeBase()
	network := core.NewKnowledgeBase(0)
	nodes, err := core.BuildConstellation(core.ConstellationSpec{
		Orbit:          cfg.Orbit(),
		Start:          start,
		GroundStations: stations.GroundStations,
		TLESatellites:  stations.TLESatellites,
	}, registry, network)
	if err != nil {
		return nil, fmt.Errorf("sim.New: %w", err)
	}

	builder, err := core.NewTopologyBuilder(network, registry, core.ChannelModel{DataRateBps: cfg.Ground.DataRateBps}, cfg.Topology())
	if err != nil {
		return nil, fmt.Errorf("sim.New: %w", err)
	}
	builder.Log = o.log

	s := &Simulation{
		cfg:      cfg,
		log:      o.log,
		registry: registry,
		network:  network,
		nodes:    nodes,
		builder:  builder,
		recorder: o.recorder,
	}
	s.mobility = &core.MobilityService{
		Registry:       registry,
		Nodes:          nodes,
		Log:            o.log,
		UpdateInterval: cfg.Routing.UpdateInterval,
	}

	mode := timectrl.RealTime
	if cfg.Simulation.Accelerated {
		mode = timectrl.Accelerated
	}
	s.clock = timectrl.NewTimeController(start, s.mobility.UpdateInterval, mode)
	s.events = sched.NewEventScheduler(s.clock)
	s.clock.AddListener(func(time.Time) { s.events.RunDue() })

	searcher, err := routing.NewSearcher(cfg.Routing.K)
	if err != nil {
		return nil, fmt.Errorf("sim.New: %w", err)
	}
	engineOpts := []routing.Option{
		routing.WithSearcher(searcher),
		routing.WithUpdateInterval(s.mobility.UpdateInterval),
		routing.WithIntervalOverride(cfg.Routing.IntervalOverride),
		routing.WithMobility(s.mobility),
		routing.WithWorkers(cfg.Routing.Workers),
		routing.WithStartTime(start),
		routing.WithTracer(observability.Tracer("github.com/signalsfoundry/leo-router/internal/routing")),
	}
	if cache := cfg.Cache(); cache != nil {
		key := cfg.CacheKey(len(stations.GroundStations))
		engineOpts = append(engineOpts, routing.WithCache(cache, key))
		if err := prepareCache(cache, key, registry); err != nil {
			return nil, fmt.Errorf("sim.New: %w", err)
		}
	}
	if o.reg != nil {
		metrics, err := observability.NewRoutingCollector(o.reg)
		if err != nil {
			return nil, fmt.Errorf("sim.New: %w", err)
		}
		s.metrics = metrics
		engineOpts = append(engineOpts, routing.WithMetrics(metrics))
	}
	if o.recorder != nil {
		engineOpts = append(engineOpts, routing.WithListener(o.recorder.Observe))
	}
	for _, l := range o.listeners {
		engineOpts = append(engineOpts, routing.WithListener(l))
	}

	engine, err := routing.NewEngine(builder, network, registry, s.events, o.log, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("sim.New: %w", err)
	}
	s.engine = engine
	return s, nil
}

func loadStations(path string) (*core.StationFile, error) {
	if path == "" {
		return &core.StationFile{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open station file: %w", err)
	}
	defer f.Close()
	return core.LoadStationFile(f)
}

// prepareCache checks the node index of an existing cache directory, or
// writes one when the cache will be populated.
func prepareCache(cache *routing.RouteCache, key routing.CacheKey, registry *kb.KnowledgeBase) error {
	names := registry.NameIndex()
	err := cache.CheckNodeIndex(key, names)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, routing.ErrCacheMiss) && cache.Mode.Saves():
		return cache.WriteNodeIndex(key, names)
	case errors.Is(err, routing.ErrCacheMiss):
		return nil
	default:
		return err
	}
}

func (s *Simulation) Config() *config.Config                   { return s.cfg }
func (s *Simulation) Registry() *kb.KnowledgeBase              { return s.registry }
func (s *Simulation) Network() *core.KnowledgeBase             { return s.network }
func (s *Simulation) Nodes() []core.Node                       { return s.nodes }
func (s *Simulation) Builder() *core.TopologyBuilder           { return s.builder }
func (s *Simulation) Engine() *routing.Engine                  { return s.engine }
func (s *Simulation) Clock() *timectrl.TimeController          { return s.clock }
func (s *Simulation) Metrics() *observability.RoutingCollector { return s.metrics }

// Forwarder returns the data plane of the named node.
func (s *Simulation) Forwarder(name string) (routing.Forwarder, error) {
	info, err := s.registry.NodeByName(name)
	if err != nil {
		return routing.Forwarder{}, err
	}
	return s.engine.Tables().Forwarder(info.ID), nil
}

// Counts returns the number of satellites and ground stations.
func (s *Simulation) Counts() (satellites, groundStations int) {
	return len(s.registry.Satellites()), len(s.registry.GroundStations())
}

// Start runs the initial cycle and schedules the periodic ones.
func (s *Simulation) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("sim.Start: already started")
	}
	sats, gs := s.Counts()
	s.log.Info(ctx, "starting simulation",
		logging.Int("satellites", sats),
		logging.Int("ground_stations", gs),
		logging.Float("altitude_km", s.cfg.Constellation.AltitudeKm),
		logging.Float("min_elevation_deg", s.cfg.Ground.MinElevationDeg),
		logging.Int("k", s.cfg.Routing.K),
		logging.Duration("interval", s.engine.Interval()),
	)
	if err := s.engine.Start(ctx); err != nil {
		return fmt.Errorf("sim.Start: %w", err)
	}
	s.started = true
	return nil
}

// Step advances the clock to the next scheduled event and runs
// everything due. It reports false when nothing is scheduled.
func (s *Simulation) Step() (time.Time, bool) {
	next, ok := s.events.Next()
	if !ok {
		return time.Time{}, false
	}
	return s.clock.AdvanceTo(next), true
}

// Run steps events until duration of simulation time has passed (forever
// when duration <= 0) or ctx is done. In real-time mode each step waits
// for the matching wall-clock time.
func (s *Simulation) Run(ctx context.Context, duration time.Duration) error {
	end := s.clock.Now().Add(duration)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, ok := s.events.Next()
		if !ok || (duration > 0 && next.After(end)) {
			break
		}
		if s.clock.Mode == timectrl.RealTime {
			if err := sleep(ctx, next.Sub(s.clock.Now())); err != nil {
				return err
			}
		}
		s.clock.AdvanceTo(next)
	}
	if duration > 0 {
		s.clock.SetTime(end)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stop cancels the routing timer and closes the recorder.
func (s *Simulation) Stop(ctx context.Context) error {
	s.engine.Stop()
	if s.recorder != nil {
		if err := s.recorder.Close(ctx); err != nil {
			return fmt.Errorf("sim.Stop: %w", err)
		}
	}
	return nil
}

// Table returns the forwarding table of the named node.
func (s *Simulation) Table(name string) (*routing.ForwardingTable, error) {
	info, err := s.registry.NodeByName(name)
	if err != nil {
		return nil, err
	}
	return s.engine.Tables().Table(info.ID), nil
}

// NodeName resolves an ID for log output.
func (s *Simulation) NodeName(id model.NodeID) string {
	info, err := s.registry.Node(id)
	if err != nil {
		return fmt.Sprintf("node-%d", id)
	}
	return info.Name
}
