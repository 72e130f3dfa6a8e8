package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RoutingCollector exposes routing engine metrics.
type RoutingCollector struct {
	gatherer prometheus.Gatherer

	PhaseDuration       *prometheus.HistogramVec
	Rebuilds            *prometheus.CounterVec
	Links               prometheus.Gauge
	ConnectedInterfaces prometheus.Gauge
	ForwardingEntries   prometheus.Gauge
	PropagationFailures prometheus.Counter
	GroundLinkChanges   *prometheus.CounterVec
	UnresolvedNextHops  prometheus.Counter
	CacheLookups        *prometheus.CounterVec
}

// NewRoutingCollector registers routing metrics against the provided
// registerer, defaulting to the global registry when nil.
func NewRoutingCollector(reg prometheus.Registerer) (*RoutingCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	phase, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "routing_phase_duration_seconds",
		Help:    "Duration of each routing cycle phase.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"phase"}), "routing_phase_duration_seconds")
	if err != nil {
		return nil, err
	}

	rebuilds, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routing_rebuilds_total",
		Help: "Routing cycles, labeled by variant and result.",
	}, []string{"variant", "result"}), "routing_rebuilds_total")
	if err != nil {
		return nil, err
	}

	links, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "topology_links",
		Help: "Links in the current topology snapshot.",
	}), "topology_links")
	if err != nil {
		return nil, err
	}
	ifaces, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "topology_connected_interfaces",
		Help: "Connected non-loopback interfaces in the current snapshot.",
	}), "topology_connected_interfaces")
	if err != nil {
		return nil, err
	}
	entries, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "routing_forwarding_entries",
		Help: "Installed forwarding entries across all nodes.",
	}), "routing_forwarding_entries")
	if err != nil {
		return nil, err
	}

	propFailures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbit_propagation_failures_total",
		Help: "Node position updates skipped because propagation failed.",
	}), "orbit_propagation_failures_total")
	if err != nil {
		return nil, err
	}

	churn, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "topology_ground_link_changes_total",
		Help: "Ground links created and torn down, labeled by change.",
	}, []string{"change"}), "topology_ground_link_changes_total")
	if err != nil {
		return nil, err
	}

	unresolved, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "routing_unresolved_next_hops_total",
		Help: "Data-plane lookups that found no forwarding entry.",
	}), "routing_unresolved_next_hops_total")
	if err != nil {
		return nil, err
	}

	cache, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routing_cache_lookups_total",
		Help: "Route cache lookups, labeled by result.",
	}, []string{"result"}), "routing_cache_lookups_total")
	if err != nil {
		return nil, err
	}

	return &RoutingCollector{
		gatherer:            gatherer,
		PhaseDuration:       phase,
		Rebuilds:            rebuilds,
		Links:               links,
		ConnectedInterfaces: ifaces,
		ForwardingEntries:   entries,
		PropagationFailures: propFailures,
		GroundLinkChanges:   churn,
		UnresolvedNextHops:  unresolved,
		CacheLookups:        cache,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *RoutingCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObservePhase records how long one cycle phase took.
func (c *RoutingCollector) ObservePhase(phase string, d time.Duration) {
	if c == nil || c.PhaseDuration == nil {
		return
	}
	c.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// IncRebuild counts a finished cycle.
func (c *RoutingCollector) IncRebuild(variant, result string) {
	if c == nil || c.Rebuilds == nil {
		return
	}
	c.Rebuilds.WithLabelValues(variant, result).Inc()
}

// SetTopology updates the snapshot gauges.
func (c *RoutingCollector) SetTopology(links, connectedInterfaces, entries int) {
	if c == nil {
		return
	}
	if c.Links != nil {
		c.Links.Set(float64(links))
	}
	if c.ConnectedInterfaces != nil {
		c.ConnectedInterfaces.Set(float64(connectedInterfaces))
	}
	if c.ForwardingEntries != nil {
		c.ForwardingEntries.Set(float64(entries))
	}
}

// AddGroundChurn counts ground link changes of one cycle.
func (c *RoutingCollector) AddGroundChurn(added, removed int) {
	if c == nil || c.GroundLinkChanges == nil {
		return
	}
	c.GroundLinkChanges.WithLabelValues("added").Add(float64(added))
	c.GroundLinkChanges.WithLabelValues("removed").Add(float64(removed))
}

// IncCacheLookup counts a route cache hit or miss.
func (c *RoutingCollector) IncCacheLookup(result string) {
	if c == nil || c.CacheLookups == nil {
		return
	}
	c.CacheLookups.WithLabelValues(result).Inc()
}

// AddPropagationFailures counts skipped position updates.
func (c *RoutingCollector) AddPropagationFailures(n int) {
	if c == nil || c.PropagationFailures == nil || n <= 0 {
		return
	}
	c.PropagationFailures.Add(float64(n))
}

// IncUnresolvedNextHop counts a data-plane miss.
func (c *RoutingCollector) IncUnresolvedNextHop() {
	if c == nil || c.UnresolvedNextHops == nil {
		return
	}
	c.UnresolvedNextHops.Inc()
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
