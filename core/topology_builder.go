// core/topology_builder.go
package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/leo-router/internal/logging"
	"github.com/signalsfoundry/leo-router/kb"
	"github.com/signalsfoundry/leo-router/model"
)

const (
	// DefaultMaxGroundRangeM is the FCC-derived slant range limit for
	// ground links.
	DefaultMaxGroundRangeM = 1123e3
	DefaultMinElevationDeg = 10.0
)

// TopologyOptions configure link construction.
type TopologyOptions struct {
	Planes       int
	SatsPerPlane int

	// EnableISL turns inter-satellite links on.
	EnableISL bool
	// InterPlaneWrap connects the last plane back to plane 0.
	InterPlaneWrap bool

	MinElevationDeg float64
	MaxGroundRangeM float64

	Metric LinkMetric
}

// Churn counts ground link changes of one update.
type Churn struct {
	Added   int
	Removed int
	Kept    int

	AddedIDs   []string
	RemovedIDs []string
}

// TopologyBuilder maintains the link set of the constellation: the static
// inter-satellite grid and the ground links that follow visibility.
type TopologyBuilder struct {
	KB       *KnowledgeBase
	Registry *kb.KnowledgeBase
	Channel  ChannelModel
	Options  TopologyOptions
	Log      logging.Logger
}

// NewTopologyBuilder validates options and fills defaults.
func NewTopologyBuilder(network *KnowledgeBase, registry *kb.KnowledgeBase, channel ChannelModel, opts TopologyOptions) (*TopologyBuilder, error) {
	if network == nil || registry == nil {
		return nil, fmt.Errorf("NewTopologyBuilder: nil knowledge base")
	}
	if opts.Metric == "" {
		opts.Metric = MetricDelay
	}
	if _, err := ParseLinkMetric(string(opts.Metric)); err != nil {
		return nil, fmt.Errorf("NewTopologyBuilder: %w", err)
	}
	if opts.MaxGroundRangeM <= 0 {
		opts.MaxGroundRangeM = DefaultMaxGroundRangeM
	}
	if channel.DataRateBps <= 0 {
		channel.DataRateBps = DefaultDataRateBps
	}
	return &TopologyBuilder{
		KB:       network,
		Registry: registry,
		Channel:  channel,
		Options:  opts,
		Log:      logging.Noop(),
	}, nil
}

// IsInterSatelliteLink reports whether two satellites are grid neighbours:
// adjacent slots in one plane (wrapping inside the plane), or the same
// slot in adjacent planes (wrapping only with InterPlaneWrap).
func (tb *TopologyBuilder) IsInterSatelliteLink(a, b model.NodeInfo) bool {
	if !a.OnGrid() || !b.OnGrid() || a.ID == b.ID {
		return false
	}
	spp, planes := tb.Options.SatsPerPlane, tb.Options.Planes
	if a.Plane == b.Plane {
		d := absInt(a.Slot - b.Slot)
		return d == 1 || (spp > 2 && d == spp-1)
	}
	if a.Slot != b.Slot {
		return false
	}
	d := absInt(a.Plane - b.Plane)
	return d == 1 || (tb.Options.InterPlaneWrap && planes > 2 && d == planes-1)
}

// EstablishInterSatelliteLinks creates the static grid once. It returns
// the number of links created.
func (tb *TopologyBuilder) EstablishInterSatelliteLinks(ctx context.Context) (int, error) {
	if !tb.Options.EnableISL {
		return 0, nil
	}
	sats := tb.Registry.Satellites()
	grid := make(map[[2]int]model.NodeInfo, len(sats))
	for _, s := range sats {
		if s.OnGrid() {
			grid[[2]int{s.Plane, s.Slot}] = s
		}
	}

	created := 0
	var errs []error
	for _, s := range sats {
		if !s.OnGrid() {
			continue
		}
		neighbours := [][2]int{
			{s.Plane, (s.Slot + 1) % tb.Options.SatsPerPlane},
			{s.Plane + 1, s.Slot},
		}
		if s.Plane+1 == tb.Options.Planes {
			neighbours[1] = [2]int{0, s.Slot}
		}
		for _, key := range neighbours {
			peer, ok := grid[key]
			if !ok || !tb.IsInterSatelliteLink(s, peer) {
				continue
			}
			if _, exists := tb.KB.LinkBetween(LinkKindISL, s.ID, peer.ID); exists {
				continue
			}
			if _, err := tb.KB.Connect(LinkKindISL, s.ID, peer.ID, tb.Channel.DataRateBps); err != nil {
				errs = append(errs, err)
				continue
			}
			created++
		}
	}
	tb.Log.Info(ctx, "inter-satellite links established", logging.Int("links", created))
	if err := errors.Join(errs...); err != nil {
		return created, fmt.Errorf("EstablishInterSatelliteLinks: %w", err)
	}
	return created, nil
}

// Reachable is the ground link predicate: the satellite must be above the
// minimum elevation and within the maximum slant range.
func (tb *TopologyBuilder) Reachable(station, sat model.Geodetic) bool {
	return tb.reachable(station, GeodeticToECEF(station), GeodeticToECEF(sat))
}

func (tb *TopologyBuilder) reachable(station model.Geodetic, gs, sat Vec3) bool {
	la := lookAngles(station, gs, sat)
	return la.ElevationDeg > tb.Options.MinElevationDeg && la.RangeM <= tb.Options.MaxGroundRangeM
}

type positioned struct {
	info model.NodeInfo
	geo  model.Geodetic
	ecef Vec3
}

func (tb *TopologyBuilder) positioned(nodes []model.NodeInfo) []positioned {
	out := make([]positioned, 0, len(nodes))
	for _, n := range nodes {
		pos, ok := tb.Registry.Position(n.ID)
		if !ok {
			continue
		}
		out = append(out, positioned{info: n, geo: pos.Geodetic, ecef: GeodeticToECEF(pos.Geodetic)})
	}
	return out
}

// UpdateGroundLinks creates links to newly visible satellites and tears
// down links to satellites that are no longer reachable. Pairs where
// either node has no position are left untouched. A failing pair does not
// stop the others; all failures are returned together.
func (tb *TopologyBuilder) UpdateGroundLinks(ctx context.Context) (Churn, error) {
	var churn Churn
	var errs []error
	stations := tb.positioned(tb.Registry.GroundStations())
	sats := tb.positioned(tb.Registry.Satellites())

	for _, g := range stations {
		for _, s := range sats {
			visible := tb.reachable(g.geo, g.ecef, s.ecef)
			link, linked := tb.KB.LinkBetween(LinkKindGSL, g.info.ID, s.info.ID)
			switch {
			case visible && !linked:
				created, err := tb.KB.Connect(LinkKindGSL, g.info.ID, s.info.ID, tb.Channel.DataRateBps)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				churn.Added++
				churn.AddedIDs = append(churn.AddedIDs, created.ID)
			case !visible && linked:
				if err := tb.KB.Disconnect(link.ID); err != nil {
					errs = append(errs, err)
					continue
				}
				churn.Removed++
				churn.RemovedIDs = append(churn.RemovedIDs, link.ID)
			case linked:
				churn.Kept++
			}
		}
	}
	if churn.Added > 0 || churn.Removed > 0 {
		tb.Log.Debug(ctx, "ground links updated",
			logging.Int("added", churn.Added),
			logging.Int("removed", churn.Removed),
			logging.Int("kept", churn.Kept),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return churn, fmt.Errorf("UpdateGroundLinks: %w", err)
	}
	return churn, nil
}

// UpdateLinkWeights recomputes distance, delay and weight for every link.
// Links with an unpositioned endpoint keep their previous values.
func (tb *TopologyBuilder) UpdateLinkWeights(ctx context.Context) error {
	var errs []error
	for _, l := range tb.KB.Links() {
		pa, okA := tb.Registry.Position(l.NodeA)
		pb, okB := tb.Registry.Position(l.NodeB)
		if !okA || !okB {
			continue
		}
		l.DistanceM = Distance(pa.Geodetic, pb.Geodetic)
		l.DelaySeconds = PropagationDelay(l.DistanceM)
		if err := tb.KB.SetLinkMetrics(l.ID, l.DistanceM, l.DelaySeconds, tb.Options.Metric.Weight(l)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("UpdateLinkWeights: %w", err)
	}
	return nil
}

// Rebuild runs one periodic topology update.
func (tb *TopologyBuilder) Rebuild(ctx context.Context) (Churn, error) {
	churn, err := tb.UpdateGroundLinks(ctx)
	return churn, errors.Join(err, tb.UpdateLinkWeights(ctx))
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
