package core

import (
	"context"
	"testing"

	"github.com/signalsfoundry/leo-router/kb"
	"github.com/signalsfoundry/leo-router/model"
)

type testTopology struct {
	registry *kb.KnowledgeBase
	network  *KnowledgeBase
	builder  *TopologyBuilder
	sats     []model.NodeID
	stations []model.NodeID
}

func newTestTopology(t *testing.T, planes, spp int, stations ...model.Geodetic) *testTopology {
	t.Helper()
	tt := &testTopology{registry: kb.NewKnowledgeBase(), network: NewKnowledgeBase(DefaultAddressBase)}
	for p := 0; p < planes; p++ {
		for s := 0; s < spp; s++ {
			id, err := tt.registry.AddNode(model.NodeInfo{Name: SatelliteName(p, s), Kind: model.KindSatellite, Plane: p, Slot: s})
			if err != nil {
				t.Fatalf("AddNode: %v", err)
			}
			tt.sats = append(tt.sats, id)
		}
	}
	for i, site := range stations {
		id, err := tt.registry.AddNode(model.NodeInfo{Name: "gs-" + string(rune('a'+i)), Kind: model.KindGroundStation, Plane: -1, Slot: -1})
		if err != nil {
			t.Fatalf("AddNode: %v", err)
		}
		tt.setPosition(t, id, site)
		tt.stations = append(tt.stations, id)
	}
	for _, n := range tt.registry.ListNodes() {
		if _, err := tt.network.AddLoopback(n.ID); err != nil {
			t.Fatalf("AddLoopback: %v", err)
		}
	}
	b, err := NewTopologyBuilder(tt.network, tt.registry, DefaultChannelModel(), TopologyOptions{
		Planes:          planes,
		SatsPerPlane:    spp,
		EnableISL:       true,
		InterPlaneWrap:  true,
		MinElevationDeg: DefaultMinElevationDeg,
	})
	if err != nil {
		t.Fatalf("NewTopologyBuilder: %v", err)
	}
	tt.builder = b
	return tt
}

func (tt *testTopology) setPosition(t *testing.T, id model.NodeID, g model.Geodetic) {
	t.Helper()
	if err := tt.registry.UpdatePosition(id, model.Position{Geodetic: g, Valid: true}); err != nil {
		t.Fatalf("UpdatePosition: %v", err)
	}
}

func connectedNonLoopback(ifs []NetworkInterface) int {
	n := 0
	for _, intf := range ifs {
		if !intf.Loopback && intf.Connected {
			n++
		}
	}
	return n
}

func TestInterSatelliteGridTwoByFour(t *testing.T) {
	tt := newTestTopology(t, 2, 4)
	ctx := context.Background()

	created, err := tt.builder.EstablishInterSatelliteLinks(ctx)
	if err != nil {
		t.Fatalf("EstablishInterSatelliteLinks: %v", err)
	}
	if created != 12 {
		t.Fatalf("created %d links, want 12", created)
	}
	for _, id := range tt.sats {
		ifs := tt.network.InterfacesForNode(id)
		if got := connectedNonLoopback(ifs); got != 3 {
			t.Errorf("satellite %d has %d connected interfaces, want 3", id, got)
		}
		if !ifs[0].Loopback {
			t.Errorf("satellite %d: first interface should be the loopback", id)
		}
	}
	for _, l := range tt.network.Links() {
		ia, _ := tt.network.Interface(l.InterfaceA)
		ib, _ := tt.network.Interface(l.InterfaceB)
		if ia.ParentNodeID != l.NodeA || ib.ParentNodeID != l.NodeB {
			t.Errorf("link %s interfaces on wrong nodes", l.ID)
		}
		if ia.LinkID != l.ID || ib.LinkID != l.ID {
			t.Errorf("link %s not referenced by both interfaces", l.ID)
		}
	}

	again, err := tt.builder.EstablishInterSatelliteLinks(ctx)
	if err != nil || again != 0 {
		t.Fatalf("second establish created %d links (err %v), want 0", again, err)
	}
}

func TestInterSatelliteLinkPredicate(t *testing.T) {
	tt := newTestTopology(t, 4, 6)
	sat := func(p, s int) model.NodeInfo {
		n, err := tt.registry.NodeByName(SatelliteName(p, s))
		if err != nil {
			t.Fatalf("NodeByName: %v", err)
		}
		return n
	}
	cases := []struct {
		a, b model.NodeInfo
		want bool
	}{
		{sat(0, 0), sat(0, 1), true},
		{sat(0, 0), sat(0, 5), true},
		{sat(0, 0), sat(0, 2), false},
		{sat(1, 3), sat(2, 3), true},
		{sat(3, 3), sat(0, 3), true},
		{sat(1, 3), sat(2, 4), false},
		{sat(0, 0), sat(0, 0), false},
	}
	for _, c := range cases {
		if got := tt.builder.IsInterSatelliteLink(c.a, c.b); got != c.want {
			t.Errorf("IsInterSatelliteLink(%s, %s) = %v, want %v", c.a.Name, c.b.Name, got, c.want)
		}
		if got := tt.builder.IsInterSatelliteLink(c.b, c.a); got != c.want {
			t.Errorf("predicate not symmetric for %s / %s", c.a.Name, c.b.Name)
		}
	}

	tt.builder.Options.InterPlaneWrap = false
	if tt.builder.IsInterSatelliteLink(sat(3, 3), sat(0, 3)) {
		t.Errorf("plane wrap should be disabled")
	}
	gs := model.NodeInfo{ID: 99, Name: "gs", Kind: model.KindGroundStation, Plane: -1, Slot: -1}
	if tt.builder.IsInterSatelliteLink(sat(0, 0), gs) {
		t.Errorf("ground station must never be an ISL peer")
	}
}

func TestGroundLinkChurn(t *testing.T) {
	site := model.Geodetic{LatitudeDeg: 0, LongitudeDeg: 0}
	tt := newTestTopology(t, 1, 3, site)
	ctx := context.Background()
	gs := tt.stations[0]

	tt.setPosition(t, tt.sats[0], model.Geodetic{LatitudeDeg: 0, LongitudeDeg: 0, AltitudeKm: 550})
	tt.setPosition(t, tt.sats[1], model.Geodetic{LatitudeDeg: 0, LongitudeDeg: 120, AltitudeKm: 550})
	tt.setPosition(t, tt.sats[2], model.Geodetic{LatitudeDeg: 0, LongitudeDeg: -120, AltitudeKm: 550})

	churn, err := tt.builder.Rebuild(ctx)
	if err != nil {
		t.Fatalf("Rebuild at T: %v", err)
	}
	if churn.Added != 1 || churn.Removed != 0 {
		t.Fatalf("churn at T = %+v, want one added", churn)
	}
	link, ok := tt.network.LinkBetween(LinkKindGSL, gs, tt.sats[0])
	if !ok {
		t.Fatalf("expected a ground link to the overhead satellite")
	}
	if link.DistanceM < 549e3 || link.DistanceM > 551e3 {
		t.Errorf("ground link distance = %v m", link.DistanceM)
	}
	if link.Weight != link.DelaySeconds || link.Weight <= 0 {
		t.Errorf("delay metric weight = %v, delay %v", link.Weight, link.DelaySeconds)
	}

	// T+1: the satellite has moved out of range.
	tt.setPosition(t, tt.sats[0], model.Geodetic{LatitudeDeg: 0, LongitudeDeg: 20, AltitudeKm: 550})
	churn, err = tt.builder.Rebuild(ctx)
	if err != nil {
		t.Fatalf("Rebuild at T+1: %v", err)
	}
	if churn.Removed != 1 || len(churn.RemovedIDs) != 1 || churn.RemovedIDs[0] != link.ID {
		t.Fatalf("churn at T+1 = %+v, want %s removed", churn, link.ID)
	}
	if _, ok := tt.network.LinkBetween(LinkKindGSL, gs, tt.sats[0]); ok {
		t.Fatalf("ground link should be torn down")
	}
	if got := connectedNonLoopback(tt.network.InterfacesForNode(gs)); got != 0 {
		t.Fatalf("ground station still has %d connected interfaces", got)
	}
	ia, _ := tt.network.Interface(link.InterfaceA)
	if ia.Connected {
		t.Fatalf("interface %d still connected after teardown", ia.ID)
	}

	// Back overhead: the freed interfaces are reused.
	tt.setPosition(t, tt.sats[0], model.Geodetic{LatitudeDeg: 0, LongitudeDeg: 0, AltitudeKm: 550})
	if _, err := tt.builder.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild at T+2: %v", err)
	}
	relinked, ok := tt.network.LinkBetween(LinkKindGSL, gs, tt.sats[0])
	if !ok || relinked.InterfaceA != link.InterfaceA {
		t.Fatalf("expected the ground link to come back on the same interface")
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	site := model.Geodetic{LatitudeDeg: 45, LongitudeDeg: 7}
	tt := newTestTopology(t, 2, 4, site)
	ctx := context.Background()
	for i, id := range tt.sats {
		tt.setPosition(t, id, model.Geodetic{LatitudeDeg: 40 + float64(i), LongitudeDeg: 5 + float64(i), AltitudeKm: 550})
	}
	if _, err := tt.builder.EstablishInterSatelliteLinks(ctx); err != nil {
		t.Fatalf("EstablishInterSatelliteLinks: %v", err)
	}
	if _, err := tt.builder.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	first := tt.network.Snapshot()

	churn, err := tt.builder.Rebuild(ctx)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if churn.Added != 0 || churn.Removed != 0 {
		t.Fatalf("second rebuild churned: %+v", churn)
	}
	second := tt.network.Snapshot()
	if len(first.Links) != len(second.Links) || len(first.Interfaces) != len(second.Interfaces) {
		t.Fatalf("snapshot changed between identical rebuilds")
	}
	for i := range first.Links {
		if first.Links[i] != second.Links[i] {
			t.Fatalf("link %s changed: %+v vs %+v", first.Links[i].ID, first.Links[i], second.Links[i])
		}
	}
}

func TestReachableMonotonicInElevation(t *testing.T) {
	tt := newTestTopology(t, 1, 1)
	station := model.Geodetic{LatitudeDeg: 0, LongitudeDeg: 0}
	var sats []model.Geodetic
	for lon := 0.0; lon <= 12; lon += 0.5 {
		sats = append(sats, model.Geodetic{LatitudeDeg: 0, LongitudeDeg: lon, AltitudeKm: 550})
	}
	prev := len(sats) + 1
	for minEl := 0.0; minEl <= 90; minEl += 5 {
		tt.builder.Options.MinElevationDeg = minEl
		n := 0
		for _, s := range sats {
			if tt.builder.Reachable(station, s) {
				n++
			}
		}
		if n > prev {
			t.Fatalf("raising min elevation to %v increased reachable count %d -> %d", minEl, prev, n)
		}
		prev = n
	}
	if prev != 0 {
		t.Fatalf("nothing should be strictly above 90 degrees, got %d", prev)
	}
}

func TestReachableRespectsRange(t *testing.T) {
	tt := newTestTopology(t, 1, 1)
	tt.builder.Options.MinElevationDeg = 0
	station := model.Geodetic{}
	overheadHigh := model.Geodetic{AltitudeKm: 1200}
	if tt.builder.Reachable(station, overheadHigh) {
		t.Fatalf("satellite at 1200 km is beyond the slant range limit")
	}
	if !tt.builder.Reachable(station, model.Geodetic{AltitudeKm: 1100}) {
		t.Fatalf("satellite at 1100 km overhead should be reachable")
	}
}

func TestUpdateLinkWeightsHopCount(t *testing.T) {
	tt := newTestTopology(t, 1, 3)
	tt.builder.Options.Metric = MetricHopCount
	for i, id := range tt.sats {
		tt.setPosition(t, id, model.Geodetic{LongitudeDeg: float64(10 * i), AltitudeKm: 550})
	}
	if _, err := tt.builder.EstablishInterSatelliteLinks(context.Background()); err != nil {
		t.Fatalf("EstablishInterSatelliteLinks: %v", err)
	}
	if err := tt.builder.UpdateLinkWeights(context.Background()); err != nil {
		t.Fatalf("UpdateLinkWeights: %v", err)
	}
	for _, l := range tt.network.Links() {
		if l.Weight != 1 {
			t.Errorf("link %s weight = %v, want 1", l.ID, l.Weight)
		}
		if l.DistanceM <= 0 {
			t.Errorf("link %s has no distance", l.ID)
		}
	}
}

func TestNewTopologyBuilderRejectsUnknownMetric(t *testing.T) {
	_, err := NewTopologyBuilder(NewKnowledgeBase(0), kb.NewKnowledgeBase(), ChannelModel{}, TopologyOptions{Metric: "errorRate"})
	if err == nil {
		t.Fatalf("expected error for unsupported metric")
	}
}
