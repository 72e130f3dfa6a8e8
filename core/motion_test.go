package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/leo-router/kb"
	"github.com/signalsfoundry/leo-router/model"
	"github.com/signalsfoundry/leo-router/orbit"
)

type scriptedPropagator struct {
	pos model.Position
	err error
}

func (p *scriptedPropagator) PositionAt(time.Time) (model.Position, error) {
	return p.pos, p.err
}

func TestUpdatePositionsKeepsLastPositionOnFailure(t *testing.T) {
	registry := kb.NewKnowledgeBase()
	okID, _ := registry.AddNode(model.NodeInfo{Name: "ok", Kind: model.KindSatellite, Plane: 0, Slot: 0})
	badID, _ := registry.AddNode(model.NodeInfo{Name: "bad", Kind: model.KindSatellite, Plane: 0, Slot: 1})
	gsID, _ := registry.AddNode(model.NodeInfo{Name: "gs", Kind: model.KindGroundStation, Plane: -1, Slot: -1})

	good := &scriptedPropagator{pos: model.Position{Geodetic: model.Geodetic{AltitudeKm: 550}, Valid: true}}
	bad := &scriptedPropagator{pos: model.Position{Geodetic: model.Geodetic{LatitudeDeg: 1, AltitudeKm: 551}, Valid: true}}

	okInfo, _ := registry.Node(okID)
	badInfo, _ := registry.Node(badID)
	gsInfo, _ := registry.Node(gsID)
	okNode, err := NewSatelliteNode(okInfo, good)
	if err != nil {
		t.Fatalf("NewSatelliteNode: %v", err)
	}
	badNode, _ := NewSatelliteNode(badInfo, bad)
	gsNode, err := NewGroundStationNode(gsInfo, model.Geodetic{LatitudeDeg: 52, LongitudeDeg: 4})
	if err != nil {
		t.Fatalf("NewGroundStationNode: %v", err)
	}

	svc := &MobilityService{
		Registry: registry,
		Nodes:    []Node{okNode, badNode, gsNode},
	}
	ctx := context.Background()
	now := time.Date(2021, 4, 22, 19, 19, 49, 0, time.UTC)

	rep, err := svc.UpdatePositions(ctx, now)
	if err != nil || rep.Updated != 3 || rep.Failed != 0 {
		t.Fatalf("first pass = %+v, %v", rep, err)
	}

	bad.err = &orbit.PropagationError{Reason: orbit.ErrOutOfRange, Detail: "test"}
	bad.pos = model.Position{}
	rep, err = svc.UpdatePositions(ctx, now.Add(time.Second))
	if err != nil {
		t.Fatalf("propagation failure must not abort the pass: %v", err)
	}
	if rep.Updated != 2 || rep.Failed != 1 {
		t.Fatalf("second pass = %+v", rep)
	}
	pos, ok := registry.Position(badID)
	if !ok || pos.Geodetic.AltitudeKm != 551 {
		t.Fatalf("failed node should keep its last position, got %+v", pos)
	}
	gsPos, _ := registry.Position(gsID)
	if gsPos.Geodetic.LatitudeDeg != 52 {
		t.Fatalf("ground station position = %+v", gsPos)
	}
}

func TestUpdatePositionsReturnsUnexpectedErrors(t *testing.T) {
	registry := kb.NewKnowledgeBase()
	id, _ := registry.AddNode(model.NodeInfo{Name: "s", Kind: model.KindSatellite})
	info, _ := registry.Node(id)
	boom := errors.New("boom")
	n, _ := NewSatelliteNode(info, &scriptedPropagator{err: boom})
	svc := &MobilityService{Registry: registry, Nodes: []Node{n}}
	if _, err := svc.UpdatePositions(context.Background(), time.Now()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestNodeConstructorsCheckKind(t *testing.T) {
	sat := model.NodeInfo{Name: "s", Kind: model.KindSatellite}
	gs := model.NodeInfo{Name: "g", Kind: model.KindGroundStation}
	if _, err := NewSatelliteNode(gs, &scriptedPropagator{}); err == nil {
		t.Errorf("ground station accepted as satellite")
	}
	if _, err := NewSatelliteNode(sat, nil); err == nil {
		t.Errorf("satellite without propagator accepted")
	}
	if _, err := NewGroundStationNode(sat, model.Geodetic{}); err == nil {
		t.Errorf("satellite accepted as ground station")
	}
	if _, err := NewGroundStationNode(gs, model.Geodetic{LatitudeDeg: 91}); err == nil {
		t.Errorf("latitude 91 accepted")
	}
}
