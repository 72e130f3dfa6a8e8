// core/scenario_loader_test.go
package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/leo-router/kb"
	"github.com/signalsfoundry/leo-router/model"
	"github.com/signalsfoundry/leo-router/orbit"
)

const issLine1 = "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927"
const issLine2 = "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"

func testOrbit(planes, spp int) orbit.ConstellationConfig {
	return orbit.ConstellationConfig{
		Planes:         planes,
		SatsPerPlane:   spp,
		AltitudeKm:     550,
		InclinationDeg: 53,
		Eccentricity:   0.0001,
		EpochYear:      21,
		EpochDay:       112.5,
	}
}

func TestLoadStationFile(t *testing.T) {
	doc := `
ground_stations:
  - name: gs-delft
    latitude: 52.0
    longitude: 4.36
    altitude: 0.0
  - name: gs-quito
    latitude: -0.18
    longitude: -78.47
    altitude: 2.85
tle_satellites:
  - name: iss
    line1: "` + issLine1 + `"
    line2: "` + issLine2 + `"
`
	f, err := LoadStationFile(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadStationFile: %v", err)
	}
	if len(f.GroundStations) != 2 || f.GroundStations[1].Altitude != 2.85 {
		t.Fatalf("ground stations = %+v", f.GroundStations)
	}
	if len(f.TLESatellites) != 1 || f.TLESatellites[0].Line1 != issLine1 {
		t.Fatalf("tle satellites = %+v", f.TLESatellites)
	}
}

func TestLoadStationFileRejectsBadInput(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key": "ground_stations:\n  - name: a\n    elevation: 3\n",
		"duplicate":   "ground_stations:\n  - name: a\n  - name: a\n",
		"empty name":  "ground_stations:\n  - latitude: 1\n",
		"bad yaml":    "ground_stations: [",
	} {
		if _, err := LoadStationFile(strings.NewReader(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	f, err := LoadStationFile(strings.NewReader(""))
	if err != nil || len(f.GroundStations) != 0 {
		t.Errorf("empty document should be accepted, got %v", err)
	}
}

func TestBuildConstellationOrdersNodes(t *testing.T) {
	registry := kb.NewKnowledgeBase()
	network := NewKnowledgeBase(DefaultAddressBase)
	spec := ConstellationSpec{
		Orbit: testOrbit(2, 4),
		Start: time.Unix(1619119189, 0).UTC(),
		GroundStations: []GroundStationSpec{
			{Name: "gs-delft", Latitude: 52, Longitude: 4.36},
		},
		TLESatellites: []TLESpec{{Name: "iss", Line1: issLine1, Line2: issLine2}},
	}
	nodes, err := BuildConstellation(spec, registry, network)
	if err != nil {
		t.Fatalf("BuildConstellation: %v", err)
	}
	if len(nodes) != 10 {
		t.Fatalf("got %d nodes, want 10", len(nodes))
	}
	for i, n := range nodes {
		if n.Info().ID != model.NodeID(i) {
			t.Fatalf("node %d has ID %d", i, n.Info().ID)
		}
		ifs := network.InterfacesForNode(n.Info().ID)
		if len(ifs) != 1 || !ifs[0].Loopback {
			t.Fatalf("node %s interfaces = %+v, want one loopback", n.Info().Name, ifs)
		}
	}
	if nodes[5].Info().Name != SatelliteName(1, 1) {
		t.Errorf("node 5 = %s, want %s", nodes[5].Info().Name, SatelliteName(1, 1))
	}
	if nodes[8].Info().Name != "iss" || nodes[8].Info().OnGrid() {
		t.Errorf("TLE satellite should follow the grid and be off-grid: %+v", nodes[8].Info())
	}
	if _, ok := nodes[9].(*GroundStationNode); !ok {
		t.Errorf("last node should be the ground station, got %T", nodes[9])
	}

	svc := &MobilityService{Registry: registry, Nodes: nodes}
	rep, err := svc.UpdatePositions(context.Background(), spec.Start)
	if err != nil {
		t.Fatalf("UpdatePositions: %v", err)
	}
	// The 2008 TLE may have decayed by the 2021 start time.
	if rep.Updated+rep.Failed != 10 || rep.Updated < 9 {
		t.Fatalf("report = %+v", rep)
	}
	pos, ok := registry.Position(0)
	if !ok || pos.Geodetic.AltitudeKm < 500 || pos.Geodetic.AltitudeKm > 600 {
		t.Fatalf("grid satellite position = %+v", pos)
	}
}

func TestBuildConstellationRejectsDuplicateNames(t *testing.T) {
	spec := ConstellationSpec{
		Orbit:          testOrbit(1, 1),
		Start:          time.Unix(1619119189, 0).UTC(),
		GroundStations: []GroundStationSpec{{Name: SatelliteName(0, 0)}},
	}
	if _, err := BuildConstellation(spec, kb.NewKnowledgeBase(), NewKnowledgeBase(0)); err == nil {
		t.Fatalf("expected duplicate name error")
	}
}
