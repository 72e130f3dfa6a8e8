// core/scenario_loader.go
package core

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/leo-router/kb"
	"github.com/signalsfoundry/leo-router/model"
	"github.com/signalsfoundry/leo-router/orbit"
)

// GroundStationSpec is one row of the ground station table. Altitude is
// in kilometres.
type GroundStationSpec struct {
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Altitude  float64 `yaml:"altitude"`
}

// TLESpec describes an extra satellite driven by a two-line element set.
type TLESpec struct {
	Name  string `yaml:"name"`
	Line1 string `yaml:"line1"`
	Line2 string `yaml:"line2"`
}

// StationFile is the YAML document listing ground stations and optional
// TLE satellites.
type StationFile struct {
	GroundStations []GroundStationSpec `yaml:"ground_stations"`
	TLESatellites  []TLESpec           `yaml:"tle_satellites"`
}

// LoadStationFile decodes a station table. Unknown keys are rejected.
func LoadStationFile(r io.Reader) (*StationFile, error) {
	var payload StationFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("LoadStationFile: decode failed: %w", err)
	}
	seen := make(map[string]bool)
	for _, gs := range payload.GroundStations {
		if gs.Name == "" {
			return nil, fmt.Errorf("LoadStationFile: ground station with empty name")
		}
		if seen[gs.Name] {
			return nil, fmt.Errorf("LoadStationFile: duplicate ground station %q", gs.Name)
		}
		seen[gs.Name] = true
	}
	return &payload, nil
}

// ConstellationSpec is everything needed to populate the registries.
type ConstellationSpec struct {
	Orbit orbit.ConstellationConfig
	Start time.Time

	GroundStations []GroundStationSpec
	TLESatellites  []TLESpec
}

// SatelliteName is the registry name of the grid satellite at (plane, slot).
func SatelliteName(plane, slot int) string {
	return fmt.Sprintf("sat-p%d-s%d", plane, slot)
}

// BuildConstellation registers grid satellites, TLE satellites and
// ground stations (in that order, so IDs follow the same order), gives
// every node a loopback interface and returns the nodes by ID.
func BuildConstellation(spec ConstellationSpec, registry *kb.KnowledgeBase, network *KnowledgeBase) ([]Node, error) {
	if registry == nil || network == nil {
		return nil, fmt.Errorf("BuildConstellation: nil knowledge base")
	}
	var nodes []Node
	add := func(info model.NodeInfo, build func(model.NodeInfo) (Node, error)) error {
		id, err := registry.AddNode(info)
		if err != nil {
			return err
		}
		info.ID = id
		n, err := build(info)
		if err != nil {
			return err
		}
		if _, err := network.AddLoopback(id); err != nil {
			return err
		}
		nodes = append(nodes, n)
		return nil
	}

	cfg := spec.Orbit
	for plane := 0; plane < cfg.Planes; plane++ {
		for slot := 0; slot < cfg.SatsPerPlane; slot++ {
			el, err := orbit.NewElements(cfg, plane, slot)
			if err != nil {
				return nil, fmt.Errorf("BuildConstellation: %w", err)
			}
			prop, err := orbit.NewSGP4(el, spec.Start)
			if err != nil {
				return nil, fmt.Errorf("BuildConstellation: %w", err)
			}
			info := model.NodeInfo{Name: SatelliteName(plane, slot), Kind: model.KindSatellite, Plane: plane, Slot: slot}
			err = add(info, func(i model.NodeInfo) (Node, error) { return NewSatelliteNode(i, prop) })
			if err != nil {
				return nil, fmt.Errorf("BuildConstellation: %w", err)
			}
		}
	}

	for _, t := range spec.TLESatellites {
		prop, err := orbit.NewTLEPropagator(t.Name, t.Line1, t.Line2)
		if err != nil {
			return nil, fmt.Errorf("BuildConstellation: %w", err)
		}
		info := model.NodeInfo{Name: t.Name, Kind: model.KindSatellite, Plane: -1, Slot: -1}
		if err := add(info, func(i model.NodeInfo) (Node, error) { return NewSatelliteNode(i, prop) }); err != nil {
			return nil, fmt.Errorf("BuildConstellation: %w", err)
		}
	}

	for _, gs := range spec.GroundStations {
		site := model.Geodetic{LatitudeDeg: gs.Latitude, LongitudeDeg: gs.Longitude, AltitudeKm: gs.Altitude}
		info := model.NodeInfo{Name: gs.Name, Kind: model.KindGroundStation, Plane: -1, Slot: -1}
		if err := add(info, func(i model.NodeInfo) (Node, error) { return NewGroundStationNode(i, site) }); err != nil {
			return nil, fmt.Errorf("BuildConstellation: %w", err)
		}
	}
	return nodes, nil
}
