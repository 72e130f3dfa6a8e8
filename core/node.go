package core

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/leo-router/model"
	"github.com/signalsfoundry/leo-router/orbit"
)

// Node is either a *SatelliteNode or a *GroundStationNode. The variant is
// fixed at construction.
type Node interface {
	Info() model.NodeInfo
	PositionAt(t time.Time) (model.Position, error)
	node()
}

// SatelliteNode moves according to its propagator.
type SatelliteNode struct {
	info       model.NodeInfo
	propagator orbit.Propagator
}

// NewSatelliteNode binds a registered satellite to its propagator.
func NewSatelliteNode(info model.NodeInfo, p orbit.Propagator) (*SatelliteNode, error) {
	if info.Kind != model.KindSatellite {
		return nil, fmt.Errorf("NewSatelliteNode: node %q is %s", info.Name, info.Kind)
	}
	if p == nil {
		return nil, fmt.Errorf("NewSatelliteNode: node %q has no propagator", info.Name)
	}
	return &SatelliteNode{info: info, propagator: p}, nil
}

func (s *SatelliteNode) Info() model.NodeInfo { return s.info }

func (s *SatelliteNode) PositionAt(t time.Time) (model.Position, error) {
	return s.propagator.PositionAt(t)
}

func (*SatelliteNode) node() {}

// GroundStationNode has a fixed geodetic site.
type GroundStationNode struct {
	info model.NodeInfo
	site model.Geodetic
}

// NewGroundStationNode binds a registered ground station to its site.
func NewGroundStationNode(info model.NodeInfo, site model.Geodetic) (*GroundStationNode, error) {
	if info.Kind != model.KindGroundStation {
		return nil, fmt.Errorf("NewGroundStationNode: node %q is %s", info.Name, info.Kind)
	}
	if site.LatitudeDeg < -90 || site.LatitudeDeg > 90 {
		return nil, fmt.Errorf("NewGroundStationNode: node %q latitude %v out of range", info.Name, site.LatitudeDeg)
	}
	return &GroundStationNode{info: info, site: site}, nil
}

func (g *GroundStationNode) Info() model.NodeInfo { return g.info }

func (g *GroundStationNode) PositionAt(time.Time) (model.Position, error) {
	return model.Position{Geodetic: g.site, Valid: true}, nil
}

func (*GroundStationNode) node() {}

// Site returns the station's fixed position.
func (g *GroundStationNode) Site() model.Geodetic { return g.site }
