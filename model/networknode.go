package model

import "fmt"

// NodeID is the dense index of a node in the constellation. Satellites
// occupy 0..S-1 in plane-major order and ground stations follow them.
type NodeID int32

// NodeKind distinguishes the two node variants.
type NodeKind int

const (
	KindSatellite NodeKind = iota
	KindGroundStation
)

func (k NodeKind) String() string {
	switch k {
	case KindSatellite:
		return "SATELLITE"
	case KindGroundStation:
		return "GROUND_STATION"
	default:
		return fmt.Sprintf("NodeKind(%d)", int(k))
	}
}

// NodeInfo is the identity of a network node.
// Plane and Slot are only meaningful for generated satellites; TLE-driven
// satellites and ground stations carry -1.
type NodeInfo struct {
	ID   NodeID
	Name string
	Kind NodeKind

	Plane int
	Slot  int
}

// IsSatellite reports whether the node orbits.
func (n NodeInfo) IsSatellite() bool { return n.Kind == KindSatellite }

// OnGrid reports whether the node has a plane/slot coordinate.
func (n NodeInfo) OnGrid() bool { return n.Kind == KindSatellite && n.Plane >= 0 && n.Slot >= 0 }
