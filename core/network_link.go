package core

import (
	"fmt"

	"github.com/signalsfoundry/leo-router/model"
)

// LinkKind separates inter-satellite links from ground links.
type LinkKind int

const (
	LinkKindISL LinkKind = iota // satellite to satellite
	LinkKindGSL                 // ground station to satellite
)

func (k LinkKind) String() string {
	switch k {
	case LinkKindISL:
		return "isl"
	case LinkKindGSL:
		return "gsl"
	default:
		return fmt.Sprintf("LinkKind(%d)", int(k))
	}
}

// NetworkLink connects two NetworkInterfaces on different nodes. It is
// undirected: NodeA < NodeB always holds.
type NetworkLink struct {
	ID   string   `json:"ID"`
	Kind LinkKind `json:"Kind"`

	NodeA      model.NodeID `json:"NodeA"`
	NodeB      model.NodeID `json:"NodeB"`
	InterfaceA int32        `json:"InterfaceA"`
	InterfaceB int32        `json:"InterfaceB"`

	// IsUp is false once the link has been torn down.
	IsUp bool `json:"IsUp"`

	DistanceM    float64 `json:"DistanceM"`
	DelaySeconds float64 `json:"DelaySeconds"`
	DataRateBps  float64 `json:"DataRateBps"`

	// Weight is the routing cost under the configured LinkMetric.
	Weight float64 `json:"Weight"`
}

// LinkID returns the symmetric identifier for a link between a and b.
func LinkID(kind LinkKind, a, b model.NodeID) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%s-%d-%d", kind, a, b)
}

// InterfaceOn returns the link's interface on node, if node is an endpoint.
func (l NetworkLink) InterfaceOn(node model.NodeID) (int32, bool) {
	switch node {
	case l.NodeA:
		return l.InterfaceA, true
	case l.NodeB:
		return l.InterfaceB, true
	}
	return 0, false
}

// Peer returns the opposite endpoint of node.
func (l NetworkLink) Peer(node model.NodeID) (model.NodeID, bool) {
	switch node {
	case l.NodeA:
		return l.NodeB, true
	case l.NodeB:
		return l.NodeA, true
	}
	return 0, false
}
