package routing

import (
	"math"

	"github.com/yourbasic/graph"

	"github.com/signalsfoundry/leo-router/core"
	"github.com/signalsfoundry/leo-router/model"
)

// costScale converts float link weights to the integer costs the graph
// library works with.
const costScale = 1e12

type edge struct{ from, to model.NodeID }

// Graph is the routing view of one snapshot. It is immutable once built.
type Graph struct {
	g *graph.Immutable

	// ifaceTo[(u,v)] is the interface on u whose link ends at v.
	ifaceTo map[edge]int32
	// cost[(u,v)] is the integer cost of u->v as added to g.
	cost map[edge]int64
	// dests holds each node's connected non-loopback addresses.
	dests map[model.NodeID][]model.Address
	// connected is every interface currently bound to a link.
	connected map[int32]model.NodeID
}

// Cost maps a link weight to a graph cost of at least 1.
func Cost(weight float64) int64 {
	c := int64(math.Round(weight * costScale))
	if c < 1 {
		return 1
	}
	return c
}

// BuildGraph builds the graph over nodes 0..order-1 from the up links of
// snap.
func BuildGraph(snap core.Snapshot, order int) *Graph {
	m := graph.New(order)
	ifaceTo := make(map[edge]int32, 2*len(snap.Links))
	cost := make(map[edge]int64, 2*len(snap.Links))
	for _, l := range snap.Links {
		if !l.IsUp || int(l.NodeA) >= order || int(l.NodeB) >= order {
			continue
		}
		c := Cost(l.Weight)
		m.AddBothCost(int(l.NodeA), int(l.NodeB), c)
		ifaceTo[edge{l.NodeA, l.NodeB}] = l.InterfaceA
		ifaceTo[edge{l.NodeB, l.NodeA}] = l.InterfaceB
		cost[edge{l.NodeA, l.NodeB}] = c
		cost[edge{l.NodeB, l.NodeA}] = c
	}

	dests := make(map[model.NodeID][]model.Address)
	connected := make(map[int32]model.NodeID)
	for _, intf := range snap.Interfaces {
		if intf.Loopback || !intf.Connected {
			continue
		}
		dests[intf.ParentNodeID] = append(dests[intf.ParentNodeID], intf.Address)
		connected[intf.ID] = intf.ParentNodeID
	}

	return &Graph{
		g:         graph.Sort(m),
		ifaceTo:   ifaceTo,
		cost:      cost,
		dests:     dests,
		connected: connected,
	}
}

// Order is the number of vertices.
func (g *Graph) Order() int { return g.g.Order() }

// Edge reports whether u and v are adjacent.
func (g *Graph) Edge(u, v model.NodeID) bool { return g.g.Edge(int(u), int(v)) }

// EdgeCost returns the cost of u->v, or -1 when there is no such edge.
func (g *Graph) EdgeCost(u, v model.NodeID) int64 {
	c, ok := g.cost[edge{u, v}]
	if !ok {
		return -1
	}
	return c
}

// Degree is the number of neighbours of v.
func (g *Graph) Degree(v model.NodeID) int { return g.g.Degree(int(v)) }

// NextHopInterface returns the interface on u that leads to v.
func (g *Graph) NextHopInterface(u, v model.NodeID) (int32, bool) {
	id, ok := g.ifaceTo[edge{u, v}]
	return id, ok
}

// Addresses returns the forwarding keys of node.
func (g *Graph) Addresses(node model.NodeID) []model.Address {
	return g.dests[node]
}

// InterfaceConnectedOn reports whether interface id is bound to a link on
// node.
func (g *Graph) InterfaceConnectedOn(id int32, node model.NodeID) bool {
	owner, ok := g.connected[id]
	return ok && owner == node
}

// masked hides vertices and directed edges from the search.
type masked struct {
	g     *graph.Immutable
	nodes map[int]bool
	edges map[[2]int]bool
}

func (m *masked) Order() int { return m.g.Order() }

func (m *masked) Visit(v int, do func(w int, c int64) bool) bool {
	if m.nodes[v] {
		return false
	}
	return m.g.Visit(v, func(w int, c int64) bool {
		if m.nodes[w] || m.edges[[2]int{v, w}] {
			return false
		}
		return do(w, c)
	})
}
