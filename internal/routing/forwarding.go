package routing

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/leo-router/model"
)

// Route is a path reduced to what the forwarding plane needs: the
// interface on Source that starts the Rank-th path towards Dest.
type Route struct {
	Source    model.NodeID
	Dest      model.NodeID
	Rank      int
	Interface int32
}

// RouteFor reduces p to a Route using g's interface map.
func (g *Graph) RouteFor(p Path) (Route, bool) {
	if len(p.Nodes) < 2 {
		return Route{}, false
	}
	ifID, ok := g.NextHopInterface(p.Nodes[0], p.Nodes[1])
	if !ok {
		return Route{}, false
	}
	return Route{Source: p.Nodes[0], Dest: p.Dest, Rank: p.Rank, Interface: ifID}, true
}

// DropRecorder counts packets the data plane could not forward.
type DropRecorder interface {
	IncUnresolvedNextHop()
}

// ForwardingTable maps rank and destination address to an outgoing
// interface for one node. It is only ever replaced whole.
type ForwardingTable struct {
	mu     sync.RWMutex
	node   model.NodeID
	byRank []map[model.Address]int32
	size   int
}

// NewForwardingTable returns an empty table for node.
func NewForwardingTable(node model.NodeID) *ForwardingTable {
	return &ForwardingTable{node: node}
}

// Node is the owner of the table.
func (t *ForwardingTable) Node() model.NodeID { return t.node }

// Replace swaps in a table built from entries. Readers see either the old
// or the new table.
func (t *ForwardingTable) Replace(entries []model.ForwardingEntry) {
	var byRank []map[model.Address]int32
	size := 0
	for _, e := range entries {
		if e.Rank < 1 {
			continue
		}
		for len(byRank) < e.Rank {
			byRank = append(byRank, make(map[model.Address]int32))
		}
		if _, dup := byRank[e.Rank-1][e.Destination]; !dup {
			size++
		}
		byRank[e.Rank-1][e.Destination] = e.InterfaceID
	}

	t.mu.Lock()
	t.byRank = byRank
	t.size = size
	t.mu.Unlock()
}

// Clear empties the table.
func (t *ForwardingTable) Clear() { t.Replace(nil) }

// NextHop returns the rank 1 interface for dst.
func (t *ForwardingTable) NextHop(dst model.Address) (int32, error) {
	return t.NextHopRank(1, dst)
}

// NextHopRank returns the interface of the rank-th path to dst.
func (t *ForwardingTable) NextHopRank(rank int, dst model.Address) (int32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if rank >= 1 && rank <= len(t.byRank) {
		if id, ok := t.byRank[rank-1][dst]; ok {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: node %d rank %d dst %s", ErrUnresolvedNextHop, t.node, rank, dst)
}

// Entries returns the table sorted by rank then destination.
func (t *ForwardingTable) Entries() []model.ForwardingEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.ForwardingEntry, 0, t.size)
	for i, m := range t.byRank {
		for dst, id := range m {
			out = append(out, model.ForwardingEntry{Destination: dst, Rank: i + 1, InterfaceID: id})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].Destination < out[j].Destination
	})
	return out
}

// Len is the number of (rank, destination) entries.
func (t *ForwardingTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Tables holds the forwarding table of every node.
type Tables struct {
	mu     sync.RWMutex
	tables map[model.NodeID]*ForwardingTable
	drops  DropRecorder
}

// NewTables creates an empty set. drops may be nil.
func NewTables(drops DropRecorder) *Tables {
	return &Tables{tables: make(map[model.NodeID]*ForwardingTable), drops: drops}
}

// Table returns node's table, creating an empty one on first use.
func (ts *Tables) Table(node model.NodeID) *ForwardingTable {
	ts.mu.RLock()
	t, ok := ts.tables[node]
	ts.mu.RUnlock()
	if ok {
		return t
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok = ts.tables[node]; !ok {
		t = NewForwardingTable(node)
		ts.tables[node] = t
	}
	return t
}

// Entries expands routes into per-node forwarding entries: every
// destination address of a route's Dest points at the route's interface.
// Routes whose interface is no longer connected on the source are
// dropped.
func Entries(g *Graph, routes []Route) map[model.NodeID][]model.ForwardingEntry {
	out := make(map[model.NodeID][]model.ForwardingEntry)
	for _, r := range routes {
		if !g.InterfaceConnectedOn(r.Interface, r.Source) {
			continue
		}
		for _, addr := range g.Addresses(r.Dest) {
			out[r.Source] = append(out[r.Source], model.ForwardingEntry{
				Destination: addr,
				Rank:        r.Rank,
				InterfaceID: r.Interface,
			})
		}
	}
	return out
}

// Install rebuilds every table from routes. Nodes that have no route get
// an empty table. It returns the number of installed entries.
func (ts *Tables) Install(g *Graph, routes []Route) int {
	perNode := Entries(g, routes)

	ts.mu.RLock()
	existing := make([]model.NodeID, 0, len(ts.tables))
	for id := range ts.tables {
		existing = append(existing, id)
	}
	ts.mu.RUnlock()

	total := 0
	for _, id := range existing {
		if _, ok := perNode[id]; !ok {
			ts.Table(id).Clear()
		}
	}
	for id, entries := range perNode {
		t := ts.Table(id)
		t.Replace(entries)
		total += t.Len()
	}
	return total
}

// Clear empties every table.
func (ts *Tables) Clear() {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	for _, t := range ts.tables {
		t.Clear()
	}
}

// Len is the total number of installed entries.
func (ts *Tables) Len() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	n := 0
	for _, t := range ts.tables {
		n += t.Len()
	}
	return n
}

// Forwarder returns the data-plane handle of node.
func (ts *Tables) Forwarder(node model.NodeID) Forwarder {
	return Forwarder{table: ts.Table(node), drops: ts.drops}
}

// Forwarder resolves next hops for one node. A miss is counted and
// returned; it is never retried.
type Forwarder struct {
	table *ForwardingTable
	drops DropRecorder
}

// NextHop returns the rank 1 outgoing interface for dst.
func (f Forwarder) NextHop(dst model.Address) (int32, error) {
	id, err := f.table.NextHop(dst)
	if err != nil && f.drops != nil {
		f.drops.IncUnresolvedNextHop()
	}
	return id, err
}
