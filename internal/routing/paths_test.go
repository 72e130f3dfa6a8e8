package routing

import (
	"errors"
	"math/rand"
	"testing"

	"golang.org/x/exp/slices"

	"github.com/signalsfoundry/leo-router/core"
	"github.com/signalsfoundry/leo-router/model"
)

type testLink struct {
	a, b model.NodeID
	w    float64
}

// linkSnapshot builds an up ISL per entry with one interface per link
// end, numbered from 1.
func linkSnapshot(links []testLink) core.Snapshot {
	var snap core.Snapshot
	next := int32(1)
	for _, s := range links {
		ia, ib := next, next+1
		next += 2
		id := core.LinkID(core.LinkKindISL, s.a, s.b)
		snap.Interfaces = append(snap.Interfaces,
			core.NetworkInterface{ID: ia, ParentNodeID: s.a, Address: core.DefaultAddressBase + model.Address(ia), Connected: true, LinkID: id},
			core.NetworkInterface{ID: ib, ParentNodeID: s.b, Address: core.DefaultAddressBase + model.Address(ib), Connected: true, LinkID: id},
		)
		snap.Links = append(snap.Links, core.NetworkLink{
			ID: id, Kind: core.LinkKindISL, NodeA: s.a, NodeB: s.b,
			InterfaceA: ia, InterfaceB: ib, IsUp: true, Weight: s.w,
		})
	}
	return snap
}

// diamondSnapshot builds
//
//	0 -1- 1 -1- 3
//	0 -1- 2 -2- 3
//	0 ----5---- 3
func diamondSnapshot() core.Snapshot {
	return linkSnapshot([]testLink{{0, 1, 1}, {1, 3, 1}, {0, 2, 1}, {2, 3, 2}, {0, 3, 5}})
}

// simplePathCosts enumerates every loop-free src->dst path and returns
// their costs in ascending order.
func simplePathCosts(g *Graph, src, dst model.NodeID) []int64 {
	var costs []int64
	visited := make(map[model.NodeID]bool)
	var walk func(v model.NodeID, cost int64)
	walk = func(v model.NodeID, cost int64) {
		if v == dst {
			costs = append(costs, cost)
			return
		}
		visited[v] = true
		for w := 0; w < g.Order(); w++ {
			next := model.NodeID(w)
			if visited[next] || !g.Edge(v, next) {
				continue
			}
			walk(next, cost+g.EdgeCost(v, next))
		}
		visited[v] = false
	}
	walk(src, 0)
	slices.Sort(costs)
	return costs
}

func collect(s *Searcher, g *Graph, src model.NodeID) []Path {
	var out []Path
	for p := range s.From(g, src) {
		out = append(out, p)
	}
	return out
}

func TestNewSearcherRejectsInvalidK(t *testing.T) {
	if _, err := NewSearcher(0); !errors.Is(err, ErrInvalidK) {
		t.Fatalf("NewSearcher(0) error = %v, want ErrInvalidK", err)
	}
}

func TestGraphIsSymmetric(t *testing.T) {
	snap := diamondSnapshot()
	g := BuildGraph(snap, 4)
	for _, l := range snap.Links {
		ab, ba := g.EdgeCost(l.NodeA, l.NodeB), g.EdgeCost(l.NodeB, l.NodeA)
		if ab <= 0 || ab != ba {
			t.Fatalf("edge %s costs %d / %d", l.ID, ab, ba)
		}
		ifA, ok := g.NextHopInterface(l.NodeA, l.NodeB)
		if !ok || ifA != l.InterfaceA {
			t.Fatalf("interface %d->%d = %d, want %d", l.NodeA, l.NodeB, ifA, l.InterfaceA)
		}
	}
	if g.EdgeCost(1, 2) != -1 {
		t.Fatalf("1-2 should not be adjacent")
	}
	if g.Degree(0) != 3 {
		t.Fatalf("degree(0) = %d, want 3", g.Degree(0))
	}
}

func TestBuildGraphSkipsDownLinks(t *testing.T) {
	snap := diamondSnapshot()
	snap.Links[4].IsUp = false
	g := BuildGraph(snap, 4)
	if g.Edge(0, 3) {
		t.Fatalf("down link should not be an edge")
	}
}

func TestCostHasFloor(t *testing.T) {
	if Cost(0) != 1 || Cost(core.MinLinkWeight) != 1 {
		t.Fatalf("Cost floor broken: %d %d", Cost(0), Cost(core.MinLinkWeight))
	}
	if Cost(0.002) != 2_000_000_000 {
		t.Fatalf("Cost(2ms) = %d", Cost(0.002))
	}
}

func TestShortestPathTree(t *testing.T) {
	g := BuildGraph(diamondSnapshot(), 4)
	s, _ := NewSearcher(1)
	paths := collect(s, g, 0)
	if len(paths) != 3 {
		t.Fatalf("got %d paths, want 3", len(paths))
	}
	for i, want := range []model.NodeID{1, 2, 3} {
		if paths[i].Dest != want || paths[i].Rank != 1 || paths[i].Source() != 0 {
			t.Fatalf("path %d = %+v", i, paths[i])
		}
	}
	if !slices.Equal(paths[2].Nodes, []model.NodeID{0, 1, 3}) || paths[2].Cost != 2*Cost(1) {
		t.Fatalf("0->3 = %+v", paths[2])
	}
}

func TestYenKShortest(t *testing.T) {
	g := BuildGraph(diamondSnapshot(), 4)
	s, _ := NewSearcher(3)
	var to3 []Path
	for _, p := range collect(s, g, 0) {
		if p.Dest == 3 {
			to3 = append(to3, p)
		}
	}
	want := [][]model.NodeID{{0, 1, 3}, {0, 2, 3}, {0, 3}}
	if len(to3) != len(want) {
		t.Fatalf("got %d paths to 3, want %d: %+v", len(to3), len(want), to3)
	}
	for i, p := range to3 {
		if p.Rank != i+1 || !slices.Equal(p.Nodes, want[i]) {
			t.Fatalf("rank %d = %+v, want %v", i+1, p, want[i])
		}
		if i > 0 && p.Cost < to3[i-1].Cost {
			t.Fatalf("paths not ordered by cost")
		}
	}
}

func TestYenStopsWhenPathsRunOut(t *testing.T) {
	g := BuildGraph(diamondSnapshot(), 4)
	s, _ := NewSearcher(10)
	n := 0
	for p := range s.From(g, 0) {
		if p.Dest == 3 {
			n++
		}
		seen := make(map[model.NodeID]bool)
		for _, v := range p.Nodes {
			if seen[v] {
				t.Fatalf("path %v has a loop", p.Nodes)
			}
			seen[v] = true
		}
	}
	// 0-1-3, 0-2-3 and 0-3 are the only simple paths.
	if n != 3 {
		t.Fatalf("got %d loop-free paths to 3, want 3", n)
	}
}

func TestUnreachableYieldsNothing(t *testing.T) {
	g := BuildGraph(diamondSnapshot(), 6)
	for _, k := range []int{1, 2} {
		s, _ := NewSearcher(k)
		for p := range s.From(g, 0) {
			if p.Dest >= 4 {
				t.Fatalf("k=%d: isolated node %d reached", k, p.Dest)
			}
		}
		if got := collect(s, g, 5); len(got) != 0 {
			t.Fatalf("k=%d: isolated source yielded %v", k, got)
		}
	}
}

func TestSearchIsDeterministicAndRestartable(t *testing.T) {
	g := BuildGraph(diamondSnapshot(), 4)
	s, _ := NewSearcher(2)
	seq := s.From(g, 2)
	a, b := []Path{}, []Path{}
	for p := range seq {
		a = append(a, p)
	}
	for p := range seq {
		b = append(b, p)
	}
	if len(a) != len(b) || len(a) == 0 {
		t.Fatalf("restart yielded %d then %d paths", len(a), len(b))
	}
	for i := range a {
		if a[i].Dest != b[i].Dest || a[i].Rank != b[i].Rank || !slices.Equal(a[i].Nodes, b[i].Nodes) {
			t.Fatalf("iteration %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestSearchStopsEarly(t *testing.T) {
	g := BuildGraph(diamondSnapshot(), 4)
	s, _ := NewSearcher(2)
	n := 0
	for range s.From(g, 0) {
		n++
		break
	}
	if n != 1 {
		t.Fatalf("break did not stop iteration")
	}
}

func TestYenMatchesAllSimplePaths(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const order = 6
	for trial := 0; trial < 50; trial++ {
		var links []testLink
		for a := 0; a < order; a++ {
			for b := a + 1; b < order; b++ {
				if rng.Intn(2) == 0 {
					continue
				}
				links = append(links, testLink{model.NodeID(a), model.NodeID(b), float64(1 + rng.Intn(4))})
			}
		}
		g := BuildGraph(linkSnapshot(links), order)

		for k := 2; k <= 5; k++ {
			s, _ := NewSearcher(k)
			got := make(map[model.NodeID][]int64)
			for p := range s.From(g, 0) {
				var sum int64
				for i := 0; i+1 < len(p.Nodes); i++ {
					c := g.EdgeCost(p.Nodes[i], p.Nodes[i+1])
					if c < 0 {
						t.Fatalf("trial %d: path %v uses a missing edge", trial, p.Nodes)
					}
					sum += c
				}
				if p.Cost != sum {
					t.Fatalf("trial %d: path %v cost %d, edges sum to %d", trial, p.Nodes, p.Cost, sum)
				}
				got[p.Dest] = append(got[p.Dest], p.Cost)
			}
			for dst := model.NodeID(1); dst < order; dst++ {
				want := simplePathCosts(g, 0, dst)
				if len(want) > k {
					want = want[:k]
				}
				if !slices.Equal(got[dst], want) {
					t.Fatalf("trial %d k=%d 0->%d: costs %v, want %v", trial, k, dst, got[dst], want)
				}
			}
		}
	}
}
