package routing

import (
	"fmt"
	"iter"

	"github.com/yourbasic/graph"
	"golang.org/x/exp/slices"

	"github.com/signalsfoundry/leo-router/model"
)

// Path is one ranked loop-free route. Nodes starts at the source and ends
// at Dest.
type Path struct {
	Dest  model.NodeID
	Rank  int
	Nodes []model.NodeID
	Cost  int64
}

// Source is the first node of the path.
func (p Path) Source() model.NodeID { return p.Nodes[0] }

// Hops is the number of links traversed.
func (p Path) Hops() int { return len(p.Nodes) - 1 }

// Searcher finds up to K shortest paths from a source to every other node.
type Searcher struct {
	K int
}

// NewSearcher returns a searcher for k ranked paths per destination.
func NewSearcher(k int) (*Searcher, error) {
	if k < 1 {
		return nil, fmt.Errorf("NewSearcher: %w (got %d)", ErrInvalidK, k)
	}
	return &Searcher{K: k}, nil
}

// From yields, per destination in ascending ID order, up to K ranked
// paths from src. Unreachable destinations yield nothing. The sequence is
// computed lazily and may be iterated more than once.
func (s *Searcher) From(g *Graph, src model.NodeID) iter.Seq[Path] {
	return func(yield func(Path) bool) {
		if int(src) < 0 || int(src) >= g.Order() {
			return
		}
		if s.K == 1 {
			s.shortestTree(g, src, yield)
			return
		}
		for dst := 0; dst < g.Order(); dst++ {
			if model.NodeID(dst) == src {
				continue
			}
			for _, p := range kShortest(g, src, model.NodeID(dst), s.K) {
				if !yield(p) {
					return
				}
			}
		}
	}
}

func (s *Searcher) shortestTree(g *Graph, src model.NodeID, yield func(Path) bool) {
	parent, dist := graph.ShortestPaths(g.g, int(src))
	for dst := 0; dst < g.Order(); dst++ {
		if dst == int(src) || dist[dst] < 0 {
			continue
		}
		var rev []model.NodeID
		for v := dst; v != -1; v = parent[v] {
			rev = append(rev, model.NodeID(v))
		}
		nodes := make([]model.NodeID, len(rev))
		for i, v := range rev {
			nodes[len(rev)-1-i] = v
		}
		if !yield(Path{Dest: model.NodeID(dst), Rank: 1, Nodes: nodes, Cost: dist[dst]}) {
			return
		}
	}
}

// kShortest is Yen's algorithm over the graph.
func kShortest(g *Graph, src, dst model.NodeID, k int) []Path {
	first, cost := graph.ShortestPath(g.g, int(src), int(dst))
	if cost < 0 || len(first) == 0 {
		return nil
	}
	accepted := []Path{{Dest: dst, Rank: 1, Nodes: toNodeIDs(first), Cost: cost}}
	var candidates []Path

	for len(accepted) < k {
		prev := accepted[len(accepted)-1].Nodes
		for j := 0; j < len(prev)-1; j++ {
			spur := prev[j]
			root := prev[:j+1]

			mask := &masked{g: g.g, nodes: make(map[int]bool), edges: make(map[[2]int]bool)}
			for _, p := range accepted {
				if len(p.Nodes) > j+1 && slices.Equal(p.Nodes[:j+1], root) {
					mask.edges[[2]int{int(p.Nodes[j]), int(p.Nodes[j+1])}] = true
				}
			}
			for _, v := range root[:j] {
				mask.nodes[int(v)] = true
			}

			spurPath, spurCost := graph.ShortestPath(mask, int(spur), int(dst))
			if spurCost < 0 || len(spurPath) == 0 {
				continue
			}
			nodes := append(slices.Clone(root[:j]), toNodeIDs(spurPath)...)
			total := pathCost(g, root) + spurCost
			if containsPath(accepted, nodes) || containsPath(candidates, nodes) {
				continue
			}
			candidates = append(candidates, Path{Dest: dst, Nodes: nodes, Cost: total})
		}
		if len(candidates) == 0 {
			break
		}
		slices.SortFunc(candidates, lessPath)
		next := candidates[0]
		candidates = candidates[1:]
		next.Rank = len(accepted) + 1
		accepted = append(accepted, next)
	}
	return accepted
}

// lessPath orders by cost, then lexicographically by node list.
func lessPath(a, b Path) bool {
	if a.Cost != b.Cost {
		return a.Cost < b.Cost
	}
	return slices.Compare(a.Nodes, b.Nodes) < 0
}

func pathCost(g *Graph, nodes []model.NodeID) int64 {
	var c int64
	for i := 0; i+1 < len(nodes); i++ {
		c += g.EdgeCost(nodes[i], nodes[i+1])
	}
	return c
}

func containsPath(ps []Path, nodes []model.NodeID) bool {
	for _, p := range ps {
		if slices.Equal(p.Nodes, nodes) {
			return true
		}
	}
	return false
}

func toNodeIDs(vs []int) []model.NodeID {
	out := make([]model.NodeID, len(vs))
	for i, v := range vs {
		out[i] = model.NodeID(v)
	}
	return out
}
