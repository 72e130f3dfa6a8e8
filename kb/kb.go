package kb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/leo-router/model"
)

var (
	ErrNodeExists   = errors.New("node already exists")
	ErrNodeNotFound = errors.New("node not found")
	ErrNodeBadInput = errors.New("invalid node")
	ErrNodeOrder    = errors.New("satellites must be registered before ground stations")
)

// KnowledgeBase is an in-memory, thread-safe registry of constellation
// nodes and their latest positions. Node IDs are dense and assigned in
// registration order, so satellites come first.
type KnowledgeBase struct {
	mu sync.RWMutex

	nodes     []model.NodeInfo
	positions []model.Position
	byName    map[string]model.NodeID
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		byName: make(map[string]model.NodeID),
	}
}

// AddNode registers a node and assigns its ID. The ID field of info is
// ignored.
func (kb *KnowledgeBase) AddNode(info model.NodeInfo) (model.NodeID, error) {
	if info.Name == "" {
		return 0, fmt.Errorf("%w: empty name", ErrNodeBadInput)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, exists := kb.byName[info.Name]; exists {
		return 0, fmt.Errorf("%w: %q", ErrNodeExists, info.Name)
	}
	if info.Kind == model.KindSatellite && len(kb.nodes) > 0 &&
		kb.nodes[len(kb.nodes)-1].Kind == model.KindGroundStation {
		return 0, fmt.Errorf("%w: %q", ErrNodeOrder, info.Name)
	}
	info.ID = model.NodeID(len(kb.nodes))
	kb.nodes = append(kb.nodes, info)
	kb.positions = append(kb.positions, model.Position{})
	kb.byName[info.Name] = info.ID
	return info.ID, nil
}

// Node returns the node with the given ID.
func (kb *KnowledgeBase) Node(id model.NodeID) (model.NodeInfo, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	if id < 0 || int(id) >= len(kb.nodes) {
		return model.NodeInfo{}, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	return kb.nodes[id], nil
}

// NodeByName resolves a node by its unique name.
func (kb *KnowledgeBase) NodeByName(name string) (model.NodeInfo, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	id, ok := kb.byName[name]
	if !ok {
		return model.NodeInfo{}, fmt.Errorf("%w: %q", ErrNodeNotFound, name)
	}
	return kb.nodes[id], nil
}

// ListNodes returns a snapshot of all nodes in ID order.
func (kb *KnowledgeBase) ListNodes() []model.NodeInfo {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return append([]model.NodeInfo(nil), kb.nodes...)
}

// Satellites returns the satellite nodes in ID order.
func (kb *KnowledgeBase) Satellites() []model.NodeInfo {
	return kb.filter(model.KindSatellite)
}

// GroundStations returns the ground station nodes in ID order.
func (kb *KnowledgeBase) GroundStations() []model.NodeInfo {
	return kb.filter(model.KindGroundStation)
}

func (kb *KnowledgeBase) filter(kind model.NodeKind) []model.NodeInfo {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	var out []model.NodeInfo
	for _, n := range kb.nodes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// NumNodes returns the number of registered nodes.
func (kb *KnowledgeBase) NumNodes() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.nodes)
}

// NameIndex returns a copy of the name to ID mapping.
func (kb *KnowledgeBase) NameIndex() map[string]model.NodeID {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make(map[string]model.NodeID, len(kb.byName))
	for k, v := range kb.byName {
		out[k] = v
	}
	return out
}

// UpdatePosition replaces a node's last known position.
func (kb *KnowledgeBase) UpdatePosition(id model.NodeID, pos model.Position) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if id < 0 || int(id) >= len(kb.nodes) {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	kb.positions[id] = pos
	return nil
}

// Position returns the last known position of a node. The boolean is
// false when the node is unknown or has never been positioned.
func (kb *KnowledgeBase) Position(id model.NodeID) (model.Position, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	if id < 0 || int(id) >= len(kb.positions) {
		return model.Position{}, false
	}
	p := kb.positions[id]
	return p, p.Valid
}
