package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/leo-router/model"
)

var (
	ErrLinkExists        = errors.New("link already exists")
	ErrLinkNotFound      = errors.New("link not found")
	ErrLinkBadInput      = errors.New("invalid link")
	ErrInterfaceExists   = errors.New("interface already exists")
	ErrInterfaceNotFound = errors.New("interface not found")
)

// DefaultAddressBase is the first address handed to interfaces; interface
// i gets DefaultAddressBase + i.
const DefaultAddressBase model.Address = 10 << 24

// KnowledgeBase is the network KB: it stores interfaces and links of the
// constellation. It is concurrency-safe via an internal RWMutex; all
// accessors return copies.
type KnowledgeBase struct {
	mu sync.RWMutex

	addressBase model.Address
	nextIfID    int32

	interfaces       map[int32]*NetworkInterface
	interfacesByNode map[model.NodeID][]int32
	links            map[string]*NetworkLink
	linksByNode      map[model.NodeID]map[string]*NetworkLink
}

// NewKnowledgeBase creates an empty network knowledge base. Interface
// addresses are allocated from addressBase.
func NewKnowledgeBase(addressBase model.Address) *KnowledgeBase {
	if addressBase == 0 {
		addressBase = DefaultAddressBase
	}
	return &KnowledgeBase{
		addressBase:      addressBase,
		nextIfID:         1,
		interfaces:       make(map[int32]*NetworkInterface),
		interfacesByNode: make(map[model.NodeID][]int32),
		links:            make(map[string]*NetworkLink),
		linksByNode:      make(map[model.NodeID]map[string]*NetworkLink),
	}
}

//
// ---------- Interfaces ----------
//

// AddLoopback creates the loopback interface of a node.
func (kb *KnowledgeBase) AddLoopback(node model.NodeID) (NetworkInterface, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for _, id := range kb.interfacesByNode[node] {
		if kb.interfaces[id].Loopback {
			return NetworkInterface{}, fmt.Errorf("%w: loopback on node %d", ErrInterfaceExists, node)
		}
	}
	intf := kb.newInterfaceLocked(node)
	intf.Loopback = true
	intf.Name = fmt.Sprintf("n%d-lo", node)
	intf.Address = model.LoopbackAddress
	intf.Connected = true
	return *intf, nil
}

// AllocateInterface returns a free interface on node, reusing the lowest
// numbered disconnected one before growing the node's interface set.
func (kb *KnowledgeBase) AllocateInterface(node model.NodeID) NetworkInterface {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return *kb.allocateLocked(node)
}

// NOTE: caller must hold kb.mu (write lock).
func (kb *KnowledgeBase) allocateLocked(node model.NodeID) *NetworkInterface {
	for _, id := range kb.interfacesByNode[node] {
		intf := kb.interfaces[id]
		if !intf.Loopback && !intf.Connected {
			return intf
		}
	}
	return kb.newInterfaceLocked(node)
}

// NOTE: caller must hold kb.mu (write lock).
func (kb *KnowledgeBase) newInterfaceLocked(node model.NodeID) *NetworkInterface {
	id := kb.nextIfID
	kb.nextIfID++
	intf := &NetworkInterface{
		ID:           id,
		Name:         interfaceName(node, len(kb.interfacesByNode[node])),
		ParentNodeID: node,
		Address:      kb.addressBase + model.Address(id),
	}
	kb.interfaces[id] = intf
	kb.interfacesByNode[node] = append(kb.interfacesByNode[node], id)
	return intf
}

// Interface returns an interface by ID.
func (kb *KnowledgeBase) Interface(id int32) (NetworkInterface, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	intf, ok := kb.interfaces[id]
	if !ok {
		return NetworkInterface{}, fmt.Errorf("%w: %d", ErrInterfaceNotFound, id)
	}
	return *intf, nil
}

// InterfacesForNode returns the node's interfaces in ID order.
func (kb *KnowledgeBase) InterfacesForNode(node model.NodeID) []NetworkInterface {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	ids := kb.interfacesByNode[node]
	out := make([]NetworkInterface, 0, len(ids))
	for _, id := range ids {
		out = append(out, *kb.interfaces[id])
	}
	return out
}

//
// ---------- Links ----------
//

// Connect creates an undirected link between two nodes, allocating one
// interface on each end.
func (kb *KnowledgeBase) Connect(kind LinkKind, a, b model.NodeID, dataRateBps float64) (NetworkLink, error) {
	if a == b {
		return NetworkLink{}, fmt.Errorf("%w: self link on node %d", ErrLinkBadInput, a)
	}
	if b < a {
		a, b = b, a
	}
	id := LinkID(kind, a, b)

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.links[id]; exists {
		return NetworkLink{}, fmt.Errorf("%w: %q", ErrLinkExists, id)
	}

	ia := kb.allocateLocked(a)
	ia.Connected = true
	ib := kb.allocateLocked(b)
	ib.Connected = true
	ia.LinkID, ib.LinkID = id, id
	ia.DataRateBps, ib.DataRateBps = dataRateBps, dataRateBps

	link := &NetworkLink{
		ID:          id,
		Kind:        kind,
		NodeA:       a,
		NodeB:       b,
		InterfaceA:  ia.ID,
		InterfaceB:  ib.ID,
		IsUp:        true,
		DataRateBps: dataRateBps,
	}
	kb.links[id] = link
	kb.attachLinkToNode(link, a)
	kb.attachLinkToNode(link, b)
	return *link, nil
}

// Disconnect tears a link down in both directions and marks both of its
// interfaces as disconnected so they can be reused.
func (kb *KnowledgeBase) Disconnect(linkID string) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	link, ok := kb.links[linkID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrLinkNotFound, linkID)
	}
	for _, ifID := range []int32{link.InterfaceA, link.InterfaceB} {
		if intf := kb.interfaces[ifID]; intf != nil {
			intf.Connected = false
			intf.LinkID = ""
		}
	}
	link.IsUp = false
	kb.detachLinkFromNode(linkID, link.NodeA)
	kb.detachLinkFromNode(linkID, link.NodeB)
	delete(kb.links, linkID)
	return nil
}

// Link returns a single link by ID.
func (kb *KnowledgeBase) Link(id string) (NetworkLink, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	l, ok := kb.links[id]
	if !ok {
		return NetworkLink{}, fmt.Errorf("%w: %q", ErrLinkNotFound, id)
	}
	return *l, nil
}

// LinkBetween returns the link of the given kind joining a and b.
func (kb *KnowledgeBase) LinkBetween(kind LinkKind, a, b model.NodeID) (NetworkLink, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	l, ok := kb.links[LinkID(kind, a, b)]
	if !ok {
		return NetworkLink{}, false
	}
	return *l, true
}

// Links returns all links sorted by ID.
func (kb *KnowledgeBase) Links() []NetworkLink {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.sortedLinksLocked()
}

// LinksForNode returns the node's links sorted by ID.
func (kb *KnowledgeBase) LinksForNode(node model.NodeID) []NetworkLink {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	m := kb.linksByNode[node]
	out := make([]NetworkLink, 0, len(m))
	for _, l := range m {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetLinkMetrics updates the distance-derived metrics of a link.
func (kb *KnowledgeBase) SetLinkMetrics(id string, distanceM, delaySeconds, weight float64) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	l, ok := kb.links[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrLinkNotFound, id)
	}
	l.DistanceM = distanceM
	l.DelaySeconds = delaySeconds
	l.Weight = weight
	return nil
}

// Snapshot is an immutable copy of the network state for one routing pass.
type Snapshot struct {
	Interfaces []NetworkInterface
	Links      []NetworkLink
}

// Snapshot copies interfaces (by ID) and links (by link ID) under one lock.
func (kb *KnowledgeBase) Snapshot() Snapshot {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	ifs := make([]NetworkInterface, 0, len(kb.interfaces))
	for _, intf := range kb.interfaces {
		ifs = append(ifs, *intf)
	}
	sort.Slice(ifs, func(i, j int) bool { return ifs[i].ID < ifs[j].ID })
	return Snapshot{Interfaces: ifs, Links: kb.sortedLinksLocked()}
}

// Clear removes interfaces and links.
func (kb *KnowledgeBase) Clear() {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	kb.nextIfID = 1
	kb.interfaces = make(map[int32]*NetworkInterface)
	kb.interfacesByNode = make(map[model.NodeID][]int32)
	kb.links = make(map[string]*NetworkLink)
	kb.linksByNode = make(map[model.NodeID]map[string]*NetworkLink)
}

// NOTE: caller must hold kb.mu.
func (kb *KnowledgeBase) sortedLinksLocked() []NetworkLink {
	out := make([]NetworkLink, 0, len(kb.links))
	for _, l := range kb.links {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NOTE: caller must hold kb.mu (write lock).
func (kb *KnowledgeBase) attachLinkToNode(link *NetworkLink, node model.NodeID) {
	m, ok := kb.linksByNode[node]
	if !ok {
		m = make(map[string]*NetworkLink)
		kb.linksByNode[node] = m
	}
	m[link.ID] = link
}

// NOTE: caller must hold kb.mu (write lock).
func (kb *KnowledgeBase) detachLinkFromNode(linkID string, node model.NodeID) {
	if m, ok := kb.linksByNode[node]; ok {
		delete(m, linkID)
		if len(m) == 0 {
			delete(kb.linksByNode, node)
		}
	}
}
