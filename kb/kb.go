package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/dtn-simulator/model"
)

var (
	// ErrUnknownNode is returned when a lookup names a node that was never
	// registered.
	ErrUnknownNode = errors.New("unknown node")
	// ErrNodeExists is returned when registering a duplicate NodeID.
	ErrNodeExists = errors.New("node already exists")
	// ErrInvalidNode is returned for nodes that cannot be registered as given.
	ErrInvalidNode = errors.New("invalid node")
)

// EventType indicates what kind of change happened in the directory.
type EventType int

const (
	EventNodeAdded EventType = iota
	EventNodeRemoved
)

// Event is emitted to subscribers when the directory changes.
type Event struct {
	Type EventType
	Node model.Node
}

// Directory is an in-memory, thread-safe registry of simulated nodes. It is
// the lookup used to hand a bundle to a next hop.
type Directory struct {
	mu sync.RWMutex

	nodes map[model.NodeID]*model.Node

	subs   map[int]func(Event)
	nextID int
}

// NewDirectory constructs an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		nodes: make(map[model.NodeID]*model.Node),
		subs:  make(map[int]func(Event)),
	}
}

// AddNode registers n. Router nodes must carry a bundle handler.
func (d *Directory) AddNode(n *model.Node) error {
	if n == nil {
		return fmt.Errorf("%w: nil node", ErrInvalidNode)
	}
	if n.Role == model.RoleRouter && n.Handler == nil {
		return fmt.Errorf("%w: router %d has no bundle handler", ErrInvalidNode, n.ID)
	}

	d.mu.Lock()
	if _, exists := d.nodes[n.ID]; exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNodeExists, n.ID)
	}
	d.nodes[n.ID] = n
	ev := Event{Type: EventNodeAdded, Node: *n}
	subs := d.snapshotSubs()
	d.mu.Unlock()

	for _, sub := range subs {
		sub(ev)
	}
	return nil
}

// RemoveNode unregisters id.
func (d *Directory) RemoveNode(id model.NodeID) error {
	d.mu.Lock()
	n, ok := d.nodes[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	delete(d.nodes, id)
	ev := Event{Type: EventNodeRemoved, Node: *n}
	subs := d.snapshotSubs()
	d.mu.Unlock()

	for _, sub := range subs {
		sub(ev)
	}
	return nil
}

// GetNode returns the node with the given ID, or nil if not found.
func (d *Directory) GetNode(id model.NodeID) *model.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.nodes[id]
}

// Resolve returns the bundle handler registered for id. Unknown nodes and
// nodes without a handler fail with ErrUnknownNode.
func (d *Directory) Resolve(id model.NodeID) (model.BundleHandler, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, ok := d.nodes[id]
	if !ok || n.Handler == nil {
		return nil, fmt.Errorf("resolve node %d: %w", id, ErrUnknownNode)
	}
	return n.Handler, nil
}

// RoleOf reports the role of id.
func (d *Directory) RoleOf(id model.NodeID) (model.Role, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes[id]
	if !ok {
		return 0, fmt.Errorf("role of node %d: %w", id, ErrUnknownNode)
	}
	return n.Role, nil
}

// ListNodes returns a snapshot of all nodes sorted by ascending ID.
func (d *Directory) ListNodes() []*model.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()

	res := make([]*model.Node, 0, len(d.nodes))
	for _, n := range d.nodes {
		res = append(res, n)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// IDs returns every registered ID in ascending order.
func (d *Directory) IDs() []model.NodeID {
	nodes := d.ListNodes()
	ids := make([]model.NodeID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

// Routers returns the IDs of router-role nodes in ascending order.
func (d *Directory) Routers() []model.NodeID {
	var ids []model.NodeID
	for _, n := range d.ListNodes() {
		if n.Role == model.RoleRouter {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// Len returns the number of registered nodes.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.nodes)
}

// Subscribe registers a callback for directory events. It returns an
// unsubscribe function that is safe to call more than once.
func (d *Directory) Subscribe(fn func(Event)) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.subs[id] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}

// snapshotSubs must be called with d.mu held. Subscribers are notified
// outside the lock in registration order.
func (d *Directory) snapshotSubs() []func(Event) {
	keys := make([]int, 0, len(d.subs))
	for k := range d.subs {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]func(Event), 0, len(keys))
	for _, k := range keys {
		out = append(out, d.subs[k])
	}
	return out
}
