// Package kb is the id-keyed node registry of a simulation. It indexes
// every attached node by its unique id and notifies subscribers about
// structural changes.
package kb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/modeltree/model"
)

// EventType indicates what kind of change happened in the registry.
type EventType int

const (
	EventNodeAdded EventType = iota
	EventNodeRemoved
	EventNodeRenamed
	EventNodeMoved
)

func (t EventType) String() string {
	switch t {
	case EventNodeAdded:
		return "added"
	case EventNodeRemoved:
		return "removed"
	case EventNodeRenamed:
		return "renamed"
	case EventNodeMoved:
		return "moved"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is emitted to subscribers after a change. Path is captured at
// notification time.
type Event struct {
	Type  EventType
	ID    string
	Kind  string
	Path  string
	Total int
}

// Registry is an in-memory, thread-safe index of nodes by id.
type Registry struct {
	mu sync.RWMutex

	nodes map[string]*model.Node

	subs    map[int]func(Event)
	nextSub int
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nodes: make(map[string]*model.Node),
		subs:  make(map[int]func(Event)),
	}
}

// AddSubtree indexes root and all of its descendants. It returns an error,
// and indexes nothing, if any id is already present.
func (r *Registry) AddSubtree(root *model.Node) error {
	nodes := append([]*model.Node{root}, root.Descendants()...)

	r.mu.Lock()
	for _, n := range nodes {
		if _, exists := r.nodes[n.ID()]; exists {
			r.mu.Unlock()
			return fmt.Errorf("node with ID %q already registered", n.ID())
		}
	}
	for _, n := range nodes {
		r.nodes[n.ID()] = n
	}
	total := len(r.nodes)
	subs := r.snapshotSubs()
	r.mu.Unlock()

	notify(subs, newEvent(EventNodeAdded, root, total))
	return nil
}

// RemoveSubtree drops root and all of its descendants. It returns the number
// of nodes removed.
func (r *Registry) RemoveSubtree(root *model.Node) int {
	r.mu.Lock()
	removed := 0
	_ = root.Walk(func(n *model.Node) error {
		if _, ok := r.nodes[n.ID()]; ok {
			delete(r.nodes, n.ID())
			removed++
		}
		return nil
	})
	total := len(r.nodes)
	subs := r.snapshotSubs()
	r.mu.Unlock()

	if removed > 0 {
		notify(subs, newEvent(EventNodeRemoved, root, total))
	}
	return removed
}

// Notify emits a rename or move event for a registered node.
func (r *Registry) Notify(t EventType, n *model.Node) {
	r.mu.RLock()
	if _, ok := r.nodes[n.ID()]; !ok {
		r.mu.RUnlock()
		return
	}
	total := len(r.nodes)
	subs := r.snapshotSubs()
	r.mu.RUnlock()

	notify(subs, newEvent(t, n, total))
}

// Get returns the node with the given id, or nil if not found.
func (r *Registry) Get(id string) *model.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodes[id]
}

// List returns a snapshot of all registered nodes ordered by path.
func (r *Registry) List() []*model.Node {
	r.mu.RLock()
	res := make([]*model.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		res = append(res, n)
	}
	r.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].FullPath() < res[j].FullPath() })
	return res
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Subscribe registers a callback for registry events. It returns an
// unsubscribe function.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// snapshotSubs must be called with r.mu held.
func (r *Registry) snapshotSubs() []func(Event) {
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, r.subs[id])
	}
	return out
}

func newEvent(t EventType, n *model.Node, total int) Event {
	return Event{Type: t, ID: n.ID(), Kind: n.Kind, Path: n.FullPath(), Total: total}
}

// notify runs outside the lock so subscribers may call back into the registry.
func notify(subs []func(Event), e Event) {
	for _, sub := range subs {
		sub(e)
	}
}
