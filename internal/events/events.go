// Package events wires declared event subscribers to the publishers in
// their scope and delivers published events.
package events

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/signalsfoundry/modeltree/internal/logging"
	"github.com/signalsfoundry/modeltree/internal/scope"
	"github.com/signalsfoundry/modeltree/model"
)

// Binding connects one subscriber handler to one publisher's event.
type Binding struct {
	Publisher  *model.Node
	Event      string
	Subscriber *model.Node
	Handler    string

	fn model.HookFunc
}

type bindingKey struct {
	publisher  *model.Node
	event      string
	subscriber *model.Node
	handler    string
}

func (b Binding) key() bindingKey {
	return bindingKey{b.Publisher, b.Event, b.Subscriber, b.Handler}
}

// MetricsRecorder receives the current number of bindings.
type MetricsRecorder interface {
	SetEventBindings(n int)
}

// Connector owns the event bindings of one simulation.
type Connector struct {
	cache   *scope.Cache
	log     logging.Logger
	metrics MetricsRecorder

	mu       sync.Mutex
	bindings []Binding
	index    map[bindingKey]struct{}
}

// ConnectorOption customises a Connector.
type ConnectorOption func(*Connector)

// WithMetricsRecorder reports the binding count after every change.
func WithMetricsRecorder(m MetricsRecorder) ConnectorOption {
	return func(c *Connector) { c.metrics = m }
}

// NewConnector returns a connector with no bindings.
func NewConnector(cache *scope.Cache, log logging.Logger, opts ...ConnectorOption) *Connector {
	if log == nil {
		log = logging.Noop()
	}
	c := &Connector{
		cache: cache,
		log:   log,
		index: make(map[bindingKey]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Connect binds every subscription declared in root's subtree to the
// publishers of that event in the subscriber's scope. Existing bindings
// are kept; connecting twice never duplicates a binding.
func (c *Connector) Connect(ctx context.Context, root *model.Node) error {
	added := 0
	err := root.Walk(func(sub *model.Node) error {
		for _, s := range sub.Declarations().Subscriptions {
			if s.Fn == nil {
				return fmt.Errorf("subscription %s.%s on %s has no handler", s.Event, s.Handler, sub.FullPath())
			}
			event := s.Event
			pubs := scope.Find(c.cache, sub, scope.QueryPublisher, event, func(n *model.Node) bool {
				return n.Declarations().PublishesEvent(event)
			})
			for _, pub := range pubs {
				if c.add(Binding{Publisher: pub, Event: event, Subscriber: sub, Handler: s.Handler, fn: s.Fn}) {
					added++
				}
			}
		}
		return nil
	})
	c.log.Debug(ctx, "events connected", logging.Node(root), logging.Int("added", added))
	c.report()
	return err
}

func (c *Connector) add(b Binding) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := b.key()
	if _, ok := c.index[k]; ok {
		return false
	}
	c.index[k] = struct{}{}
	c.bindings = append(c.bindings, b)
	return true
}

// Disconnect removes every binding whose publisher or subscriber lies in
// root's subtree.
func (c *Connector) Disconnect(root *model.Node) {
	in := make(map[*model.Node]bool)
	_ = root.Walk(func(n *model.Node) error {
		in[n] = true
		return nil
	})

	c.mu.Lock()
	c.bindings = slices.DeleteFunc(c.bindings, func(b Binding) bool {
		if in[b.Publisher] || in[b.Subscriber] {
			delete(c.index, b.key())
			return true
		}
		return false
	})
	c.mu.Unlock()
	c.report()
}

// Publish delivers event from publisher to its subscribers in binding
// order. The first handler error stops delivery and is returned.
func (c *Connector) Publish(ctx context.Context, publisher *model.Node, event string, data any) error {
	c.mu.Lock()
	var targets []Binding
	for _, b := range c.bindings {
		if b.Publisher == publisher && b.Event == event {
			targets = append(targets, b)
		}
	}
	c.mu.Unlock()

	args := model.HookArgs{Sender: publisher, Data: data}
	for _, b := range targets {
		if err := b.fn(ctx, args); err != nil {
			return fmt.Errorf("%s.%s handling %s: %w", b.Subscriber.FullPath(), b.Handler, event, err)
		}
	}
	return nil
}

// Bindings returns a snapshot of the current bindings in creation order.
func (c *Connector) Bindings() []Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.bindings)
}

// Len returns the number of bindings.
func (c *Connector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bindings)
}

func (c *Connector) report() {
	if c.metrics != nil {
		c.metrics.SetEventBindings(c.Len())
	}
}
