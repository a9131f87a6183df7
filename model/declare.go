package model

import (
	"context"
	"reflect"
	"strconv"
	"sync"
)

// Declarer is implemented by components that declare links, events or
// lifecycle hooks. Declare is called once per node.
type Declarer interface {
	Declare(d *Declarations)
}

// Multiplicity says whether a link binds one target or all of them.
type Multiplicity int

const (
	// Single binds the nearest match in scope.
	Single Multiplicity = iota
	// Collection binds every match in scope discovery order.
	Collection
)

func (m Multiplicity) String() string {
	if m == Collection {
		return "collection"
	}
	return "single"
}

// Hook names a lifecycle callback.
type Hook string

const (
	OnCreated         Hook = "OnCreated"
	StartOfSimulation Hook = "StartOfSimulation"
	EndOfSimulation   Hook = "EndOfSimulation"
)

// HookArgs is passed to lifecycle hooks and event handlers.
type HookArgs struct {
	// Sender is the node that triggered the callback, if any.
	Sender *Node
	// Data is an optional, event-specific payload.
	Data any
}

// HookFunc is a lifecycle hook or event handler.
type HookFunc func(ctx context.Context, args HookArgs) error

// LinkDescriptor is a declared dependency injection point.
type LinkDescriptor struct {
	Name         string
	Target       string // type key of the target type or interface
	Required     bool
	Multiplicity Multiplicity
	// ByName restricts candidates to nodes with this name.
	ByName string

	match func(any) bool
	bind  func([]any)
}

// Matches reports whether v satisfies the link's target type.
func (l LinkDescriptor) Matches(v any) bool {
	return l.match != nil && l.match(v)
}

// Bind stores targets into the component field behind the link. A nil or
// empty slice resets the field to its zero value.
func (l LinkDescriptor) Bind(targets []any) {
	if l.bind != nil {
		l.bind(targets)
	}
}

// Subscription declares a handler for an event published in scope.
type Subscription struct {
	Event   string
	Handler string
	Fn      HookFunc
}

// Declarations collects what a component registers.
type Declarations struct {
	Links         []LinkDescriptor
	Publishes     []string
	Subscriptions []Subscription
	Hooks         map[Hook]HookFunc
}

// LinkOption customises a link declaration.
type LinkOption func(*LinkDescriptor)

// Optional marks a link as not required.
func Optional() LinkOption {
	return func(l *LinkDescriptor) { l.Required = false }
}

// Named restricts a link to targets with the given node name.
func Named(name string) LinkOption {
	return func(l *LinkDescriptor) { l.ByName = name }
}

// LinkTo declares a single-valued link. T is the target type or interface;
// the resolved target is stored into dst.
func LinkTo[T any](d *Declarations, name string, dst *T, opts ...LinkOption) {
	l := LinkDescriptor{
		Name:         name,
		Target:       TypeKey[T](),
		Required:     true,
		Multiplicity: Single,
		match:        isA[T],
		bind: func(targets []any) {
			var zero T
			*dst = zero
			if len(targets) > 0 {
				*dst = targets[0].(T)
			}
		},
	}
	for _, opt := range opts {
		opt(&l)
	}
	d.Links = append(d.Links, l)
}

// LinkAll declares a collection link. Every target of type T in scope is
// stored into dst in discovery order.
func LinkAll[T any](d *Declarations, name string, dst *[]T, opts ...LinkOption) {
	l := LinkDescriptor{
		Name:         name,
		Target:       TypeKey[T](),
		Required:     true,
		Multiplicity: Collection,
		match:        isA[T],
		bind: func(targets []any) {
			out := make([]T, 0, len(targets))
			for _, t := range targets {
				out = append(out, t.(T))
			}
			*dst = out
		},
	}
	for _, opt := range opts {
		opt(&l)
	}
	d.Links = append(d.Links, l)
}

// Publish declares an event the component raises.
func (d *Declarations) Publish(event string) {
	d.Publishes = append(d.Publishes, event)
}

// PublishesEvent reports whether event was declared with Publish.
func (d *Declarations) PublishesEvent(event string) bool {
	for _, e := range d.Publishes {
		if e == event {
			return true
		}
	}
	return false
}

// Subscribe declares handler as a subscriber of event.
func (d *Declarations) Subscribe(event, handler string, fn HookFunc) {
	d.Subscriptions = append(d.Subscriptions, Subscription{Event: event, Handler: handler, Fn: fn})
}

// On registers a lifecycle hook.
func (d *Declarations) On(hook Hook, fn HookFunc) {
	if d.Hooks == nil {
		d.Hooks = make(map[Hook]HookFunc)
	}
	d.Hooks[hook] = fn
}

var typeKeys struct {
	sync.Mutex
	byType map[reflect.Type]string
	taken  map[string]bool
}

// TypeKey returns a stable key for T, used in cache keys and log output.
// Distinct types always get distinct keys.
func TypeKey[T any]() string {
	return keyOf(reflect.TypeFor[T]())
}

func keyOf(t reflect.Type) string {
	typeKeys.Lock()
	defer typeKeys.Unlock()
	if k, ok := typeKeys.byType[t]; ok {
		return k
	}
	if typeKeys.byType == nil {
		typeKeys.byType = make(map[reflect.Type]string)
		typeKeys.taken = make(map[string]bool)
	}
	// Types declared inside functions share a qualified name.
	base := qualifiedName(t)
	k := base
	for i := 2; typeKeys.taken[k]; i++ {
		k = base + "#" + strconv.Itoa(i)
	}
	typeKeys.byType[t] = k
	typeKeys.taken[k] = true
	return k
}

func qualifiedName(t reflect.Type) string {
	switch {
	case t.Name() != "" && t.PkgPath() != "":
		return t.PkgPath() + "." + t.Name()
	case t.Kind() == reflect.Pointer:
		return "*" + qualifiedName(t.Elem())
	case t.Kind() == reflect.Slice:
		return "[]" + qualifiedName(t.Elem())
	default:
		return t.String()
	}
}

func isA[T any](v any) bool {
	_, ok := v.(T)
	return ok
}
