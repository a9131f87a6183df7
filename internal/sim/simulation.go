// Package sim hosts a model tree as a running simulation. The Simulation
// component sits on the root node, owns the event connector and the clock,
// and serialises structural mutation with its mutation lock.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/modeltree/internal/events"
	"github.com/signalsfoundry/modeltree/internal/lifecycle"
	"github.com/signalsfoundry/modeltree/internal/links"
	"github.com/signalsfoundry/modeltree/internal/logging"
	"github.com/signalsfoundry/modeltree/internal/scope"
	"github.com/signalsfoundry/modeltree/internal/structure"
	"github.com/signalsfoundry/modeltree/kb"
	"github.com/signalsfoundry/modeltree/kinds"
	"github.com/signalsfoundry/modeltree/model"
	"github.com/signalsfoundry/modeltree/timectrl"
)

// KindSimulation is the kind of a simulation root node.
const KindSimulation = "Simulation"

var (
	// ErrAlreadyRunning indicates Run was called on a running simulation.
	ErrAlreadyRunning = errors.New("simulation already running")
	// ErrNotSimulation indicates a tree whose root is not a simulation.
	ErrNotSimulation = errors.New("root is not a simulation")
)

func init() {
	model.RegisterKind(KindSimulation, func() any { return &Simulation{} })
}

// Simulation is the component of a simulation root node.
type Simulation struct {
	// mu is the mutation lock. Structural changes and ticks hold it.
	mu      sync.Mutex
	running atomic.Bool
	active  atomic.Bool

	node     *model.Node
	cache    *scope.Cache
	events   *events.Connector
	links    *links.Resolver
	engine   *structure.Engine
	clock    *timectrl.TimeController
	registry *kb.Registry
	log      logging.Logger
	extra    []any

	strictLinks bool
	engineOpts  []structure.EngineOption
	eventOpts   []events.ConnectorOption
}

// Option customises a Simulation.
type Option func(*Simulation)

// WithLogger sets the simulation logger.
func WithLogger(log logging.Logger) Option {
	return func(s *Simulation) {
		if log != nil {
			s.log = log
		}
	}
}

// WithCache shares a scope cache with other simulations in the process.
func WithCache(c *scope.Cache) Option {
	return func(s *Simulation) { s.cache = c }
}

// WithClock replaces the default accelerated daily clock.
func WithClock(tc *timectrl.TimeController) Option {
	return func(s *Simulation) { s.clock = tc }
}

// WithRegistry replaces the node registry.
func WithRegistry(reg *kb.Registry) Option {
	return func(s *Simulation) { s.registry = reg }
}

// WithServices adds services that links may resolve to when nothing in
// scope matches.
func WithServices(svcs ...any) Option {
	return func(s *Simulation) { s.extra = append(s.extra, svcs...) }
}

// WithStrictLinks controls whether an unresolved required link fails Run.
func WithStrictLinks(strict bool) Option {
	return func(s *Simulation) { s.strictLinks = strict }
}

// WithEngineOptions passes options through to the structure engine.
func WithEngineOptions(opts ...structure.EngineOption) Option {
	return func(s *Simulation) { s.engineOpts = append(s.engineOpts, opts...) }
}

// WithEventOptions passes options through to the event connector.
func WithEventOptions(opts ...events.ConnectorOption) Option {
	return func(s *Simulation) { s.eventOpts = append(s.eventOpts, opts...) }
}

// New creates an empty simulation tree named name.
func New(name string, opts ...Option) (*Simulation, error) {
	root, err := model.NewOfKind(KindSimulation, name)
	if err != nil {
		return nil, err
	}
	return Load(root, opts...)
}

// Load turns a materialised tree into a simulation. A Simulations wrapper
// holding a single simulation is unwrapped.
func Load(root *model.Node, opts ...Option) (*Simulation, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: nil tree", ErrNotSimulation)
	}
	if root.Kind == structure.WrapperKind && root.NumChildren() == 1 {
		inner := root.Children()[0]
		if err := model.DetachChild(root, inner); err != nil {
			return nil, err
		}
		root = inner
	}
	if root.Kind != KindSimulation {
		return nil, fmt.Errorf("%w: %s is a %s", ErrNotSimulation, root.Name, root.Kind)
	}
	s, ok := root.Component.(*Simulation)
	if !ok {
		if root.Component != nil {
			return nil, fmt.Errorf("%w: unexpected component %T", ErrNotSimulation, root.Component)
		}
		s = &Simulation{}
		root.Component = s
	}
	if s.node != nil {
		return nil, fmt.Errorf("simulation %s already loaded", root.Name)
	}

	s.node = root
	s.log = logging.Noop()
	s.strictLinks = true
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.cache == nil {
		s.cache = scope.NewCache(nil)
	}
	if s.registry == nil {
		s.registry = kb.NewRegistry()
	}
	if s.clock == nil {
		s.clock = timectrl.NewTimeController(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), 24*time.Hour, timectrl.Accelerated)
	}
	s.log = s.log.With(logging.String("simulation", root.Name))
	s.events = events.NewConnector(s.cache, s.log, s.eventOpts...)
	s.links = links.NewResolver(s.cache, s.Services(), s.log)
	engineOpts := append([]structure.EngineOption{
		structure.WithLogger(s.log),
		structure.WithRegistry(s.registry),
	}, s.engineOpts...)
	s.engine = structure.NewEngine(s.cache, engineOpts...)

	model.SetParentRecursively(root)
	if err := s.registry.AddSubtree(root); err != nil {
		return nil, err
	}
	s.clock.AddListener(s.tick)
	return s, nil
}

// Declare makes the simulation node the publisher of the per-step event.
func (s *Simulation) Declare(d *model.Declarations) {
	d.Publish(kinds.EventDoTimestep)
}

// Node returns the simulation root node.
func (s *Simulation) Node() *model.Node { return s.node }

// IsRunning reports whether the simulation is live: from the moment its
// links are resolved and events connected until EndOfSimulation.
func (s *Simulation) IsRunning() bool { return s.running.Load() }

// Events returns the simulation's event connector.
func (s *Simulation) Events() *events.Connector { return s.events }

// Links returns the resolver holding the simulation's link table.
func (s *Simulation) Links() *links.Resolver { return s.links }

// Services returns the handles links fall back to: extra services first,
// then the event connector, the clock and the node registry.
func (s *Simulation) Services() []any {
	out := append([]any(nil), s.extra...)
	return append(out, s.events, s.clock, s.registry)
}

// Engine returns the structure engine bound to this simulation's cache and
// registry. Callers outside event handlers should go through Mutate.
func (s *Simulation) Engine() *structure.Engine { return s.engine }

// Registry returns the node registry.
func (s *Simulation) Registry() *kb.Registry { return s.registry }

// Clock returns the simulation clock.
func (s *Simulation) Clock() *timectrl.TimeController { return s.clock }

// Cache returns the scope cache.
func (s *Simulation) Cache() *scope.Cache { return s.cache }

// StrictLinks reports whether unresolved required links are errors.
func (s *Simulation) StrictLinks() bool { return s.strictLinks }

// Mutate runs fn with the mutation lock held. Event handlers already hold
// the lock and must use Engine directly.
func (s *Simulation) Mutate(fn func(e *structure.Engine) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.engine)
}

// View runs fn with the mutation lock held, for consistent reads.
func (s *Simulation) View(fn func(root *model.Node)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.node)
}

// Run resolves links, connects events, replays StartOfSimulation and then
// publishes DoTimestep from the root once per clock tick. steps <= 0 runs
// until ctx is cancelled, which counts as a clean stop.
func (s *Simulation) Run(ctx context.Context, steps int) (err error) {
	if !s.active.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.active.Store(false)

	if err := s.start(ctx); err != nil {
		return err
	}
	defer func() {
		if endErr := s.end(ctx); err == nil {
			err = endErr
		}
	}()

	s.log.Info(ctx, "simulation started", logging.Int("steps", steps))
	err = s.clock.Run(ctx, steps)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.log.Info(ctx, "simulation finished", logging.Int("steps_taken", s.clock.Steps()), logging.Err(err))
	return err
}

func (s *Simulation) start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.links.Resolve(ctx, s.node, true, s.strictLinks); err != nil {
		return err
	}
	if err := s.events.Connect(ctx, s.node); err != nil {
		s.events.Disconnect(s.node)
		return err
	}

	// Models a StartOfSimulation handler adds are wired and started by the
	// engine as live adds, so the replay covers the tree as it stands now.
	s.running.Store(true)
	if err := lifecycle.DispatchSnapshot(ctx, s.node, model.StartOfSimulation, model.HookArgs{Sender: s.node}); err != nil {
		s.running.Store(false)
		s.events.Disconnect(s.node)
		return err
	}
	return nil
}

func (s *Simulation) end(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running.Store(false)
	err := lifecycle.Dispatch(ctx, s.node, model.EndOfSimulation, model.HookArgs{Sender: s.node})
	s.events.Disconnect(s.node)
	return err
}

func (s *Simulation) tick(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Publish(ctx, s.node, kinds.EventDoTimestep, now)
}
