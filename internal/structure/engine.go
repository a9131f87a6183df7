// Package structure performs structural mutation of a model tree: adding,
// renaming, moving and deleting nodes while keeping sibling names unique,
// the scope cache coherent and, in a running simulation, links and event
// bindings wired.
package structure

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/modeltree/internal/events"
	"github.com/signalsfoundry/modeltree/internal/format"
	"github.com/signalsfoundry/modeltree/internal/lifecycle"
	"github.com/signalsfoundry/modeltree/internal/links"
	"github.com/signalsfoundry/modeltree/internal/logging"
	"github.com/signalsfoundry/modeltree/internal/scope"
	"github.com/signalsfoundry/modeltree/kb"
	"github.com/signalsfoundry/modeltree/model"
)

const tracerName = "github.com/signalsfoundry/modeltree/internal/structure"

// WrapperKind is the container kind that is unwrapped when it holds exactly
// one child.
const WrapperKind = "Simulations"

// LiveSimulation is implemented by the component of a simulation node.
// When the nearest one above an added node is running, the added subtree is
// linked, connected and started immediately.
type LiveSimulation interface {
	IsRunning() bool
	Links() *links.Resolver
	Events() *events.Connector
}

// MetricsRecorder captures engine metrics. Implementations must be safe for
// concurrent use.
type MetricsRecorder interface {
	ObserveStructureOp(op string, d time.Duration, err error)
	IncRelinkFailures()
}

// Engine performs structural operations. It does no locking of its own;
// callers mutating a live tree hold that simulation's mutation lock.
type Engine struct {
	cache    *scope.Cache
	log      logging.Logger
	registry *kb.Registry
	metrics  MetricsRecorder
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log logging.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithRegistry keeps reg in sync with every structural change.
func WithRegistry(reg *kb.Registry) EngineOption {
	return func(e *Engine) { e.registry = reg }
}

// WithMetricsRecorder wires an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine constructs an engine over cache. A nil cache gets a private one.
func NewEngine(cache *scope.Cache, opts ...EngineOption) *Engine {
	if cache == nil {
		cache = scope.NewCache(nil)
	}
	e := &Engine{cache: cache, log: logging.Noop()}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Cache returns the scope cache the engine invalidates.
func (e *Engine) Cache() *scope.Cache { return e.cache }

type addOptions struct {
	strictLinks bool
}

// AddOption customises a single Add.
type AddOption func(*addOptions)

// WithStrictLinks controls whether an unresolved required link fails a live
// add (the default) or is only logged.
func WithStrictLinks(strict bool) AddOption {
	return func(o *addOptions) { o.strictLinks = strict }
}

func newAddOptions(opts []AddOption) addOptions {
	o := addOptions{strictLinks: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Add attaches node under parent and returns the node actually attached:
// a Simulations wrapper holding exactly one child is replaced by that
// child.
func (e *Engine) Add(ctx context.Context, node, parent *model.Node, opts ...AddOption) (added *model.Node, err error) {
	ctx, span := e.startSpan(ctx, "structure.Add", parent)
	defer e.finish(span, "add", time.Now(), &err)

	return e.add(ctx, node, parent, newAddOptions(opts))
}

// AddString materialises fragment, in either the native or the legacy
// dialect, and adds it under parent. Descendants of the added node get
// OnCreated called again once attached.
func (e *Engine) AddString(ctx context.Context, fragment string, parent *model.Node, opts ...AddOption) (added *model.Node, err error) {
	ctx, span := e.startSpan(ctx, "structure.AddString", parent)
	defer e.finish(span, "add_string", time.Now(), &err)

	if err := checkWritable(parent); err != nil {
		return nil, err
	}
	node, err := format.Parse(fragment)
	if err != nil {
		return nil, err
	}
	added, err = e.add(ctx, node, parent, newAddOptions(opts))
	if err != nil {
		return nil, err
	}
	if err := lifecycle.DispatchDescendants(ctx, added, model.OnCreated, model.HookArgs{Sender: parent}); err != nil {
		return nil, fmt.Errorf("add %s: %w", added.FullPath(), err)
	}
	return added, nil
}

func (e *Engine) add(ctx context.Context, node, parent *model.Node, o addOptions) (*model.Node, error) {
	if node == nil {
		return nil, fmt.Errorf("%w: nothing to add", model.ErrStructural)
	}
	if err := checkWritable(parent); err != nil {
		return nil, err
	}

	if node.Kind == WrapperKind && node.NumChildren() == 1 {
		inner := node.Children()[0]
		if err := model.DetachChild(node, inner); err != nil {
			return nil, err
		}
		node = inner
	}

	if err := model.AttachChild(parent, node); err != nil {
		return nil, err
	}
	model.SetParentRecursively(node)

	if err := ensureUniqueSubtree(node); err != nil {
		_ = model.DetachChild(parent, node)
		return nil, err
	}
	if e.registry != nil {
		if err := e.registry.AddSubtree(node); err != nil {
			_ = model.DetachChild(parent, node)
			return nil, fmt.Errorf("%w: %w", model.ErrStructural, err)
		}
	}
	e.cache.Invalidate(node)

	if err := lifecycle.Dispatch(ctx, node, model.OnCreated, model.HookArgs{Sender: parent}); err != nil {
		return nil, fmt.Errorf("add %s: %w", node.FullPath(), err)
	}

	if _, live := model.FindAncestor[LiveSimulation](parent); live != nil && live.IsRunning() {
		if err := e.wireLive(ctx, node, parent, live, o); err != nil {
			e.cache.Invalidate(node)
			return nil, err
		}
	}

	e.cache.Invalidate(node)
	e.log.Info(ctx, "model added", logging.Node(node), logging.String("parent", parent.FullPath()))
	return node, nil
}

// wireLive lets a node added to a running simulation take part in it:
// links are resolved, events connected and StartOfSimulation replayed.
func (e *Engine) wireLive(ctx context.Context, node, parent *model.Node, live LiveSimulation, o addOptions) error {
	fail := func(phase string, err error) error {
		if e.metrics != nil {
			e.metrics.IncRelinkFailures()
		}
		e.log.Error(ctx, "live add left the model partially wired",
			logging.Node(node),
			logging.String("phase", phase),
			logging.Err(err),
		)
		return &PartialAddError{Node: node, Phase: phase, Err: err}
	}

	resolver := live.Links()
	if resolver == nil {
		return fail("links", fmt.Errorf("%w: simulation has no link resolver", model.ErrStructural))
	}
	if err := resolver.Resolve(ctx, node, true, o.strictLinks); err != nil {
		return fail("links", err)
	}
	if conn := live.Events(); conn != nil {
		if err := conn.Connect(ctx, node); err != nil {
			return fail("events", err)
		}
	}
	if err := lifecycle.Dispatch(ctx, node, model.StartOfSimulation, model.HookArgs{Sender: parent}); err != nil {
		return fail(string(model.StartOfSimulation), err)
	}
	e.log.Debug(ctx, "model wired into running simulation",
		logging.Node(node),
		logging.Any("links", resolver.Bindings(node)),
	)
	return nil
}

// Rename sets node's name, correcting a collision with a sibling by
// suffixing instead of failing.
func (e *Engine) Rename(ctx context.Context, node *model.Node, newName string) (err error) {
	ctx, span := e.startSpan(ctx, "structure.Rename", node)
	defer e.finish(span, "rename", time.Now(), &err)

	if node == nil {
		return fmt.Errorf("%w: nothing to rename", model.ErrStructural)
	}
	old := node.Name
	node.Name = newName
	if err := EnsureUnique(node); err != nil {
		node.Name = old
		return err
	}
	e.cache.Invalidate(node)
	if e.registry != nil {
		e.registry.Notify(kb.EventNodeRenamed, node)
	}
	e.log.Debug(ctx, "model renamed", logging.Node(node), logging.String("old_name", old))
	return nil
}

// Move relocates node under newParent, preserving its id. Links and event
// bindings are not re-resolved.
func (e *Engine) Move(ctx context.Context, node, newParent *model.Node) (err error) {
	ctx, span := e.startSpan(ctx, "structure.Move", node)
	defer e.finish(span, "move", time.Now(), &err)

	if node == nil || newParent == nil {
		return fmt.Errorf("%w: move requires a node and a new parent", model.ErrStructural)
	}
	oldParent := node.Parent()
	if oldParent == nil {
		return fmt.Errorf("%w: cannot move model %s", model.ErrStructural, node.Name)
	}
	if newParent.ReadOnly {
		return fmt.Errorf("%w: %w: unable to modify %s", model.ErrStructural, model.ErrReadOnly, newParent.Name)
	}
	if node == newParent || node.IsAncestorOf(newParent) {
		return fmt.Errorf("%w: cannot move %s under its own descendant %s", model.ErrStructural, node.Name, newParent.FullPath())
	}

	// Entries reachable from the old location go first, while node is
	// still attached there.
	e.cache.Invalidate(node)
	oldIndex := slices.Index(oldParent.Children(), node)
	if err := model.DetachChild(oldParent, node); err != nil {
		return fmt.Errorf("%w: cannot move model %s: %w", model.ErrStructural, node.Name, err)
	}
	if err := model.AttachChild(newParent, node); err != nil {
		_ = model.InsertChild(oldParent, node, oldIndex)
		return err
	}
	if err := EnsureUnique(node); err != nil {
		_ = model.DetachChild(newParent, node)
		_ = model.InsertChild(oldParent, node, oldIndex)
		e.cache.Invalidate(node)
		return err
	}
	e.cache.Invalidate(node)
	if e.registry != nil {
		e.registry.Notify(kb.EventNodeMoved, node)
	}
	e.log.Debug(ctx, "model moved", logging.Node(node), logging.String("from", oldParent.FullPath()))
	return nil
}

// Delete detaches node from its parent. It reports false, without error,
// when node is already detached. Event bindings of the subtree are dropped
// when the simulation is running.
func (e *Engine) Delete(ctx context.Context, node *model.Node) (deleted bool) {
	ctx, span := e.startSpan(ctx, "structure.Delete", node)
	start := time.Now()
	defer func() {
		span.SetAttributes(attribute.Bool("deleted", deleted))
		span.End()
		if e.metrics != nil {
			e.metrics.ObserveStructureOp("delete", time.Since(start), nil)
		}
	}()

	if node == nil || node.Parent() == nil {
		return false
	}
	parent := node.Parent()
	_, live := model.FindAncestor[LiveSimulation](parent)

	e.cache.Invalidate(node)
	if err := model.DetachChild(parent, node); err != nil {
		e.log.Warn(ctx, "delete failed", logging.Node(node), logging.Err(err))
		return false
	}
	if live != nil {
		if live.IsRunning() && live.Events() != nil {
			live.Events().Disconnect(node)
		}
		if r := live.Links(); r != nil {
			r.Forget(node)
		}
	}
	if e.registry != nil {
		e.registry.RemoveSubtree(node)
	}
	e.log.Info(ctx, "model deleted", logging.Node(node), logging.String("parent", parent.FullPath()))
	return true
}

// ensureUniqueSubtree fixes names in root's subtree too, since a
// deserialized fragment may carry duplicate siblings.
func ensureUniqueSubtree(root *model.Node) error {
	return root.Walk(EnsureUnique)
}

func checkWritable(parent *model.Node) error {
	if parent == nil {
		return fmt.Errorf("%w: no parent given", model.ErrStructural)
	}
	if parent.ReadOnly {
		return fmt.Errorf("%w: unable to modify %s - it is read-only", model.ErrReadOnly, parent.Name)
	}
	return nil
}

func (e *Engine) startSpan(ctx context.Context, name string, n *model.Node) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{}
	if n != nil {
		attrs = append(attrs,
			attribute.String("entity_type", n.Kind),
			attribute.String("entity_id", n.ID()),
			attribute.String("model.path", n.FullPath()),
		)
	}
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func (e *Engine) finish(span trace.Span, op string, start time.Time, errp *error) {
	err := *errp
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	if e.metrics != nil {
		e.metrics.ObserveStructureOp(op, time.Since(start), err)
	}
}
