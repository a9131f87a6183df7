// Package links resolves declared dependency-injection points against the
// nodes in scope and the services of the enclosing simulation.
package links

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/signalsfoundry/modeltree/internal/logging"
	"github.com/signalsfoundry/modeltree/internal/scope"
	"github.com/signalsfoundry/modeltree/model"
)

// ErrUnresolvedLink indicates a required link found no target.
var ErrUnresolvedLink = errors.New("unresolved link")

// UnresolvedLinkError names the node and link that could not be satisfied.
type UnresolvedLinkError struct {
	Node   string
	Link   string
	Target string
}

func (e *UnresolvedLinkError) Error() string {
	return fmt.Sprintf("unresolved link %q (%s) on %s", e.Link, e.Target, e.Node)
}

func (e *UnresolvedLinkError) Unwrap() error { return ErrUnresolvedLink }

// Resolver binds declared links. It keeps a table of the current bindings
// so callers can inspect what a node is linked to.
type Resolver struct {
	cache    *scope.Cache
	services []any
	log      logging.Logger

	mu       sync.Mutex
	bindings map[*model.Node]map[string][]string
}

// NewResolver constructs a resolver over the given cache and services.
// Services are consulted after the nodes in scope.
func NewResolver(cache *scope.Cache, services []any, log logging.Logger) *Resolver {
	if log == nil {
		log = logging.Noop()
	}
	return &Resolver{
		cache:    cache,
		services: services,
		log:      log,
		bindings: make(map[*model.Node]map[string][]string),
	}
}

// Resolve walks root's subtree depth-first and binds every declared link.
// With includeSelf false, root's own links are skipped. With throwOnFail
// true the first unresolved required link aborts the walk; otherwise it is
// logged and left unbound.
func (r *Resolver) Resolve(ctx context.Context, root *model.Node, includeSelf, throwOnFail bool) error {
	return root.Walk(func(n *model.Node) error {
		if n == root && !includeSelf {
			return nil
		}
		return r.resolveNode(ctx, n, throwOnFail)
	})
}

func (r *Resolver) resolveNode(ctx context.Context, n *model.Node, throwOnFail bool) error {
	for _, l := range n.Declarations().Links {
		targets, ids := r.candidates(n, l)
		if l.Multiplicity == model.Single && len(targets) > 1 {
			targets, ids = targets[:1], ids[:1]
		}

		if len(targets) == 0 && l.Required {
			err := &UnresolvedLinkError{Node: n.FullPath(), Link: l.Name, Target: l.Target}
			if throwOnFail {
				return err
			}
			r.log.Warn(ctx, "required link left unresolved",
				logging.Node(n),
				logging.String("link", l.Name),
				logging.String("target", l.Target),
			)
		}

		l.Bind(targets)
		r.record(n, l.Name, ids)
	}
	return nil
}

// candidates returns the link's targets in discovery order together with
// their identities for the binding table.
func (r *Resolver) candidates(n *model.Node, l model.LinkDescriptor) ([]any, []string) {
	param := l.Target
	if l.ByName != "" {
		param += "@" + l.ByName
	}
	nodes := scope.Find(r.cache, n, scope.QueryLink, param, func(c *model.Node) bool {
		if l.ByName != "" && c.Name != l.ByName {
			return false
		}
		return c.Component != nil && l.Matches(c.Component)
	})

	var (
		targets []any
		ids     []string
	)
	for _, c := range nodes {
		if c == n {
			continue
		}
		targets = append(targets, c.Component)
		ids = append(ids, c.ID())
	}
	if l.ByName != "" {
		return targets, ids
	}
	for _, svc := range r.services {
		if svc != nil && l.Matches(svc) {
			targets = append(targets, svc)
			ids = append(ids, "service:"+reflect.TypeOf(svc).String())
		}
	}
	return targets, ids
}

func (r *Resolver) record(n *model.Node, link string, ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.bindings[n]
	if m == nil {
		m = make(map[string][]string)
		r.bindings[n] = m
	}
	m[link] = append([]string(nil), ids...)
}

// Bindings returns a copy of n's resolved links: link name to target ids.
// Service targets are reported as "service:<type>".
func (r *Resolver) Bindings(n *model.Node) map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string, len(r.bindings[n]))
	for k, v := range r.bindings[n] {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Forget drops the binding table entries of root's subtree.
func (r *Resolver) Forget(root *model.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = root.Walk(func(n *model.Node) error {
		delete(r.bindings, n)
		return nil
	})
}
