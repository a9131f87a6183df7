package model

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Node is a single model in the simulation tree. A node owns its children;
// the parent pointer is a back-reference maintained by AttachChild and
// DetachChild.
type Node struct {
	// Name is the sibling-unique, human-readable name of the node.
	Name string
	// Kind is the registered kind name, e.g. "Folder" or "Clock".
	Kind string
	// ReadOnly nodes refuse new children.
	ReadOnly bool
	// Component is the domain payload hosted by the node. Components that
	// implement Declarer take part in linking, events and lifecycle hooks.
	Component any

	id       string
	parent   *Node
	children []*Node

	decl *Declarations
}

// New creates a detached node with a fresh unique id.
func New(kind, name string, component any) *Node {
	return &Node{
		Name:      name,
		Kind:      kind,
		Component: component,
		id:        uuid.NewString(),
	}
}

// ID returns the node's unique id. It never changes once assigned.
func (n *Node) ID() string {
	if n.id == "" {
		n.id = uuid.NewString()
	}
	return n.id
}

// Parent returns the node's parent, or nil when detached.
func (n *Node) Parent() *Node {
	return n.parent
}

// Children returns a snapshot of the ordered child list.
func (n *Node) Children() []*Node {
	return slices.Clone(n.children)
}

// NumChildren returns the number of direct children.
func (n *Node) NumChildren() int {
	return len(n.children)
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	return n.FullPath()
}

// Declarations returns the node's declared links, events and hooks. They
// are collected once from the component and cached for the node's lifetime.
func (n *Node) Declarations() *Declarations {
	if n.decl == nil {
		d := &Declarations{}
		if dc, ok := n.Component.(Declarer); ok {
			dc.Declare(d)
		}
		n.decl = d
	}
	return n.decl
}

// AttachChild appends child to parent's children and sets its parent.
func AttachChild(parent, child *Node) error {
	if parent == nil {
		return fmt.Errorf("%w: attach requires a parent and a child", ErrStructural)
	}
	return InsertChild(parent, child, len(parent.children))
}

// InsertChild is AttachChild at position i of parent's children. i is
// clamped to the valid range.
func InsertChild(parent, child *Node, i int) error {
	if parent == nil || child == nil {
		return fmt.Errorf("%w: attach requires a parent and a child", ErrStructural)
	}
	if parent.ReadOnly {
		return fmt.Errorf("%w: %w: unable to modify %s", ErrStructural, ErrReadOnly, parent.Name)
	}
	if child.parent != nil {
		return fmt.Errorf("%w: %s is already a child of %s", ErrStructural, child.Name, child.parent.FullPath())
	}
	if parent == child || child.IsAncestorOf(parent) {
		return fmt.Errorf("%w: attaching %s under %s would create a cycle", ErrStructural, child.Name, parent.FullPath())
	}
	i = max(0, min(i, len(parent.children)))
	parent.children = slices.Insert(parent.children, i, child)
	child.parent = parent
	return nil
}

// DetachChild removes child from parent's children by reference.
func DetachChild(parent, child *Node) error {
	if parent == nil || child == nil {
		return fmt.Errorf("%w: detach requires a parent and a child", ErrNotFound)
	}
	idx := slices.Index(parent.children, child)
	if idx < 0 {
		return fmt.Errorf("%w: %s is not a child of %s", ErrNotFound, child.Name, parent.FullPath())
	}
	parent.children = slices.Delete(parent.children, idx, idx+1)
	if child.parent == parent {
		child.parent = nil
	}
	return nil
}

// SetParentRecursively repairs the parent pointers of every descendant of
// root so they agree with the child lists. Subtrees built outside of
// AttachChild (e.g. by a decoder) need this before they are grafted.
func SetParentRecursively(root *Node) {
	for _, c := range root.children {
		c.parent = root
		SetParentRecursively(c)
	}
}

// FindSibling returns the sibling of n named name, excluding n itself.
func FindSibling(n *Node, name string) *Node {
	if n.parent == nil {
		return nil
	}
	for _, s := range n.parent.children {
		if s != n && s.Name == name {
			return s
		}
	}
	return nil
}

// FindChild returns the direct child with the given name.
func (n *Node) FindChild(name string) *Node {
	for _, c := range n.children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Root returns the top-most ancestor of n (n itself when detached).
func (n *Node) Root() *Node {
	r := n
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// Ancestors returns the strict ancestors of n, nearest first.
func (n *Node) Ancestors() []*Node {
	var out []*Node
	for p := n.parent; p != nil; p = p.parent {
		out = append(out, p)
	}
	return out
}

// IsAncestorOf reports whether n is a strict ancestor of other.
func (n *Node) IsAncestorOf(other *Node) bool {
	if other == nil {
		return false
	}
	for p := other.parent; p != nil; p = p.parent {
		if p == n {
			return true
		}
	}
	return false
}

// Walk visits n and its descendants in pre-order. Returning an error from
// fn stops the walk and the error is returned.
func (n *Node) Walk(fn func(*Node) error) error {
	if err := fn(n); err != nil {
		return err
	}
	for _, c := range slices.Clone(n.children) {
		if err := c.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// Descendants returns every node below n in pre-order.
func (n *Node) Descendants() []*Node {
	var out []*Node
	for _, c := range n.children {
		_ = c.Walk(func(d *Node) error {
			out = append(out, d)
			return nil
		})
	}
	return out
}

// FullPath returns the dotted path from the root, e.g. ".Sim.Field.Wheat".
func (n *Node) FullPath() string {
	parts := []string{n.Name}
	for p := n.parent; p != nil; p = p.parent {
		parts = append(parts, p.Name)
	}
	slices.Reverse(parts)
	return "." + strings.Join(parts, ".")
}

// FindByPath resolves a dotted path relative to n. A leading "." starts at
// the root and must name it.
func (n *Node) FindByPath(path string) *Node {
	cur := n
	if strings.HasPrefix(path, ".") {
		root := n.Root()
		rest := strings.TrimPrefix(path, ".")
		head, tail, _ := strings.Cut(rest, ".")
		if head != root.Name {
			return nil
		}
		if tail == "" {
			return root
		}
		cur, path = root, tail
	}
	for _, part := range strings.Split(path, ".") {
		cur = cur.FindChild(part)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// FindAncestor returns the nearest node in n's lineage, n included, whose
// component implements T, together with that component.
func FindAncestor[T any](n *Node) (*Node, T) {
	for cur := n; cur != nil; cur = cur.parent {
		if v, ok := cur.Component.(T); ok {
			return cur, v
		}
	}
	var zero T
	return nil, zero
}
