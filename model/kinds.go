package model

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a fresh component for a kind.
type Factory func() any

var (
	kindsMu sync.RWMutex
	kinds   = map[string]Factory{}
)

// RegisterKind makes a kind constructible by name. Registering the same
// kind twice replaces the earlier factory.
func RegisterKind(kind string, f Factory) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kinds[kind] = f
}

// IsKind reports whether kind has been registered.
func IsKind(kind string) bool {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	_, ok := kinds[kind]
	return ok
}

// Kinds lists the registered kind names in sorted order.
func Kinds() []string {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NewOfKind creates a detached node of a registered kind. An empty name
// defaults to the kind name.
func NewOfKind(kind, name string) (*Node, error) {
	kindsMu.RLock()
	f, ok := kinds[kind]
	kindsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if name == "" {
		name = kind
	}
	var c any
	if f != nil {
		c = f()
	}
	return New(kind, name, c), nil
}

// Configurable components expose scalar properties. Serialized tree
// formats carry component state through them.
type Configurable interface {
	Props() map[string]any
	SetProps(props map[string]any) error
}
