// Package scope answers "what is visible from node X" queries and memoises
// the answers in a cache shared by every simulation in the process.
package scope

import (
	"slices"
	"sync"

	"github.com/signalsfoundry/modeltree/model"
)

// QueryKind distinguishes the different kinds of scope queries.
type QueryKind int

const (
	// QueryAll is the full ordered scope of a node.
	QueryAll QueryKind = iota
	// QueryLink caches link candidates; the param is the link target key.
	QueryLink
	// QueryPublisher caches publishers of an event; the param is the event.
	QueryPublisher
	// QueryName caches nodes with a given name.
	QueryName
)

type entryKey struct {
	kind  QueryKind
	param string
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Origins int
	Entries int
}

// StatsRecorder receives cache hit/miss notifications.
type StatsRecorder interface {
	ScopeCacheHit(kind string)
	ScopeCacheMiss(kind string)
}

// Cache memoises scope query results per origin node. Entries are keyed by
// node identity, never by name, so two trees never share results.
type Cache struct {
	mu      sync.Mutex
	entries map[*model.Node]map[entryKey][]*model.Node
	hits    uint64
	misses  uint64
	metrics StatsRecorder
}

// NewCache returns an empty cache. A nil recorder is allowed.
func NewCache(metrics StatsRecorder) *Cache {
	return &Cache{
		entries: make(map[*model.Node]map[entryKey][]*model.Node),
		metrics: metrics,
	}
}

// Get returns the cached result for (origin, kind, param), if any.
func (c *Cache) Get(origin *model.Node, kind QueryKind, param string) ([]*model.Node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, ok := c.entries[origin][entryKey{kind, param}]
	if ok {
		c.hits++
		if c.metrics != nil {
			c.metrics.ScopeCacheHit(kind.String())
		}
		return slices.Clone(res), true
	}
	c.misses++
	if c.metrics != nil {
		c.metrics.ScopeCacheMiss(kind.String())
	}
	return nil, false
}

// Put stores a computed result.
func (c *Cache) Put(origin *model.Node, kind QueryKind, param string, nodes []*model.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.entries[origin]
	if m == nil {
		m = make(map[entryKey][]*model.Node)
		c.entries[origin] = m
	}
	m[entryKey{kind, param}] = slices.Clone(nodes)
}

// Invalidate drops every entry keyed at n and at each of its ancestors.
// Scope queries walk up and back down, so any origin in the same tree may
// have resolved through n's region; those entries are dropped as well.
// Entries of other trees are left alone.
func (c *Cache) Invalidate(n *model.Node) {
	if n == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, n)
	for _, a := range n.Ancestors() {
		delete(c.entries, a)
	}
	_ = n.Root().Walk(func(o *model.Node) error {
		delete(c.entries, o)
		return nil
	})
}

// Reset empties the cache, e.g. when a simulation is reloaded.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[*model.Node]map[entryKey][]*model.Node)
}

// Stats reports hit/miss counters and the current size.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Hits: c.hits, Misses: c.misses, Origins: len(c.entries)}
	for _, m := range c.entries {
		s.Entries += len(m)
	}
	return s
}

func (k QueryKind) String() string {
	switch k {
	case QueryAll:
		return "all"
	case QueryLink:
		return "link"
	case QueryPublisher:
		return "publisher"
	case QueryName:
		return "name"
	default:
		return "unknown"
	}
}
