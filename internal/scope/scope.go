package scope

import "github.com/signalsfoundry/modeltree/model"

// InScope returns every node visible from origin, nearest first: origin,
// its descendants, then each ancestor in turn followed by the parts of
// that ancestor's subtree not yet visited.
func InScope(origin *model.Node) []*model.Node {
	var nodes []*model.Node
	_ = origin.Walk(func(n *model.Node) error {
		nodes = append(nodes, n)
		return nil
	})

	visited := origin
	for a := origin.Parent(); a != nil; a = a.Parent() {
		nodes = append(nodes, a)
		for _, c := range a.Children() {
			if c == visited {
				continue
			}
			_ = c.Walk(func(n *model.Node) error {
				nodes = append(nodes, n)
				return nil
			})
		}
		visited = a
	}
	return nodes
}

// Find returns the nodes in origin's scope accepted by match, using the
// cache when possible. kind and param identify the query in the cache and
// must uniquely describe match.
func Find(c *Cache, origin *model.Node, kind QueryKind, param string, match func(*model.Node) bool) []*model.Node {
	if c != nil {
		if res, ok := c.Get(origin, kind, param); ok {
			return res
		}
	}

	all := InScopeCached(c, origin)

	var res []*model.Node
	for _, n := range all {
		if match == nil || match(n) {
			res = append(res, n)
		}
	}
	if c != nil {
		c.Put(origin, kind, param, res)
	}
	return res
}

// FindByName returns nodes named name in origin's scope, nearest first.
func FindByName(c *Cache, origin *model.Node, name string) []*model.Node {
	return Find(c, origin, QueryName, name, func(n *model.Node) bool { return n.Name == name })
}

// InScopeCached is InScope backed by the cache.
func InScopeCached(c *Cache, origin *model.Node) []*model.Node {
	if c == nil {
		return InScope(origin)
	}
	if res, ok := c.Get(origin, QueryAll, ""); ok {
		return res
	}
	all := InScope(origin)
	c.Put(origin, QueryAll, "", all)
	return all
}
