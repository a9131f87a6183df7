// Package lifecycle replays declared lifecycle hooks across a subtree.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/modeltree/model"
)

// Dispatch invokes hook on root and every descendant, parents before
// children. The first hook error aborts the traversal and is returned.
func Dispatch(ctx context.Context, root *model.Node, hook model.Hook, args model.HookArgs) error {
	return root.Walk(func(n *model.Node) error {
		return invoke(ctx, n, hook, args)
	})
}

// DispatchDescendants is Dispatch without root itself.
func DispatchDescendants(ctx context.Context, root *model.Node, hook model.Hook, args model.HookArgs) error {
	return root.Walk(func(n *model.Node) error {
		if n == root {
			return nil
		}
		return invoke(ctx, n, hook, args)
	})
}

// DispatchSnapshot is Dispatch over root's subtree as it stood on entry.
// Nodes a hook attaches are not visited; nodes a hook detaches are skipped.
func DispatchSnapshot(ctx context.Context, root *model.Node, hook model.Hook, args model.HookArgs) error {
	nodes := append([]*model.Node{root}, root.Descendants()...)
	for _, n := range nodes {
		if n != root && !root.IsAncestorOf(n) {
			continue
		}
		if err := invoke(ctx, n, hook, args); err != nil {
			return err
		}
	}
	return nil
}

func invoke(ctx context.Context, n *model.Node, hook model.Hook, args model.HookArgs) error {
	fn := n.Declarations().Hooks[hook]
	if fn == nil {
		return nil
	}
	if err := fn(ctx, args); err != nil {
		return fmt.Errorf("%s %s: %w", n.FullPath(), hook, err)
	}
	return nil
}
