//go:build perf || perf_large

package perf

import (
	"context"
	"fmt"
	"testing"

	"github.com/signalsfoundry/modeltree/internal/scope"
	"github.com/signalsfoundry/modeltree/internal/structure"
	"github.com/signalsfoundry/modeltree/kb"
	_ "github.com/signalsfoundry/modeltree/kinds"
	"github.com/signalsfoundry/modeltree/model"
)

type perfConfig struct {
	Folders    int
	PerFolder  int
	Duplicates int
	Moves      int
}

func newEngine() (*structure.Engine, *model.Node) {
	root := model.New("Folder", "Root", nil)
	reg := kb.NewRegistry()
	_ = reg.AddSubtree(root)
	return structure.NewEngine(scope.NewCache(nil), structure.WithRegistry(reg)), root
}

func mustNode(b *testing.B, kind, name string) *model.Node {
	b.Helper()
	n, err := model.NewOfKind(kind, name)
	if err != nil {
		b.Fatalf("NewOfKind(%s): %v", kind, err)
	}
	return n
}

func benchmarkAdd(b *testing.B, cfg perfConfig) {
	ctx := context.Background()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		e, root := newEngine()

		b.ResetTimer()
		for f := 0; f < cfg.Folders; f++ {
			folder, err := e.Add(ctx, mustNode(b, "Folder", fmt.Sprintf("F%d", f)), root)
			if err != nil {
				b.Fatalf("Add folder %d: %v", f, err)
			}
			for j := 0; j < cfg.PerFolder; j++ {
				if _, err := e.Add(ctx, mustNode(b, "Counter", fmt.Sprintf("C%d", j)), folder); err != nil {
					b.Fatalf("Add counter %d/%d: %v", f, j, err)
				}
			}
		}
		b.StopTimer()
	}
}

// benchmarkDuplicateNames measures the suffix search when every new node
// collides with all the previous ones.
func benchmarkDuplicateNames(b *testing.B, cfg perfConfig) {
	ctx := context.Background()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		e, root := newEngine()

		b.ResetTimer()
		for j := 0; j < cfg.Duplicates; j++ {
			if _, err := e.Add(ctx, mustNode(b, "Folder", "Paddock"), root); err != nil {
				b.Fatalf("Add duplicate %d: %v", j, err)
			}
		}
		b.StopTimer()
	}
}

func benchmarkMove(b *testing.B, cfg perfConfig) {
	ctx := context.Background()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		e, root := newEngine()
		left, _ := e.Add(ctx, mustNode(b, "Folder", "Left"), root)
		right, _ := e.Add(ctx, mustNode(b, "Folder", "Right"), root)
		leaf, err := e.Add(ctx, mustNode(b, "Counter", "C"), left)
		if err != nil {
			b.Fatalf("seed Add: %v", err)
		}

		b.ResetTimer()
		for j := 0; j < cfg.Moves; j++ {
			dst := right
			if j%2 == 1 {
				dst = left
			}
			if err := e.Move(ctx, leaf, dst); err != nil {
				b.Fatalf("Move %d: %v", j, err)
			}
		}
		b.StopTimer()
	}
}
