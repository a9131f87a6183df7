package events

import (
	"context"
	"errors"
	"testing"

	"github.com/signalsfoundry/modeltree/internal/scope"
	"github.com/signalsfoundry/modeltree/model"
)

type clock struct{}

func (clock) Declare(d *model.Declarations) { d.Publish("DoTimestep") }

type listener struct {
	calls []string
	fail  error
}

func (l *listener) Declare(d *model.Declarations) {
	d.Subscribe("DoTimestep", "OnDoTimestep", func(_ context.Context, args model.HookArgs) error {
		l.calls = append(l.calls, args.Sender.Name)
		return l.fail
	})
}

func attach(t *testing.T, parent *model.Node, kind, name string, c any) *model.Node {
	t.Helper()
	n := model.New(kind, name, c)
	if err := model.AttachChild(parent, n); err != nil {
		t.Fatalf("AttachChild(%s): %v", name, err)
	}
	return n
}

func TestConnectAndPublish(t *testing.T) {
	root := model.New("Simulation", "Sim", nil)
	clk := attach(t, root, "Clock", "Clock", clock{})
	l1 := &listener{}
	l2 := &listener{}
	attach(t, root, "Listener", "L1", l1)
	field := attach(t, root, "Folder", "Field", nil)
	attach(t, field, "Listener", "L2", l2)

	c := NewConnector(scope.NewCache(nil), nil)
	if err := c.Connect(context.Background(), root); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := c.Len(); got != 2 {
		t.Fatalf("bindings = %d, want 2", got)
	}
	if err := c.Publish(context.Background(), clk, "DoTimestep", nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(l1.calls) != 1 || len(l2.calls) != 1 || l1.calls[0] != "Clock" {
		t.Fatalf("calls l1=%v l2=%v", l1.calls, l2.calls)
	}
}

func TestConnectTwiceDoesNotDuplicate(t *testing.T) {
	root := model.New("Simulation", "Sim", nil)
	clk := attach(t, root, "Clock", "Clock", clock{})
	l := &listener{}
	attach(t, root, "Listener", "L", l)

	c := NewConnector(scope.NewCache(nil), nil)
	for i := 0; i < 3; i++ {
		if err := c.Connect(context.Background(), root); err != nil {
			t.Fatalf("Connect #%d: %v", i, err)
		}
	}
	if got := c.Len(); got != 1 {
		t.Fatalf("bindings = %d, want 1", got)
	}
	_ = c.Publish(context.Background(), clk, "DoTimestep", nil)
	if len(l.calls) != 1 {
		t.Fatalf("handler called %d times, want 1", len(l.calls))
	}
}

func TestDisconnectSubtree(t *testing.T) {
	root := model.New("Simulation", "Sim", nil)
	clk := attach(t, root, "Clock", "Clock", clock{})
	keep := &listener{}
	drop := &listener{}
	attach(t, root, "Listener", "Keep", keep)
	field := attach(t, root, "Folder", "Field", nil)
	attach(t, field, "Listener", "Drop", drop)

	c := NewConnector(scope.NewCache(nil), nil)
	if err := c.Connect(context.Background(), root); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.Disconnect(field)
	if got := c.Len(); got != 1 {
		t.Fatalf("bindings after disconnect = %d, want 1", got)
	}
	_ = c.Publish(context.Background(), clk, "DoTimestep", nil)
	if len(keep.calls) != 1 || len(drop.calls) != 0 {
		t.Fatalf("keep=%v drop=%v", keep.calls, drop.calls)
	}

	// Removing the publisher drops the remaining binding too.
	c.Disconnect(clk)
	if got := c.Len(); got != 0 {
		t.Fatalf("bindings after publisher disconnect = %d", got)
	}
}

func TestPublishFailFast(t *testing.T) {
	root := model.New("Simulation", "Sim", nil)
	clk := attach(t, root, "Clock", "Clock", clock{})
	boom := errors.New("boom")
	first := &listener{fail: boom}
	second := &listener{}
	attach(t, root, "Listener", "First", first)
	attach(t, root, "Listener", "Second", second)

	c := NewConnector(scope.NewCache(nil), nil)
	if err := c.Connect(context.Background(), root); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	err := c.Publish(context.Background(), clk, "DoTimestep", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Publish error = %v, want boom", err)
	}
	if len(second.calls) != 0 {
		t.Fatalf("second handler ran after a failure")
	}
}

type bindingGauge struct{ last int }

func (g *bindingGauge) SetEventBindings(n int) { g.last = n }

func TestConnectorReportsBindingCount(t *testing.T) {
	root := model.New("Simulation", "Sim", nil)
	attach(t, root, "Clock", "Clock", clock{})
	attach(t, root, "Listener", "L", &listener{})

	g := &bindingGauge{last: -1}
	c := NewConnector(scope.NewCache(nil), nil, WithMetricsRecorder(g))
	if err := c.Connect(context.Background(), root); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if g.last != 1 {
		t.Fatalf("gauge = %d, want 1", g.last)
	}
	c.Disconnect(root)
	if g.last != 0 {
		t.Fatalf("gauge after disconnect = %d, want 0", g.last)
	}
}
