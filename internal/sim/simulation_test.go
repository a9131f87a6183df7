package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/modeltree/internal/links"
	"github.com/signalsfoundry/modeltree/internal/structure"
	"github.com/signalsfoundry/modeltree/kinds"
	"github.com/signalsfoundry/modeltree/model"
)

func mustNode(t *testing.T, kind, name string) *model.Node {
	t.Helper()
	n, err := model.NewOfKind(kind, name)
	if err != nil {
		t.Fatalf("NewOfKind(%s): %v", kind, err)
	}
	return n
}

func mustAdd(t *testing.T, s *Simulation, node, parent *model.Node) *model.Node {
	t.Helper()
	var added *model.Node
	err := s.Mutate(func(e *structure.Engine) error {
		var err error
		added, err = e.Add(context.Background(), node, parent)
		return err
	})
	if err != nil {
		t.Fatalf("Add(%s): %v", node.Name, err)
	}
	return added
}

// Sim
// ├── Clock
// ├── Summary
// └── Field (Folder)
func newSim(t *testing.T) (*Simulation, *model.Node) {
	t.Helper()
	s, err := New("Sim")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mustAdd(t, s, mustNode(t, kinds.KindClock, ""), s.Node())
	mustAdd(t, s, mustNode(t, kinds.KindSummary, ""), s.Node())
	field := mustAdd(t, s, mustNode(t, kinds.KindFolder, "Field"), s.Node())
	return s, field
}

func TestRunPublishesTimesteps(t *testing.T) {
	s, field := newSim(t)
	counterNode := mustAdd(t, s, mustNode(t, kinds.KindCounter, ""), field)
	counter := counterNode.Component.(*kinds.Counter)

	if err := s.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.IsRunning() {
		t.Fatalf("IsRunning after Run returned")
	}
	if got := counter.Count(); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
	clock := s.Node().FindChild("Clock").Component.(*kinds.Clock)
	if want := time.Date(2000, 1, 4, 0, 0, 0, 0, time.UTC); !clock.Today().Equal(want) {
		t.Fatalf("clock today = %v, want %v", clock.Today(), want)
	}
	summary := s.Node().FindChild("Summary").Component.(*kinds.Summary)
	lines := summary.Lines()
	if len(lines) != 4 {
		t.Fatalf("summary has %d lines, want 4: %v", len(lines), lines)
	}
	if want := "Summary: finished after 3 steps at 2000-01-04"; lines[3] != want {
		t.Fatalf("last summary line = %q, want %q", lines[3], want)
	}
	if got := s.Links().Bindings(counterNode)["clock"]; len(got) != 1 || got[0] != s.Node().FindChild("Clock").ID() {
		t.Fatalf("counter clock binding = %v", got)
	}
	if s.Events().Len() != 0 {
		t.Fatalf("events still connected after the run")
	}
}

func TestLiveAddWiresNewModel(t *testing.T) {
	s, field := newSim(t)
	counterNode := mustNode(t, kinds.KindCounter, "")
	counter := counterNode.Component.(*kinds.Counter)

	var addErr error
	var sawRunning bool
	s.Clock().AddListener(func(ctx context.Context, _ time.Time) error {
		if s.Clock().Steps() != 1 {
			return nil
		}
		sawRunning = s.IsRunning()
		addErr = s.Mutate(func(e *structure.Engine) error {
			_, err := e.Add(ctx, counterNode, field)
			return err
		})
		if counter.Clock() == nil || !counter.Started() || !counter.Created() {
			t.Errorf("live add left counter unwired: clock=%v started=%v created=%v",
				counter.Clock(), counter.Started(), counter.Created())
		}
		return addErr
	})

	if err := s.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sawRunning {
		t.Fatalf("simulation did not report running during ticks")
	}
	if addErr != nil {
		t.Fatalf("live add: %v", addErr)
	}
	// Added during step 1, so it sees steps 2 and 3.
	if got := counter.Count(); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}
	if s.Registry().Get(counterNode.ID()) != counterNode {
		t.Fatalf("live-added node missing from the registry")
	}
}

// spawner adds its child during StartOfSimulation.
type spawner struct {
	sim    *Simulation
	child  *model.Node
	parent *model.Node
}

func (sp *spawner) Declare(d *model.Declarations) {
	d.On(model.StartOfSimulation, func(ctx context.Context, _ model.HookArgs) error {
		_, err := sp.sim.Engine().Add(ctx, sp.child, sp.parent)
		return err
	})
}

// startCount counts StartOfSimulation calls.
type startCount struct{ n int }

func (sc *startCount) Declare(d *model.Declarations) {
	d.On(model.StartOfSimulation, func(context.Context, model.HookArgs) error {
		sc.n++
		return nil
	})
}

func TestAddDuringStartOfSimulationIsWired(t *testing.T) {
	s, err := New("Sim")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sp := &spawner{sim: s}
	mustAdd(t, s, model.New("Spawner", "Spawner", sp), s.Node())
	mustAdd(t, s, mustNode(t, kinds.KindClock, ""), s.Node())
	// Field comes after the spawner, so the startup replay has not reached
	// it when the spawned models arrive.
	field := mustAdd(t, s, mustNode(t, kinds.KindFolder, "Field"), s.Node())

	spawned := mustNode(t, kinds.KindFolder, "Spawned")
	counterNode := mustNode(t, kinds.KindCounter, "")
	starts := &startCount{}
	for _, n := range []*model.Node{counterNode, model.New("Starts", "Starts", starts)} {
		if err := model.AttachChild(spawned, n); err != nil {
			t.Fatalf("AttachChild: %v", err)
		}
	}
	sp.child, sp.parent = spawned, field

	if err := s.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run: %v", err)
	}
	counter := counterNode.Component.(*kinds.Counter)
	if counter.Clock() == nil || !counter.Started() {
		t.Fatalf("spawned counter unwired: clock=%v started=%v", counter.Clock(), counter.Started())
	}
	if got := counter.Count(); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
	if starts.n != 1 {
		t.Fatalf("StartOfSimulation ran %d times on a spawned model", starts.n)
	}
	if s.Registry().Get(counterNode.ID()) != counterNode {
		t.Fatalf("spawned counter missing from the registry")
	}
}

func TestAddDuringStartOfSimulationReportsUnresolvedLink(t *testing.T) {
	s, err := New("Sim")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	counterNode := mustNode(t, kinds.KindCounter, "")
	mustAdd(t, s, model.New("Spawner", "Spawner", &spawner{sim: s, child: counterNode, parent: s.Node()}), s.Node())

	err = s.Run(context.Background(), 1)
	if !errors.Is(err, structure.ErrPartialAdd) || !errors.Is(err, links.ErrUnresolvedLink) {
		t.Fatalf("Run error = %v, want a partial add on an unresolved link", err)
	}
	if s.IsRunning() || s.Events().Len() != 0 {
		t.Fatalf("failed start left the simulation live")
	}
}

func TestLiveAddUnresolvedLink(t *testing.T) {
	s, err := New("Sim")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	folder := mustAdd(t, s, mustNode(t, kinds.KindFolder, ""), s.Node())

	var strictErr, softErr error
	var strictNode, softNode *model.Node
	s.Clock().AddListener(func(ctx context.Context, _ time.Time) error {
		strictNode = mustNode(t, kinds.KindCounter, "Strict")
		softNode = mustNode(t, kinds.KindCounter, "Soft")
		_ = s.Mutate(func(e *structure.Engine) error {
			_, strictErr = e.Add(ctx, strictNode, folder)
			_, softErr = e.Add(ctx, softNode, folder, structure.WithStrictLinks(false))
			return nil
		})
		return nil
	})
	if err := s.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var partial *structure.PartialAddError
	if !errors.As(strictErr, &partial) || !errors.Is(strictErr, links.ErrUnresolvedLink) {
		t.Fatalf("strict live add error = %v, want PartialAddError wrapping an unresolved link", strictErr)
	}
	if partial.Phase != "links" || strictNode.Parent() != folder {
		t.Fatalf("partial add: phase=%q parent=%v", partial.Phase, strictNode.Parent())
	}
	if softErr != nil {
		t.Fatalf("soft live add: %v", softErr)
	}
	if !softNode.Component.(*kinds.Counter).Started() {
		t.Fatalf("soft live add skipped StartOfSimulation")
	}
}

func TestRunFailsOnMissingRequiredLink(t *testing.T) {
	s, err := New("Sim")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mustAdd(t, s, mustNode(t, kinds.KindCounter, ""), s.Node())

	err = s.Run(context.Background(), 1)
	if !errors.Is(err, links.ErrUnresolvedLink) {
		t.Fatalf("Run error = %v, want unresolved link", err)
	}
	if s.IsRunning() {
		t.Fatalf("simulation left running after a failed start")
	}
}

func TestDeleteDuringRunStopsEvents(t *testing.T) {
	s, field := newSim(t)
	counterNode := mustAdd(t, s, mustNode(t, kinds.KindCounter, ""), field)
	counter := counterNode.Component.(*kinds.Counter)

	s.Clock().AddListener(func(ctx context.Context, _ time.Time) error {
		if s.Clock().Steps() == 1 {
			return s.Mutate(func(e *structure.Engine) error {
				if !e.Delete(ctx, counterNode) {
					t.Errorf("Delete returned false")
				}
				return nil
			})
		}
		return nil
	})
	if err := s.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := counter.Count(); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
	if s.Registry().Get(counterNode.ID()) != nil {
		t.Fatalf("deleted node still registered")
	}
}

func TestRunUntilCancelled(t *testing.T) {
	s, _ := newSim(t)
	ctx, cancel := context.WithCancel(context.Background())
	s.Clock().AddListener(func(context.Context, time.Time) error {
		if s.Clock().Steps() == 5 {
			cancel()
		}
		return nil
	})
	if err := s.Run(ctx, 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := s.Clock().Steps(); got != 5 {
		t.Fatalf("steps = %d, want 5", got)
	}
}

func TestLoadUnwrapsSingleSimulation(t *testing.T) {
	wrapper := mustNode(t, kinds.KindSimulations, "")
	inner := mustNode(t, KindSimulation, "Inner")
	if err := model.AttachChild(wrapper, inner); err != nil {
		t.Fatalf("AttachChild: %v", err)
	}
	s, err := Load(wrapper)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Node() != inner || inner.Parent() != nil {
		t.Fatalf("Load did not unwrap the Simulations container")
	}
	if _, err := Load(inner); err == nil {
		t.Fatalf("loading the same simulation twice should fail")
	}
}

func TestLoadRejectsNonSimulation(t *testing.T) {
	_, err := Load(mustNode(t, kinds.KindFolder, ""))
	if !errors.Is(err, ErrNotSimulation) {
		t.Fatalf("Load error = %v, want ErrNotSimulation", err)
	}
}

func TestServicesExposeClockAndEvents(t *testing.T) {
	s, err := New("Sim")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var sawClock, sawEvents bool
	for _, svc := range s.Services() {
		switch svc {
		case any(s.Clock()):
			sawClock = true
		case any(s.Events()):
			sawEvents = true
		}
	}
	if !sawClock || !sawEvents {
		t.Fatalf("services = %v", s.Services())
	}
}
