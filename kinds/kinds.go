// Package kinds provides the general purpose model kinds: folders, the
// Simulations container, a clock, a summary and a step counter.
package kinds

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/signalsfoundry/modeltree/model"
	"github.com/signalsfoundry/modeltree/timectrl"
)

// Kind names.
const (
	KindFolder      = "Folder"
	KindSimulations = "Simulations"
	KindClock       = "Clock"
	KindSummary     = "Summary"
	KindCounter     = "Counter"
)

// EventDoTimestep is published by the simulation once per step.
const EventDoTimestep = "DoTimestep"

const dateLayout = "2006-01-02"

func init() {
	Register()
}

// Register (re)registers every kind of this package.
func Register() {
	model.RegisterKind(KindFolder, func() any { return &Folder{} })
	model.RegisterKind(KindSimulations, func() any { return &Simulations{} })
	model.RegisterKind(KindClock, func() any { return NewClock() })
	model.RegisterKind(KindSummary, func() any { return &Summary{} })
	model.RegisterKind(KindCounter, func() any { return &Counter{Increment: 1} })
}

// Folder groups models. It declares nothing.
type Folder struct{}

// Simulations is the top-level container of a file. A Simulations node with
// a single child is unwrapped when added to a tree.
type Simulations struct{}

// Clock tracks simulated date. It advances one step per DoTimestep.
type Clock struct {
	Start time.Time
	Step  time.Duration

	mu    sync.RWMutex
	today time.Time
	steps int
}

// NewClock returns a clock starting at 2000-01-01 with daily steps.
func NewClock() *Clock {
	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Clock{Start: start, Step: 24 * time.Hour, today: start}
}

func (c *Clock) Declare(d *model.Declarations) {
	d.On(model.StartOfSimulation, func(context.Context, model.HookArgs) error {
		c.mu.Lock()
		c.today, c.steps = c.Start, 0
		c.mu.Unlock()
		return nil
	})
	d.Subscribe(EventDoTimestep, "OnDoTimestep", func(context.Context, model.HookArgs) error {
		c.mu.Lock()
		c.today = c.today.Add(c.Step)
		c.steps++
		c.mu.Unlock()
		return nil
	})
}

// Today returns the current simulated date.
func (c *Clock) Today() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.today
}

// Steps returns the number of steps taken since StartOfSimulation.
func (c *Clock) Steps() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.steps
}

func (c *Clock) Props() map[string]any {
	return map[string]any{
		"start": c.Start.Format(dateLayout),
		"step":  c.Step.String(),
	}
}

func (c *Clock) SetProps(props map[string]any) error {
	for k, v := range props {
		s := fmt.Sprint(v)
		switch k {
		case "start":
			t, ok := v.(time.Time)
			if !ok {
				var err error
				if t, err = time.Parse(dateLayout, s); err != nil {
					return fmt.Errorf("clock start: %w", err)
				}
			}
			c.Start = t
			c.today = t
		case "step":
			step, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("clock step: %w", err)
			}
			if step <= 0 {
				return fmt.Errorf("clock step must be positive, got %s", step)
			}
			c.Step = step
		default:
			return fmt.Errorf("clock has no property %q", k)
		}
	}
	return nil
}

// Recorder receives messages from models. Summary implements it.
type Recorder interface {
	WriteMessage(from, msg string)
}

// Summary collects messages written by models in scope. When the
// simulation clock is available it closes each run with a line giving the
// final date.
type Summary struct {
	clock timectrl.SimClock

	mu    sync.Mutex
	lines []string
}

func (s *Summary) Declare(d *model.Declarations) {
	model.LinkTo(d, "clock", &s.clock, model.Optional())
	d.On(model.EndOfSimulation, func(context.Context, model.HookArgs) error {
		if s.clock != nil {
			s.WriteMessage("Summary", fmt.Sprintf("finished after %d steps at %s",
				s.clock.Steps(), s.clock.Now().Format(dateLayout)))
		}
		return nil
	})
}

// WriteMessage appends a message attributed to from.
func (s *Summary) WriteMessage(from, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, from+": "+msg)
}

// Lines returns a copy of the collected messages.
func (s *Summary) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// Counter counts steps. It needs a Clock in scope and reports to a
// Recorder when one is available.
type Counter struct {
	Increment int

	clock    *Clock
	recorder Recorder

	mu      sync.Mutex
	count   int
	created bool
	started bool
}

func (c *Counter) Declare(d *model.Declarations) {
	model.LinkTo(d, "clock", &c.clock)
	model.LinkTo(d, "summary", &c.recorder, model.Optional())

	d.On(model.OnCreated, func(context.Context, model.HookArgs) error {
		c.mu.Lock()
		c.created = true
		c.mu.Unlock()
		return nil
	})
	d.On(model.StartOfSimulation, func(context.Context, model.HookArgs) error {
		c.mu.Lock()
		c.started, c.count = true, 0
		c.mu.Unlock()
		return nil
	})
	d.Subscribe(EventDoTimestep, "OnDoTimestep", func(_ context.Context, args model.HookArgs) error {
		c.mu.Lock()
		c.count += c.Increment
		n := c.count
		c.mu.Unlock()
		if c.recorder != nil && c.clock != nil {
			c.recorder.WriteMessage("Counter", fmt.Sprintf("%s count=%d", c.clock.Today().Format(dateLayout), n))
		}
		return nil
	})
}

// Clock returns the linked clock, nil until links are resolved.
func (c *Counter) Clock() *Clock { return c.clock }

// Count returns the accumulated count.
func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Created reports whether OnCreated ran.
func (c *Counter) Created() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}

// Started reports whether StartOfSimulation ran.
func (c *Counter) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *Counter) Props() map[string]any {
	return map[string]any{"increment": c.Increment}
}

func (c *Counter) SetProps(props map[string]any) error {
	for k, v := range props {
		if k != "increment" {
			return fmt.Errorf("counter has no property %q", k)
		}
		switch n := v.(type) {
		case int:
			c.Increment = n
		case float64:
			if n != math.Trunc(n) {
				return fmt.Errorf("counter increment must be a whole number, got %v", n)
			}
			c.Increment = int(n)
		default:
			return fmt.Errorf("counter increment must be a number, got %T", v)
		}
	}
	return nil
}
