package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock gives components read access to simulation time without
// depending on the controller that drives it.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// Steps returns how many ticks have elapsed since the run started.
	Steps() int
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime waits Interval of wall-clock time between ticks.
	RealTime Mode = iota
	// Accelerated advances as quickly as the listeners allow.
	Accelerated
)

// ParseMode maps "realtime" and "accelerated" to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "realtime", "real-time":
		return RealTime, true
	case "accelerated", "":
		return Accelerated, true
	default:
		return Accelerated, false
	}
}

// Listener is called on every tick with the new simulation time. A
// listener error ends the run.
type Listener func(ctx context.Context, now time.Time) error

// TimeController drives simulation time and notifies registered listeners.
// It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode
	// Interval is the wall-clock pause between ticks in RealTime mode.
	// Zero means Tick.
	Interval time.Duration

	currentTime time.Time
	steps       int

	listeners []Listener
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Steps returns the number of ticks of the current or last run.
func (tc *TimeController) Steps() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.steps
}

// AddListener registers a callback invoked on every tick, in registration
// order.
func (tc *TimeController) AddListener(fn Listener) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Run resets the clock to StartTime and ticks until steps ticks have
// elapsed, a listener fails or ctx is done. steps <= 0 runs until ctx is
// done, in which case ctx.Err() is returned.
func (tc *TimeController) Run(ctx context.Context, steps int) error {
	tc.mu.Lock()
	simTime := tc.StartTime
	tc.currentTime = simTime
	tc.steps = 0
	listeners := append([]Listener(nil), tc.listeners...)
	tc.mu.Unlock()

	var tick <-chan time.Time
	if tc.Mode == RealTime {
		interval := tc.Interval
		if interval <= 0 {
			interval = tc.Tick
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for n := 0; steps <= 0 || n < steps; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		}

		simTime = simTime.Add(tc.Tick)
		tc.mu.Lock()
		tc.currentTime = simTime
		tc.steps = n + 1
		tc.mu.Unlock()

		for _, fn := range listeners {
			if err := fn(ctx, simTime); err != nil {
				return err
			}
		}
	}
	return nil
}

// Start runs the controller in a separate goroutine. The returned channel
// receives Run's result and is then closed.
func (tc *TimeController) Start(ctx context.Context, steps int) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- tc.Run(ctx, steps)
	}()
	return done
}
