package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time. Routing protocols
// and payload handlers depend on this abstraction rather than on a concrete
// time controller, which keeps them testable with ManualClock.
//
// Simulation time is a monotonically non-decreasing integer tick count.
type SimClock interface {
	Now() int64
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime waits one Pacing interval of wall-clock time per tick.
	RealTime Mode = iota
	// Accelerated advances as quickly as the listeners can run.
	Accelerated
)

func (m Mode) String() string {
	if m == RealTime {
		return "realtime"
	}
	return "accelerated"
}

// Listener is invoked once per tick with the new simulation time.
type Listener func(ctx context.Context, tick int64)

// TimeController drives simulation time and notifies registered listeners.
// Listeners run serially on the goroutine that advances the clock, so a
// simulation built on top of it stays single-threaded.
type TimeController struct {
	mu     sync.RWMutex
	Start  int64
	Pacing time.Duration
	Mode   Mode

	current   int64
	listeners []Listener
}

// NewTimeController constructs a controller positioned at start.
func NewTimeController(start int64, pacing time.Duration, mode Mode) *TimeController {
	return &TimeController{
		Start:   start,
		Pacing:  pacing,
		Mode:    mode,
		current: start,
	}
}

// Now returns the current simulation tick. Implements SimClock.
func (tc *TimeController) Now() int64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.current
}

// SetTime moves the clock to t without notifying listeners. The clock never
// moves backwards; an earlier t is ignored and false is returned.
func (tc *TimeController) SetTime(t int64) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if t < tc.current {
		return false
	}
	tc.current = t
	return true
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn Listener) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Advance moves the clock forward one tick and runs every listener in
// registration order. It returns the new tick.
func (tc *TimeController) Advance(ctx context.Context) int64 {
	tc.mu.Lock()
	tc.current++
	now := tc.current
	listeners := append([]Listener(nil), tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx, now)
	}
	return now
}

// Run advances the clock steps times. In RealTime mode each tick waits for
// the pacing ticker first. A cancelled context stops the run between ticks.
func (tc *TimeController) Run(ctx context.Context, steps int) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var tickC <-chan time.Time
	if tc.Mode == RealTime && tc.Pacing > 0 {
		ticker := time.NewTicker(tc.Pacing)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for i := 0; steps <= 0 || i < steps; i++ {
		if tickC != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tickC:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		tc.Advance(ctx)
	}
	return nil
}

// StartAsync runs the controller for steps ticks in a separate goroutine.
// The returned channel yields the result of Run and is then closed.
func (tc *TimeController) StartAsync(ctx context.Context, steps int) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- tc.Run(ctx, steps)
	}()
	return done
}

// ManualClock is a SimClock whose time is set explicitly. It is meant for
// tests and for driving components outside a TimeController.
type ManualClock struct {
	mu  sync.Mutex
	now int64
}

// NewManualClock returns a clock positioned at start.
func NewManualClock(start int64) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t. Earlier values are ignored.
func (c *ManualClock) Set(t int64) {
	c.mu.Lock()
	if t > c.now {
		c.now = t
	}
	c.mu.Unlock()
}

// Step advances the clock by n ticks and returns the new time.
func (c *ManualClock) Step(n int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > 0 {
		c.now += n
	}
	return c.now
}
