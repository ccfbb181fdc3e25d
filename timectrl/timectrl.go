package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock exposes the current simulation time as an offset from the start
// of the run. Components depend on it rather than on a concrete kernel so
// tests can drive time by hand.
type SimClock interface {
	Now() time.Duration
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime paces ticks against the wall clock, scaled by Speedup.
	RealTime Mode = iota
	// Accelerated advances as quickly as the listeners can keep up.
	Accelerated
)

func (m Mode) String() string {
	if m == RealTime {
		return "realtime"
	}
	return "accelerated"
}

// TimeController slices a run into ticks and hands each tick boundary to
// its listeners. The event kernel registers a listener that drains every
// event up to the boundary, so in RealTime mode a 10 minute simulation takes
// 10 minutes of wall clock at Speedup 1.
type TimeController struct {
	mu   sync.RWMutex
	Tick time.Duration
	Mode Mode
	// Speedup scales wall-clock pacing in RealTime mode; values <= 0 mean 1.
	Speedup float64

	currentTime time.Duration
	listeners   []func(simTime time.Duration) error
}

// NewTimeController constructs a controller starting at time zero.
func NewTimeController(tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		Tick: tick,
		Mode: mode,
	}
}

// Now returns the last tick boundary reached. Implements SimClock.
func (tc *TimeController) Now() time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime moves the controller to t without notifying listeners.
func (tc *TimeController) SetTime(t time.Duration) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
}

// AddListener registers a callback invoked at every tick boundary. A
// listener error stops the run.
func (tc *TimeController) AddListener(fn func(simTime time.Duration) error) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Run advances from the current time to duration tick by tick. The final
// tick is shortened so the run ends exactly at duration.
func (tc *TimeController) Run(ctx context.Context, duration time.Duration) error {
	if tc.Tick <= 0 {
		tc.Tick = time.Second
	}

	var ticker *time.Ticker
	if tc.Mode == RealTime {
		speedup := tc.Speedup
		if speedup <= 0 {
			speedup = 1
		}
		period := time.Duration(float64(tc.Tick) / speedup)
		if period <= 0 {
			period = time.Nanosecond
		}
		ticker = time.NewTicker(period)
		defer ticker.Stop()
	}

	tc.mu.RLock()
	listeners := append([]func(time.Duration) error(nil), tc.listeners...)
	tc.mu.RUnlock()

	for simTime := tc.Now(); simTime < duration; {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		simTime += tc.Tick
		if simTime > duration {
			simTime = duration
		}
		tc.SetTime(simTime)

		for _, fn := range listeners {
			if err := fn(simTime); err != nil {
				return err
			}
		}
	}
	return nil
}

// Start runs the controller in its own goroutine. The returned channel
// yields Run's result and is then closed.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- tc.Run(ctx, duration)
	}()
	return done
}
