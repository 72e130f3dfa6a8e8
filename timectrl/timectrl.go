// Package timectrl drives simulation time.
package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is the read side of simulation time. The event scheduler and
// the routing engine depend on it rather than on TimeController.
type SimClock interface {
	Now() time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances one Tick per wall-clock Tick.
	RealTime Mode = iota
	// Accelerated advances as fast as listeners return.
	Accelerated
)

// TimeController steps simulation time by Tick and notifies listeners
// after every step.
type TimeController struct {
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	mu          sync.RWMutex
	currentTime time.Time
	listeners   []func(time.Time)
}

// NewTimeController constructs a controller positioned at start.
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

// Elapsed is the simulation time since StartTime.
func (tc *TimeController) Elapsed() time.Duration {
	return tc.Now().Sub(tc.StartTime)
}

// SetTime moves the clock without notifying listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
}

// AddListener registers a callback invoked after every step.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Advance moves time forward by d and notifies listeners synchronously.
func (tc *TimeController) Advance(d time.Duration) time.Time {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(d)
	now := tc.currentTime
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	return now
}

// AdvanceTo moves time to t and notifies listeners. Times before the
// current one leave the clock where it is but still notify.
func (tc *TimeController) AdvanceTo(t time.Time) time.Time {
	tc.mu.Lock()
	if t.After(tc.currentTime) {
		tc.currentTime = t
	}
	now := tc.currentTime
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	return now
}

// Run steps the clock from its current time until duration has elapsed
// (forever when duration <= 0) or ctx is done. It blocks.
func (tc *TimeController) Run(ctx context.Context, duration time.Duration) error {
	var ticker *time.Ticker
	if tc.Mode == RealTime {
		ticker = time.NewTicker(tc.Tick)
		defer ticker.Stop()
	}

	var elapsed time.Duration
	for duration <= 0 || elapsed < duration {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		tc.Advance(tc.Tick)
		elapsed += tc.Tick
	}
	return nil
}

// Start runs the controller for duration in a separate goroutine. The
// returned channel is closed when it finishes.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tc.Run(ctx, duration)
	}()
	return done
}
