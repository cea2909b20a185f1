// Package clock provides an injectable time source.
//
// Anything in the controller that waits on time (the Wiegand bit
// watchdogs, the unlock window, the audit pruner) takes a Clock instead of
// calling the time package directly. Production wiring uses Real(); tests
// use Fake() and move time forward explicitly with Advance:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	act := service.NewDoorActuator(out, cfg, c, logger)
//	act.Unlock(ctx, 3*time.Second)
//	c.WaitForTimers(1)
//	c.Advance(3 * time.Second)
package clock

import "time"

// Clock abstracts the parts of the time package the controller uses.
type Clock interface {
	Now() time.Time

	// After behaves like time.After. If d <= 0 the channel is ready
	// immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc behaves like time.AfterFunc. The returned Timer has a
	// nil C.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker behaves like time.NewTicker and panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	Sleep(d time.Duration)
}

// Timer is a scheduled callback created by AfterFunc.
type Timer struct {
	C <-chan time.Time

	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop prevents the Timer from firing. It returns false if the timer had
// already fired or been stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Reset reschedules the Timer to fire d from now. It returns true if the
// timer was still pending.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }

// Ticker delivers periodic ticks on C (capacity 1, drop if full).
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stopFunc() }
