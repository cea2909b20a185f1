package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wal-rus/lovepotion/internal/clock"
	"github.com/wal-rus/lovepotion/internal/hardware"
	"github.com/wal-rus/lovepotion/internal/lovepotion/types"
)

const DefaultActuatorQueue = 8

var (
	ErrActuatorQueueFull = errors.New("actuator queue full")
	ErrActuatorClosed    = errors.New("actuator closed")
	ErrActuationFailed   = errors.New("actuation failed")
)

// ActuationError reports the output write that failed.
type ActuationError struct {
	Output hardware.Output
	Active bool
	Err    error
}

func (e *ActuationError) Error() string {
	return fmt.Sprintf("actuation failed: set %s active=%t: %v", e.Output, e.Active, e.Err)
}

func (e *ActuationError) Unwrap() []error { return []error{ErrActuationFailed, e.Err} }

// Outputs is the part of the hardware the actuator drives.
type Outputs interface {
	Write(out hardware.Output, active bool) error
}

type ActuatorConfig struct {
	// QueueSize bounds pending commands. Defaults to DefaultActuatorQueue.
	QueueSize int
}

type commandKind int

const (
	cmdUnlock commandKind = iota
	cmdBeep
)

type command struct {
	kind commandKind
	types.UnlockCommand
}

// DoorActuator owns the lock, indicator and sounder outputs. One worker
// goroutine runs commands from a bounded queue, one window at a time.
// Commands requested while an unlock window is active are discarded when
// it ends, so a window is never extended or re-triggered. A beep only
// discards the beeps requested during it; an unlock waiting behind a beep
// runs as soon as the beep ends.
type DoorActuator struct {
	out    Outputs
	clock  clock.Clock
	logger *slog.Logger

	queue    chan command
	failures chan error
	done     chan struct{}

	mu     sync.Mutex
	closed bool
	failed bool

	unlocked atomic.Bool
	pending  atomic.Int32 // unlock commands queued but not yet started
}

// NewDoorActuator starts the worker. Close stops it.
func NewDoorActuator(out Outputs, cfg ActuatorConfig, clk clock.Clock, logger *slog.Logger) *DoorActuator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultActuatorQueue
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &DoorActuator{
		out:      out,
		clock:    clk,
		logger:   logger.With("component", "door"),
		queue:    make(chan command, cfg.QueueSize),
		failures: make(chan error, 1),
		done:     make(chan struct{}),
	}
	go a.loop()
	return a
}

// Unlock requests one open window of length d.
func (a *DoorActuator) Unlock(ctx context.Context, d time.Duration) error {
	return a.enqueue(ctx, cmdUnlock, d)
}

// Beep requests one sounder pulse of length d.
func (a *DoorActuator) Beep(ctx context.Context, d time.Duration) error {
	return a.enqueue(ctx, cmdBeep, d)
}

// Unlocked reports whether an unlock window is active or queued.
func (a *DoorActuator) Unlocked() bool {
	return a.unlocked.Load() || a.pending.Load() > 0
}

// Failures delivers the first actuation failure. After it the actuator
// accepts no more commands.
func (a *DoorActuator) Failures() <-chan error { return a.failures }

// Close stops accepting commands and waits for the active window to end.
// Queued commands that have not started are dropped.
func (a *DoorActuator) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *DoorActuator) enqueue(ctx context.Context, kind commandKind, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cmd := command{kind: kind, UnlockCommand: types.UnlockCommand{Duration: d, RequestedAt: a.clock.Now()}}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.failed {
		return ErrActuatorClosed
	}
	if kind == cmdUnlock {
		a.pending.Add(1)
	}
	select {
	case a.queue <- cmd:
		return nil
	default:
		if kind == cmdUnlock {
			a.pending.Add(-1)
		}
		return ErrActuatorQueueFull
	}
}

func (a *DoorActuator) loop() {
	defer close(a.done)

	var next *command
	for {
		var cmd command
		if next != nil {
			cmd, next = *next, nil
		} else {
			c, ok := <-a.queue
			if !ok {
				return
			}
			cmd = c
		}

		if a.closing() {
			a.dequeued(cmd)
			continue
		}

		end, err := a.execute(cmd)
		if err != nil {
			a.fail(err)
			return
		}
		next = a.discardUntil(cmd.kind, end)
	}
}

func (a *DoorActuator) closing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *DoorActuator) dequeued(cmd command) {
	if cmd.kind == cmdUnlock {
		a.pending.Add(-1)
	}
}

// discardUntil drops queued commands requested before a window of kind
// window ended at end, and returns the first command that survives, if any.
// Only an unlock window discards unlocks.
func (a *DoorActuator) discardUntil(window commandKind, end time.Time) *command {
	for {
		select {
		case c, ok := <-a.queue:
			if !ok {
				return nil
			}
			if c.RequestedAt.Before(end) && (window == cmdUnlock || c.kind == cmdBeep) {
				a.dequeued(c)
				a.logger.Debug("command discarded; requested during active window",
					"kind", c.kind.String(), "window", window.String(), "requested_at", c.RequestedAt)
				continue
			}
			return &c
		default:
			return nil
		}
	}
}

// execute runs cmd and returns when its window ended, taken before the
// outputs are restored.
func (a *DoorActuator) execute(cmd command) (time.Time, error) {
	switch cmd.kind {
	case cmdUnlock:
		return a.unlock(cmd)
	default:
		return a.beep(cmd)
	}
}

func (a *DoorActuator) unlock(cmd command) (time.Time, error) {
	a.unlocked.Store(true)
	a.dequeued(cmd)
	defer a.unlocked.Store(false)

	a.logger.Info("door unlocked", "duration", cmd.Duration)
	if err := a.write(hardware.OutputLock, true); err != nil {
		return time.Time{}, err
	}
	if err := a.write(hardware.OutputIndicator, true); err != nil {
		return time.Time{}, err
	}

	end := <-a.clock.After(cmd.Duration)

	// Both restores are attempted; the first failure is reported.
	lockErr := a.write(hardware.OutputLock, false)
	indErr := a.write(hardware.OutputIndicator, false)
	if lockErr != nil {
		return end, lockErr
	}
	if indErr != nil {
		return end, indErr
	}
	a.logger.Info("door locked")
	return end, nil
}

func (a *DoorActuator) beep(cmd command) (time.Time, error) {
	if err := a.write(hardware.OutputSounder, true); err != nil {
		return time.Time{}, err
	}
	end := <-a.clock.After(cmd.Duration)
	return end, a.write(hardware.OutputSounder, false)
}

func (a *DoorActuator) write(out hardware.Output, active bool) error {
	if err := a.out.Write(out, active); err != nil {
		return &ActuationError{Output: out, Active: active, Err: err}
	}
	return nil
}

// fail forces every output inactive, stops intake and publishes err.
func (a *DoorActuator) fail(err error) {
	for _, out := range []hardware.Output{hardware.OutputLock, hardware.OutputIndicator, hardware.OutputSounder} {
		if werr := a.out.Write(out, false); werr != nil {
			a.logger.Error("force output inactive failed", "output", out.String(), "err", werr)
		}
	}

	a.mu.Lock()
	a.failed = true
	a.mu.Unlock()
	a.pending.Store(0)

	a.logger.Error("actuator stopped", "err", err)
	select {
	case a.failures <- err:
	default:
	}
}

func (k commandKind) String() string {
	if k == cmdUnlock {
		return "unlock"
	}
	return "beep"
}
