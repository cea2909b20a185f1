//go:build linux

package hardware

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"

	"github.com/wal-rus/lovepotion/internal/wiegand"
)

const consumer = "lovepotion"

// Line drives a Wiegand reader and the door outputs through the GPIO
// character device.
type Line struct {
	*reader
	pins Pins

	mu   sync.Mutex
	data *gpiocdev.Lines
	outs map[Output]*gpiocdev.Line
}

var _ Hardware = (*Line)(nil)

func NewLine(opts Options) *Line {
	opts = opts.withDefaults()
	opts.Logger = opts.Logger.With("hardware", string(KindLine), "chip", opts.Pins.Chip)
	return &Line{
		reader: newReader(opts),
		pins:   opts.Pins,
	}
}

func (l *Line) Kind() Kind { return KindLine }

func (l *Line) Initialize(ctx context.Context) error {
	if err := l.pins.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrAttachmentFailed, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.data != nil {
		return nil
	}

	outs := make(map[Output]*gpiocdev.Line, 3)
	release := func() {
		for _, ln := range outs {
			_ = ln.Close()
		}
	}
	for _, out := range []Output{OutputLock, OutputIndicator, OutputSounder} {
		reqOpts := []gpiocdev.LineReqOption{gpiocdev.WithConsumer(consumer), gpiocdev.AsOutput(0)}
		if l.pins.activeLow(out) {
			reqOpts = append(reqOpts, gpiocdev.AsActiveLow)
		}
		ln, err := gpiocdev.RequestLine(l.pins.Chip, l.pins.offset(out), reqOpts...)
		if err != nil {
			release()
			return fmt.Errorf("%w: request %s line %d: %w", ErrAttachmentFailed, out, l.pins.offset(out), err)
		}
		outs[out] = ln
	}

	data, err := gpiocdev.RequestLines(l.pins.Chip, []int{l.pins.Data0, l.pins.Data1},
		gpiocdev.WithConsumer(consumer),
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(l.onEdge),
	)
	if err != nil {
		release()
		return fmt.Errorf("%w: request data lines %d,%d: %w", ErrAttachmentFailed, l.pins.Data0, l.pins.Data1, err)
	}

	l.outs = outs
	l.data = data
	l.start(ctx)
	l.logger.Info("gpio hardware ready",
		"data0", l.pins.Data0, "data1", l.pins.Data1,
		"lock", l.pins.Lock, "indicator", l.pins.Indicator, "sounder", l.pins.Sounder)
	return nil
}

// onEdge runs on the request's event goroutine, so edges arrive in kernel
// order. They are stamped with the decoder clock rather than the kernel
// timestamp, which counts from boot.
func (l *Line) onEdge(evt gpiocdev.LineEvent) {
	switch evt.Offset {
	case l.pins.Data0:
		l.decoder.Pulse(wiegand.LineZero)
	case l.pins.Data1:
		l.decoder.Pulse(wiegand.LineOne)
	default:
		l.logger.Debug("edge on unexpected line", "offset", evt.Offset)
	}
}

func (l *Line) Write(out Output, active bool) error {
	l.mu.Lock()
	ln := l.outs[out]
	l.mu.Unlock()
	if ln == nil {
		return ErrNotInitialized
	}

	v := 0
	if active {
		v = 1
	}
	if err := ln.SetValue(v); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	return nil
}

func (l *Line) ShutDown() error {
	l.stop()

	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	if l.data != nil {
		errs = append(errs, l.data.Close())
		l.data = nil
	}
	for out, ln := range l.outs {
		if err := ln.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", out, err))
		}
		errs = append(errs, ln.Close())
	}
	l.outs = nil
	return errors.Join(errs...)
}
