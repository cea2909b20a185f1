//go:build !linux

package hardware

import (
	"context"
	"errors"
	"fmt"
)

var errNoGPIO = errors.New("gpio character device requires linux")

// Line is unavailable off Linux; Initialize always fails.
type Line struct {
	*reader
}

func NewLine(opts Options) *Line {
	return &Line{reader: newReader(opts.withDefaults())}
}

func (l *Line) Kind() Kind { return KindLine }

func (l *Line) Initialize(context.Context) error {
	return fmt.Errorf("%w: %w", ErrAttachmentFailed, errNoGPIO)
}

func (l *Line) Write(Output, bool) error { return ErrNotInitialized }

func (l *Line) ShutDown() error { return nil }
