// Package hardware is the reader and lock capability used by the
// controller. There are exactly two backends, chosen by configuration:
// KindMock (in-process, for development and tests) and KindLine (Linux
// GPIO character device).
package hardware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/wal-rus/lovepotion/internal/clock"
	"github.com/wal-rus/lovepotion/internal/wiegand"
)

var (
	// ErrAttachmentFailed means the backend could not claim its lines at
	// startup. The process must not continue without a working reader.
	ErrAttachmentFailed = errors.New("hardware attachment failed")

	ErrNotInitialized = errors.New("hardware not initialized")
	ErrUnknownKind    = errors.New("unknown hardware kind")
)

type Kind string

const (
	KindMock Kind = "mock"
	KindLine Kind = "line"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindMock, KindLine:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Output names one of the three driven lines.
type Output int

const (
	OutputLock Output = iota
	OutputIndicator
	OutputSounder
)

func (o Output) String() string {
	switch o {
	case OutputLock:
		return "lock"
	case OutputIndicator:
		return "indicator"
	case OutputSounder:
		return "sounder"
	default:
		return fmt.Sprintf("output(%d)", int(o))
	}
}

// TagSeenHandler receives the canonical id of every credential read, at
// most once per frame and never concurrently with itself.
type TagSeenHandler func(id string)

// Hardware is the capability the controller drives.
type Hardware interface {
	Kind() Kind
	Initialize(ctx context.Context) error
	SetTagSeenHandler(h TagSeenHandler)
	// Write drives out to its active (true) or inactive level.
	Write(out Output, active bool) error
	// ShutDown stops reading, leaves every output inactive and releases
	// the lines.
	ShutDown() error
}

type Options struct {
	Pins    Pins
	Decoder wiegand.Config
	Clock   clock.Clock
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// New returns the backend for kind.
func New(kind Kind, opts Options) (Hardware, error) {
	switch kind {
	case KindMock:
		return NewMock(opts), nil
	case KindLine:
		return NewLine(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(kind))
	}
}
