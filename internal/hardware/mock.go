package hardware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wal-rus/lovepotion/internal/clock"
	"github.com/wal-rus/lovepotion/internal/wiegand"
)

// WriteRecord is one output change seen by the mock.
type WriteRecord struct {
	Output Output
	Active bool
	At     time.Time
}

// Mock is the in-process backend. Tags are presented by calling Present
// (already decoded) or Pulse (raw data-line edges through the decoder).
type Mock struct {
	*reader
	clock clock.Clock

	mu          sync.Mutex
	initialized bool
	levels      map[Output]bool
	writes      []WriteRecord
	failures    map[Output]error
}

var _ Hardware = (*Mock)(nil)

func NewMock(opts Options) *Mock {
	opts = opts.withDefaults()
	opts.Logger = opts.Logger.With("hardware", string(KindMock))
	return &Mock{
		reader:   newReader(opts),
		clock:    opts.Clock,
		levels:   make(map[Output]bool, 3),
		failures: make(map[Output]error),
	}
}

func (m *Mock) Kind() Kind { return KindMock }

func (m *Mock) Initialize(ctx context.Context) error {
	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()

	m.start(ctx)
	m.logger.Info("mock hardware ready")
	return nil
}

// Present delivers id to the tag handler as if a reader had decoded it.
func (m *Mock) Present(id string) {
	m.dispatch(id)
}

// Pulse records a falling edge on line at the current clock time.
func (m *Mock) Pulse(line wiegand.Line) {
	m.decoder.Pulse(line)
}

func (m *Mock) Write(out Output, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return ErrNotInitialized
	}
	if err := m.failures[out]; err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	m.levels[out] = active
	m.writes = append(m.writes, WriteRecord{Output: out, Active: active, At: m.clock.Now()})
	return nil
}

// FailWrites makes every later write to out return err. A nil err clears it.
func (m *Mock) FailWrites(out Output, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, out)
		return
	}
	m.failures[out] = err
}

// Level reports the last level written to out.
func (m *Mock) Level(out Output) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[out]
}

func (m *Mock) Writes() []WriteRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WriteRecord, len(m.writes))
	copy(out, m.writes)
	return out
}

func (m *Mock) ShutDown() error {
	m.stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, out := range []Output{OutputLock, OutputIndicator, OutputSounder} {
		if m.levels[out] {
			m.levels[out] = false
			m.writes = append(m.writes, WriteRecord{Output: out, Active: false, At: m.clock.Now()})
		}
	}
	m.initialized = false
	return nil
}
