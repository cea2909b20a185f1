package wiegand

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/wal-rus/lovepotion/internal/clock"
)

const (
	DefaultBitTimeout  = 5 * time.Millisecond
	DefaultFrameBuffer = 4
)

// bothTimedOut is the pending-timeout mask once each line has gone quiet.
const bothTimedOut = 0b11

// Config tunes a Decoder.
type Config struct {
	// BitTimeout is how long a line must stay quiet before it is
	// considered done with the current frame.
	BitTimeout time.Duration

	// FrameBuffer is the capacity of the Frames channel. Frames that
	// complete while the buffer is full are dropped.
	FrameBuffer int
}

func DefaultConfig() Config {
	return Config{BitTimeout: DefaultBitTimeout, FrameBuffer: DefaultFrameBuffer}
}

// Stats counts decoder outcomes since construction.
type Stats struct {
	Frames  uint64 // credentials handed to Frames
	Dropped uint64 // credentials lost to a full Frames buffer
	Stale   uint64 // watchdogs that fired with nothing to do
}

// decodeState is the per-frame state. It is only touched with Decoder.mu
// held.
type decodeState struct {
	inFrame  bool
	bits     uint
	value    uint64
	timedOut uint8 // bit per Line, set when that line's watchdog expires
}

// Decoder is the Wiegand frame state machine.
//
// Edges and watchdog expiries are applied under one mutex, in arrival
// order, so the bit sequence matches the physical pulse order. Each line
// has its own watchdog: an edge re-arms only its own line and clears only
// its own pending-timeout bit. A frame closes when both lines have timed
// out since their last edge.
type Decoder struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger
	frames chan Credential

	mu        sync.Mutex
	st        decodeState
	last      [2]time.Time
	watchdogs [2]*clock.Timer
	stats     Stats
}

// NewDecoder builds an idle Decoder. Zero config fields take defaults.
func NewDecoder(cfg Config, clk clock.Clock, logger *slog.Logger) *Decoder {
	if cfg.BitTimeout <= 0 {
		cfg.BitTimeout = DefaultBitTimeout
	}
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = DefaultFrameBuffer
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Decoder{
		cfg:    cfg,
		clock:  clk,
		logger: logger.With("component", "wiegand"),
		frames: make(chan Credential, cfg.FrameBuffer),
	}
}

// Frames delivers completed credentials, one per frame.
func (d *Decoder) Frames() <-chan Credential { return d.frames }

// Pulse records an edge on line at the decoder's current time.
func (d *Decoder) Pulse(line Line) {
	d.Edge(EdgeEvent{Line: line, At: d.clock.Now()})
}

// Edge applies one edge event.
//
// Lateness is judged on timestamps: a gap of exactly BitTimeout since a
// line's last edge still counts as inside the frame. If the gap on both
// lines is longer than that, the watchdogs simply have not been delivered
// yet; the old frame is closed first and ev starts a new one.
func (d *Decoder) Edge(ev EdgeEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !ev.Line.valid() {
		d.logger.Debug("ignoring edge", "line", ev.Line, "err", ErrMalformedFrame)
		return
	}

	if d.st.inFrame {
		for _, l := range []Line{LineZero, LineOne} {
			if ev.At.Sub(d.last[l]) > d.cfg.BitTimeout {
				d.st.timedOut |= l.mask()
			}
		}
		if d.st.timedOut == bothTimedOut {
			d.closeLocked(d.last[d.lastLineLocked()].Add(d.cfg.BitTimeout))
		}
	}

	if !d.st.inFrame {
		d.st = decodeState{inFrame: true, bits: 1}
		if ev.Line == LineOne {
			d.st.value = 1
		}
		d.last = [2]time.Time{ev.At, ev.At}
		d.armLocked(LineZero)
		d.armLocked(LineOne)
		return
	}

	d.st.value <<= 1
	d.st.bits++
	if ev.Line == LineOne {
		d.st.value |= 1
	}
	d.st.timedOut &^= ev.Line.mask()
	d.last[ev.Line] = ev.At
	d.armLocked(ev.Line)
}

// Abandon drops any partial frame and disarms the watchdogs.
func (d *Decoder) Abandon() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.st.inFrame {
		d.logger.Debug("abandoning partial frame", "bits", d.st.bits)
	}
	d.disarmLocked()
	d.st = decodeState{}
}

func (d *Decoder) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// watchdog runs when line may have been quiet for BitTimeout.
func (d *Decoder) watchdog(line Line) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.st.inFrame {
		d.stats.Stale++
		d.logger.Debug("watchdog fired while idle", "line", line, "err", ErrMalformedFrame)
		return
	}

	// A line times out only once it has been quiet for longer than
	// BitTimeout; an edge exactly at the boundary still belongs to the frame.
	idle := d.clock.Now().Sub(d.last[line])
	if idle <= d.cfg.BitTimeout {
		if idle < d.cfg.BitTimeout {
			// An edge landed after this timer was scheduled.
			d.stats.Stale++
		}
		d.watchdogs[line].Reset(d.cfg.BitTimeout - idle + time.Nanosecond)
		return
	}

	d.st.timedOut |= line.mask()
	if d.st.timedOut == bothTimedOut {
		d.closeLocked(d.last[d.lastLineLocked()].Add(d.cfg.BitTimeout))
	}
}

// armLocked (re)starts line's watchdog for a full BitTimeout.
func (d *Decoder) armLocked(line Line) {
	if t := d.watchdogs[line]; t != nil {
		t.Reset(d.cfg.BitTimeout)
		return
	}
	d.watchdogs[line] = d.clock.AfterFunc(d.cfg.BitTimeout, func() { d.watchdog(line) })
}

func (d *Decoder) disarmLocked() {
	for _, t := range d.watchdogs {
		if t != nil {
			t.Stop()
		}
	}
}

// lastLineLocked returns the line with the most recent edge.
func (d *Decoder) lastLineLocked() Line {
	if d.last[LineOne].After(d.last[LineZero]) {
		return LineOne
	}
	return LineZero
}

// closeLocked emits the current frame and returns to idle.
func (d *Decoder) closeLocked(at time.Time) {
	cred := Credential{Value: d.st.value, Bits: d.st.bits, DecodedAt: at}
	d.disarmLocked()
	d.st = decodeState{}

	select {
	case d.frames <- cred:
		d.stats.Frames++
	default:
		d.stats.Dropped++
		d.logger.Warn("frame dropped, consumer not keeping up", "bits", cred.Bits)
	}
}
