package wiegand_test

import (
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wal-rus/lovepotion/internal/clock"
	"github.com/wal-rus/lovepotion/internal/wiegand"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const timeout = 5 * time.Millisecond

// settle is the shortest wait after which a quiet line has timed out.
const settle = timeout + time.Nanosecond

func newTestDecoder(t *testing.T, buffer int) (*wiegand.Decoder, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(epoch)
	d := wiegand.NewDecoder(wiegand.Config{BitTimeout: timeout, FrameBuffer: buffer}, clk, nil)
	return d, clk
}

// feed pulses pattern ('0' / '1' per bit) gap apart, then lets both lines
// time out.
func feed(d *wiegand.Decoder, clk *clock.FakeClock, pattern string, gap time.Duration) {
	for i, c := range pattern {
		if i > 0 {
			clk.Advance(gap)
		}
		if c == '1' {
			d.Pulse(wiegand.LineOne)
		} else {
			d.Pulse(wiegand.LineZero)
		}
	}
	clk.Advance(settle)
}

// reference builds the expected value one bit at a time.
func reference(pattern string) uint64 {
	var v uint64
	for _, c := range pattern {
		v <<= 1
		if c == '1' {
			v |= 1
		}
	}
	return v
}

func nextFrame(t *testing.T, d *wiegand.Decoder) wiegand.Credential {
	t.Helper()
	select {
	case c := <-d.Frames():
		return c
	default:
		t.Fatal("expected a completed frame")
		return wiegand.Credential{}
	}
}

func requireNoFrame(t *testing.T, d *wiegand.Decoder) {
	t.Helper()
	select {
	case c := <-d.Frames():
		t.Fatalf("unexpected frame: value=%#x bits=%d", c.Value, c.Bits)
	default:
	}
}

// ── Bit assembly ─────────────────────────────────────────────────────────────

func TestDecoder_SingleBitFrames(t *testing.T) {
	d, clk := newTestDecoder(t, 4)

	feed(d, clk, "0", time.Millisecond)
	c := nextFrame(t, d)
	assert.Equal(t, uint64(0), c.Value)
	assert.Equal(t, uint(1), c.Bits)

	feed(d, clk, "1", time.Millisecond)
	c = nextFrame(t, d)
	assert.Equal(t, uint64(1), c.Value)
	assert.Equal(t, uint(1), c.Bits)
}

func TestDecoder_MatchesReferenceConstruction(t *testing.T) {
	d, clk := newTestDecoder(t, 4)
	rng := rand.New(rand.NewSource(26))

	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(64)
		var sb strings.Builder
		for j := 0; j < n; j++ {
			if rng.Intn(2) == 1 {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
		pattern := sb.String()
		// strictly inside the bit timeout
		gap := time.Duration(1+rng.Intn(int(timeout/time.Microsecond)-1)) * time.Microsecond

		feed(d, clk, pattern, gap)
		c := nextFrame(t, d)
		require.Equal(t, reference(pattern), c.Value, "pattern %s", pattern)
		require.Equal(t, uint(n), c.Bits, "pattern %s", pattern)
		requireNoFrame(t, d)
	}
}

func TestDecoder_26BitAllOnesFixture(t *testing.T) {
	d, clk := newTestDecoder(t, 4)
	const fixture = "11111111111111111111111111"

	feed(d, clk, fixture, time.Millisecond)
	c := nextFrame(t, d)
	assert.Equal(t, uint64(1<<26-1), c.Value)
	assert.Equal(t, uint(26), c.Bits)
	assert.Equal(t, "3ffffff", c.ID())
}

func TestDecoder_Standard26BitCard(t *testing.T) {
	d, clk := newTestDecoder(t, 4)
	// facility 123, card 4567, both parity bits valid
	const frame = "10111101100010001110101110"

	feed(d, clk, frame, 2*time.Millisecond)
	c := nextFrame(t, d)
	f, ok := c.Format26()
	require.True(t, ok)
	assert.Equal(t, uint8(123), f.Facility)
	assert.Equal(t, uint16(4567), f.Card)
	assert.True(t, f.ParityOK)
}

func TestDecoder_SimultaneousEdgesAreTwoBits(t *testing.T) {
	d, clk := newTestDecoder(t, 4)

	d.Edge(wiegand.EdgeEvent{Line: wiegand.LineOne, At: epoch})
	d.Edge(wiegand.EdgeEvent{Line: wiegand.LineZero, At: epoch})
	clk.Advance(settle)

	c := nextFrame(t, d)
	assert.Equal(t, uint64(0b10), c.Value)
	assert.Equal(t, uint(2), c.Bits)
}

func TestDecoder_ValueHasNoBitsFromPreviousFrame(t *testing.T) {
	d, clk := newTestDecoder(t, 4)

	feed(d, clk, "1111", time.Millisecond)
	nextFrame(t, d)
	feed(d, clk, "01", time.Millisecond)
	c := nextFrame(t, d)
	assert.Equal(t, uint64(1), c.Value)
	assert.Equal(t, uint(2), c.Bits)
}

// ── Per-line timeouts ────────────────────────────────────────────────────────

func TestDecoder_FrameWaitsForBothLines(t *testing.T) {
	d, clk := newTestDecoder(t, 4)

	d.Pulse(wiegand.LineOne)
	clk.Advance(4 * time.Millisecond)
	d.Pulse(wiegand.LineOne)

	// DATA0 is past its timeout, DATA1 is not.
	clk.Advance(time.Millisecond + time.Nanosecond)
	requireNoFrame(t, d)

	clk.Advance(4 * time.Millisecond)
	c := nextFrame(t, d)
	assert.Equal(t, uint64(0b11), c.Value)
	assert.Equal(t, uint(2), c.Bits)
	assert.Equal(t, epoch.Add(9*time.Millisecond), c.DecodedAt)
}

func TestDecoder_EdgeClearsOnlyItsOwnLine(t *testing.T) {
	d, clk := newTestDecoder(t, 4)

	d.Pulse(wiegand.LineOne)
	clk.Advance(3 * time.Millisecond)
	d.Pulse(wiegand.LineOne)
	clk.Advance(2 * time.Millisecond) // DATA0 exactly at its boundary
	requireNoFrame(t, d)

	clk.Advance(time.Millisecond) // DATA0 times out
	d.Pulse(wiegand.LineOne)      // must leave DATA0's timeout standing

	clk.Advance(timeout)
	requireNoFrame(t, d)
	clk.Advance(time.Nanosecond)
	c := nextFrame(t, d)
	assert.Equal(t, uint64(0b111), c.Value)
	assert.Equal(t, uint(3), c.Bits)
	assert.Equal(t, epoch.Add(11*time.Millisecond), c.DecodedAt)
}

func TestDecoder_EdgeOnTimedOutLineRearmsIt(t *testing.T) {
	d, clk := newTestDecoder(t, 4)

	d.Pulse(wiegand.LineOne)
	clk.Advance(3 * time.Millisecond)
	d.Pulse(wiegand.LineOne)
	clk.Advance(3 * time.Millisecond) // DATA0 times out
	d.Pulse(wiegand.LineZero)         // DATA0 active again

	clk.Advance(2*time.Millisecond + time.Nanosecond) // DATA1 times out after 8ms
	requireNoFrame(t, d)

	clk.Advance(3 * time.Millisecond) // DATA0 times out after 11ms
	c := nextFrame(t, d)
	assert.Equal(t, uint64(0b110), c.Value)
	assert.Equal(t, uint(3), c.Bits)
	assert.Equal(t, epoch.Add(11*time.Millisecond), c.DecodedAt)
}

func TestDecoder_EdgeAtExactBoundaryExtendsFrame(t *testing.T) {
	d, clk := newTestDecoder(t, 4)

	d.Pulse(wiegand.LineOne)
	clk.Advance(timeout) // both watchdogs fire exactly at the boundary
	requireNoFrame(t, d)

	d.Pulse(wiegand.LineZero)
	clk.Advance(timeout) // DATA1 has timed out, DATA0 sits on its boundary
	requireNoFrame(t, d)

	clk.Advance(time.Nanosecond)
	c := nextFrame(t, d)
	assert.Equal(t, uint64(0b10), c.Value)
	assert.Equal(t, uint(2), c.Bits)
	assert.Equal(t, epoch.Add(2*timeout), c.DecodedAt)
	requireNoFrame(t, d)
}

func TestDecoder_InjectedEdgeAtExactBoundaryExtendsFrame(t *testing.T) {
	d, clk := newTestDecoder(t, 4)

	d.Edge(wiegand.EdgeEvent{Line: wiegand.LineOne, At: epoch})
	d.Edge(wiegand.EdgeEvent{Line: wiegand.LineZero, At: epoch.Add(timeout)})
	requireNoFrame(t, d)

	clk.Advance(2 * settle)
	c := nextFrame(t, d)
	assert.Equal(t, uint64(0b10), c.Value)
	assert.Equal(t, uint(2), c.Bits)
}

func TestDecoder_EdgePastBoundaryStartsNewFrame(t *testing.T) {
	d, clk := newTestDecoder(t, 4)

	d.Edge(wiegand.EdgeEvent{Line: wiegand.LineOne, At: epoch})
	d.Edge(wiegand.EdgeEvent{Line: wiegand.LineZero, At: epoch.Add(timeout + time.Nanosecond)})

	first := nextFrame(t, d)
	assert.Equal(t, uint64(1), first.Value)
	assert.Equal(t, uint(1), first.Bits)
	assert.Equal(t, epoch.Add(timeout), first.DecodedAt)

	clk.Advance(3 * timeout)
	second := nextFrame(t, d)
	assert.Equal(t, uint64(0), second.Value)
	assert.Equal(t, uint(1), second.Bits)
}

// ── Idle behavior and robustness ─────────────────────────────────────────────

func TestDecoder_NeverEmitsEmptyFrame(t *testing.T) {
	d, clk := newTestDecoder(t, 4)

	clk.Advance(time.Second)
	requireNoFrame(t, d)

	feed(d, clk, "10", time.Millisecond)
	c := nextFrame(t, d)
	assert.NotZero(t, c.Bits)

	// Watchdogs are disarmed on close; nothing fires afterwards.
	clk.Advance(time.Second)
	requireNoFrame(t, d)
	assert.Equal(t, 0, clk.PendingCount())
}

func TestDecoder_DropsFramesWhenConsumerStalls(t *testing.T) {
	d, clk := newTestDecoder(t, 1)

	feed(d, clk, "1", time.Millisecond)
	feed(d, clk, "0", time.Millisecond)

	st := d.Stats()
	assert.Equal(t, uint64(1), st.Frames)
	assert.Equal(t, uint64(1), st.Dropped)
	assert.Equal(t, uint64(1), nextFrame(t, d).Value)
}

func TestDecoder_AbandonDiscardsPartialFrame(t *testing.T) {
	d, clk := newTestDecoder(t, 4)

	d.Pulse(wiegand.LineOne)
	d.Pulse(wiegand.LineOne)
	d.Abandon()
	clk.Advance(time.Second)
	requireNoFrame(t, d)

	feed(d, clk, "0", time.Millisecond)
	c := nextFrame(t, d)
	assert.Equal(t, uint(1), c.Bits)
}

func TestDecoder_ConcurrentPulsesAreAllCounted(t *testing.T) {
	d, clk := newTestDecoder(t, 4)

	var wg sync.WaitGroup
	for _, line := range []wiegand.Line{wiegand.LineZero, wiegand.LineOne} {
		wg.Add(1)
		go func(l wiegand.Line) {
			defer wg.Done()
			for i := 0; i < 16; i++ {
				d.Pulse(l)
			}
		}(line)
	}
	wg.Wait()
	clk.Advance(settle)

	c := nextFrame(t, d)
	assert.Equal(t, uint(32), c.Bits)
}
