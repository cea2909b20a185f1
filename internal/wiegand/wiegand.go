// Package wiegand decodes the two-wire Wiegand card reader protocol.
//
// A reader signals each bit as a short low pulse on one of two lines: a
// pulse on DATA0 is a 0 bit, a pulse on DATA1 is a 1 bit. There is no
// framing byte or length prefix; a frame ends when both lines have been
// quiet for longer than the bit timeout. Decoder turns the resulting
// stream of edges into Credentials.
package wiegand

import (
	"errors"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedFrame marks decoder inconsistencies such as a watchdog that
// fires after its frame already closed. It is only ever logged.
var ErrMalformedFrame = errors.New("wiegand: malformed frame")

// Line identifies one of the two data lines.
type Line uint8

const (
	LineZero Line = iota // DATA0, carries 0 bits
	LineOne              // DATA1, carries 1 bits
)

func (l Line) String() string {
	switch l {
	case LineZero:
		return "data0"
	case LineOne:
		return "data1"
	default:
		return "line(" + strconv.Itoa(int(l)) + ")"
	}
}

func (l Line) valid() bool { return l == LineZero || l == LineOne }

// mask is the line's bit in the pending-timeout mask.
func (l Line) mask() uint8 { return 1 << l }

// EdgeEvent is one bit pulse observed on a line.
type EdgeEvent struct {
	Line Line
	At   time.Time
}

// Credential is a decoded frame. Value holds the frame bits with the first
// bit received in the most significant position.
type Credential struct {
	Value     uint64
	Bits      uint
	DecodedAt time.Time // when the last active line went quiet
}

// ID renders the credential as the canonical lowercase hex identifier used
// for lookups.
func (c Credential) ID() string {
	return strconv.FormatUint(c.Value, 16)
}

// Format26 is the facility/card split of a standard 26-bit (H10301) frame.
type Format26 struct {
	Facility uint8
	Card     uint16
	ParityOK bool
}

// Format26 interprets a 26-bit frame. ok is false for any other length.
// The leading bit is even parity over the first 13 bits, the trailing bit
// odd parity over the last 13.
func (c Credential) Format26() (f Format26, ok bool) {
	if c.Bits != 26 {
		return Format26{}, false
	}
	v := c.Value & (1<<26 - 1)
	even := bits.OnesCount64(v>>13)%2 == 0
	odd := bits.OnesCount64(v&0x1FFF)%2 == 1
	return Format26{
		Facility: uint8(v >> 17),
		Card:     uint16(v >> 1),
		ParityOK: even && odd,
	}, true
}

// NormalizeID canonicalizes a credential identifier: surrounding space is
// trimmed, letters are lowercased and leading zeros dropped, so the result
// matches Credential.ID for the same number. It reports false for empty or
// non-hex input. NormalizeID(NormalizeID(x)) == NormalizeID(x).
func NormalizeID(id string) (string, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return "", false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", false
		}
	}
	id = strings.TrimLeft(id, "0")
	if id == "" {
		id = "0"
	}
	return id, true
}
