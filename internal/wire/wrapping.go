// Package wire implements naia's packet-level framing: the standard packet
// header, packet type tags, and the ACK manager that tracks sent and
// received packets across the wrapping 16-bit sequence space.
package wire

import "math"

// Seq is a wrapping 16-bit sequence number, used for packet indices and
// ticks alike: both need the same "later than, accounting for wraparound"
// comparison.
type Seq = uint16

// WrappingDiff returns b-a as a signed distance in the wrapping 16-bit
// sequence space, choosing whichever of the two directions around the
// ring keeps the result within an int16's range. A positive result means
// b comes after a; negative means b comes before a.
func WrappingDiff(a, b Seq) int16 {
	const (
		max    = int32(math.MaxInt16)
		min    = int32(math.MinInt16)
		adjust = int32(math.MaxUint16) + 1
	)

	ai, bi := int32(a), int32(b)
	result := bi - ai
	if result >= min && result <= max {
		return int16(result)
	}
	if bi > ai {
		result = bi - (ai + adjust)
	} else {
		result = (bi + adjust) - ai
	}
	return int16(result)
}

// SequenceGreaterThan reports whether b is strictly later than a in the
// wrapping sequence space.
func SequenceGreaterThan(a, b Seq) bool {
	return WrappingDiff(a, b) > 0
}

// SeqSub wraps b backwards by n, matching Rust's u16::wrapping_sub.
func SeqSub(b Seq, n uint16) Seq { return b - n }

// SeqAdd wraps b forwards by n, matching Rust's u16::wrapping_add.
func SeqAdd(b Seq, n uint16) Seq { return b + n }
