// Package diffmask implements the bitset used to track which properties
// of a replicated component have changed since they were last
// acknowledged. One bit per registered property; the world-replication
// sender ORs dirty bits in as properties mutate, clears the bits it has
// optimistically sent, and OR-merges them back in if that packet is
// later found to have been dropped.
package diffmask

import "github.com/samber/lo"

// Mask is a fixed-width bitset sized to a component's property count.
// Property counts in this engine are small (tens, not thousands), so a
// flat []byte backing is simpler and cheaper than a sparse
// representation.
type Mask struct {
	bits []byte
	size int
}

// New returns a zeroed Mask with room for size properties.
func New(size int) Mask {
	return Mask{bits: make([]byte, (size+7)/8), size: size}
}

// Full returns a Mask with every one of its size property bits set,
// used to seed a newly inserted component's diff mask so its first
// selected update carries a complete snapshot rather than an empty diff.
func Full(size int) Mask {
	m := New(size)
	lo.ForEach(lo.Range(size), func(i int, _ int) { m.Set(i) })
	return m
}

// Size returns how many property bits this mask holds.
func (m Mask) Size() int { return m.size }

// Set marks property i dirty.
func (m Mask) Set(i int) {
	m.bits[i/8] |= 1 << (uint(i) % 8)
}

// Clear marks property i clean.
func (m Mask) Clear(i int) {
	m.bits[i/8] &^= 1 << (uint(i) % 8)
}

// Test reports whether property i is dirty.
func (m Mask) Test(i int) bool {
	return m.bits[i/8]&(1<<(uint(i)%8)) != 0
}

// Any reports whether any property is dirty.
func (m Mask) Any() bool {
	for _, b := range m.bits {
		if b != 0 {
			return true
		}
	}
	return false
}

// Clone returns an independent copy, used to snapshot a mask into a
// packet's sent record before clearing the live mask.
func (m Mask) Clone() Mask {
	cp := make([]byte, len(m.bits))
	copy(cp, m.bits)
	return Mask{bits: cp, size: m.size}
}

// Or sets every bit that is set in other.
func (m Mask) Or(other Mask) {
	for i := range m.bits {
		m.bits[i] |= other.bits[i]
	}
}

// AndNot clears every bit that is set in other ("nand" in the spec's
// terminology: m = m AND NOT other), used to subtract newer
// already-in-flight masks from a reinstated snapshot so a reinstated bit
// never duplicates a still-in-flight update.
func (m Mask) AndNot(other Mask) {
	for i := range m.bits {
		m.bits[i] &^= other.bits[i]
	}
}

// ClearAll zeroes every bit.
func (m Mask) ClearAll() {
	for i := range m.bits {
		m.bits[i] = 0
	}
}

// Bytes returns the mask's raw backing bytes, for wire encoding.
func (m Mask) Bytes() []byte { return m.bits }

// FromBytes overwrites the mask's bits from a wire-decoded byte slice of
// the same length.
func (m Mask) FromBytes(b []byte) {
	copy(m.bits, b)
}
