package bitio

import "errors"

// ErrTruncated is returned when a read runs past the end of the buffer.
var ErrTruncated = errors.New("bitio: truncated stream")

// ErrOverflow is returned when a write would exceed the writer's capacity,
// or a variable-length integer decode would overflow 64 bits.
var ErrOverflow = errors.New("bitio: capacity overflow")

// ErrInvalidDiscriminant is returned by generated enum/variant decoders when
// a tag value has no corresponding case. Decoders must return this rather
// than panic, per the engine's decode-errors-are-never-fatal policy.
var ErrInvalidDiscriminant = errors.New("bitio: invalid discriminant")
