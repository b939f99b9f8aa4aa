package bitio

import "math"

// Typed helpers layered on top of the raw bit primitives. Generated
// Message/Component field codecs call these directly rather than touching
// WriteBits/ReadBits themselves.

func WriteBool(w BitSink, v bool) error { return w.WriteBit(v) }

func ReadBool(r *Reader) (bool, error) { return r.ReadBit() }

func WriteU8(w BitSink, v uint8) error   { return w.WriteBits(uint64(v), 8) }
func WriteU16(w BitSink, v uint16) error { return w.WriteBits(uint64(v), 16) }
func WriteU32(w BitSink, v uint32) error { return w.WriteBits(uint64(v), 32) }
func WriteU64(w BitSink, v uint64) error { return w.WriteBits(v, 64) }

func ReadU8(r *Reader) (uint8, error) {
	v, err := r.ReadBits(8)
	return uint8(v), err
}

func ReadU16(r *Reader) (uint16, error) {
	v, err := r.ReadBits(16)
	return uint16(v), err
}

func ReadU32(r *Reader) (uint32, error) {
	v, err := r.ReadBits(32)
	return uint32(v), err
}

func ReadU64(r *Reader) (uint64, error) {
	return r.ReadBits(64)
}

func WriteI8(w BitSink, v int8) error   { return w.WriteBits(uint64(uint8(v)), 8) }
func WriteI16(w BitSink, v int16) error { return w.WriteBits(uint64(uint16(v)), 16) }
func WriteI32(w BitSink, v int32) error { return w.WriteBits(uint64(uint32(v)), 32) }
func WriteI64(w BitSink, v int64) error { return w.WriteBits(uint64(v), 64) }

func ReadI8(r *Reader) (int8, error) {
	v, err := r.ReadBits(8)
	return int8(uint8(v)), err
}

func ReadI16(r *Reader) (int16, error) {
	v, err := r.ReadBits(16)
	return int16(uint16(v)), err
}

func ReadI32(r *Reader) (int32, error) {
	v, err := r.ReadBits(32)
	return int32(uint32(v)), err
}

func ReadI64(r *Reader) (int64, error) {
	v, err := r.ReadBits(64)
	return int64(v), err
}

func WriteF32(w BitSink, v float32) error { return WriteU32(w, math.Float32bits(v)) }

func ReadF32(r *Reader) (float32, error) {
	v, err := ReadU32(r)
	return math.Float32frombits(v), err
}

func WriteF64(w BitSink, v float64) error { return WriteU64(w, math.Float64bits(v)) }

func ReadF64(r *Reader) (float64, error) {
	v, err := ReadU64(r)
	return math.Float64frombits(v), err
}

// WriteBytesP writes a length-prefixed byte slice: a 7-bit-chunked varint
// length followed by the raw bytes. Used for string and []byte fields
// where the field's own length isn't implied by the message schema.
func WriteBytesP(w BitSink, b []byte) error {
	if err := WriteU7Varint(w, uint64(len(b))); err != nil {
		return err
	}
	return w.WriteBytes(b)
}

// ReadBytesP is the inverse of WriteBytesP. maxLen guards against a
// corrupt or hostile length prefix forcing an unbounded allocation;
// callers pass the channel's configured fragment/message size cap.
func ReadBytesP(r *Reader, maxLen int) ([]byte, error) {
	n, err := ReadU7Varint(r)
	if err != nil {
		return nil, err
	}
	if maxLen > 0 && n > uint64(maxLen) {
		return nil, ErrOverflow
	}
	return r.ReadBytes(int(n))
}

// WriteStringP writes a length-prefixed UTF-8 string.
func WriteStringP(w BitSink, s string) error { return WriteBytesP(w, []byte(s)) }

// ReadStringP is the inverse of WriteStringP.
func ReadStringP(r *Reader, maxLen int) (string, error) {
	b, err := ReadBytesP(r, maxLen)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
