package wire

import "naia/bitio"

// StandardHeader is carried at the front of every outgoing packet: a
// 3-bit packet type, the sender's own packet index, the index of the
// highest remote packet the sender has seen, and a bitfield acking the 32
// packets before that one.
type StandardHeader struct {
	Type              PacketType
	SenderPacketIndex Seq
	SenderAckIndex    Seq
	SenderAckBitfield uint32
}

// NewStandardHeader builds a header with the given fields.
func NewStandardHeader(t PacketType, senderPacketIndex, senderAckIndex Seq, ackBitfield uint32) StandardHeader {
	return StandardHeader{
		Type:              t,
		SenderPacketIndex: senderPacketIndex,
		SenderAckIndex:    senderAckIndex,
		SenderAckBitfield: ackBitfield,
	}
}

// Write encodes the header: 3 bits of packet type, two 16-bit sequence
// numbers, and a 32-bit ack bitfield.
func (h StandardHeader) Write(w bitio.BitSink) error {
	if err := w.WriteBits(uint64(h.Type), packetTypeBits); err != nil {
		return err
	}
	if err := bitio.WriteU16(w, h.SenderPacketIndex); err != nil {
		return err
	}
	if err := bitio.WriteU16(w, h.SenderAckIndex); err != nil {
		return err
	}
	return bitio.WriteU32(w, h.SenderAckBitfield)
}

// ReadStandardHeader decodes a header written by Write.
func ReadStandardHeader(r *bitio.Reader) (StandardHeader, error) {
	var h StandardHeader
	typ, err := r.ReadBits(packetTypeBits)
	if err != nil {
		return h, err
	}
	h.Type = PacketType(typ)
	if h.SenderPacketIndex, err = bitio.ReadU16(r); err != nil {
		return h, err
	}
	if h.SenderAckIndex, err = bitio.ReadU16(r); err != nil {
		return h, err
	}
	if h.SenderAckBitfield, err = bitio.ReadU32(r); err != nil {
		return h, err
	}
	return h, nil
}

// HeaderBits is the fixed on-wire size of a StandardHeader, used by
// channels and the replication system to budget the remainder of a
// packet's capacity.
const HeaderBits = packetTypeBits + 16 + 16 + 32
