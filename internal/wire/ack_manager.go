package wire

// RedundantPacketAcksSize is how many packets before the most recently
// acked one are redundantly acked in every outgoing header's bitfield,
// so a single dropped ack packet doesn't cost a retransmit.
const RedundantPacketAcksSize = 32

// DefaultSentPacketsCapacity sizes the sent-packet tracking map's initial
// allocation; it grows past this under sustained loss.
const DefaultSentPacketsCapacity = 256

// PacketNotifiable receives delivered/dropped notifications for packets
// of type PacketData as the AckManager processes incoming headers.
// Channels implement this to retire or retransmit reliable messages.
type PacketNotifiable interface {
	NotifyPacketDelivered(packetIndex Seq)
	NotifyPacketDropped(packetIndex Seq)
}

type sentPacket struct {
	packetType PacketType
}

// AckManager tracks packets this side has sent but not yet had
// acknowledged, and the window of packets received from the remote side,
// producing the header fields needed for the other side to do the same.
type AckManager struct {
	nextPacketIndex     Seq
	lastRecvPacketIndex Seq
	sentPackets         map[Seq]sentPacket
	receivedPackets     *sequenceBuffer
}

// NewAckManager returns an AckManager ready to track a fresh connection.
func NewAckManager() *AckManager {
	return &AckManager{
		lastRecvPacketIndex: ^Seq(0), // u16::MAX, matches the reference default
		sentPackets:         make(map[Seq]sentPacket, DefaultSentPacketsCapacity),
		receivedPackets:     newSequenceBuffer(RedundantPacketAcksSize + 1),
	}
}

// NextSenderPacketIndex returns the index the next outgoing packet will
// carry.
func (m *AckManager) NextSenderPacketIndex() Seq { return m.nextPacketIndex }

// NextOutgoingHeader builds the header for the next outgoing packet of
// the given type, recording it as sent and bumping the local packet
// index.
func (m *AckManager) NextOutgoingHeader(t PacketType) StandardHeader {
	idx := m.nextPacketIndex
	h := NewStandardHeader(t, idx, m.lastReceivedPacketIndex(), m.ackBitfield())
	m.sentPackets[idx] = sentPacket{packetType: t}
	m.nextPacketIndex++
	return h
}

// ProcessIncomingHeader folds an incoming packet's header into this
// side's bookkeeping: records it as received, advances the acked-index
// high-water mark, and notifies notifiable of any PacketData packets
// that have now been confirmed delivered.
func (m *AckManager) ProcessIncomingHeader(h StandardHeader, notifiable PacketNotifiable) {
	m.receivedPackets.insert(h.SenderPacketIndex)

	if SequenceGreaterThan(m.lastRecvPacketIndex, h.SenderAckIndex) {
		m.lastRecvPacketIndex = h.SenderAckIndex
	}

	if sp, ok := m.sentPackets[h.SenderAckIndex]; ok {
		if sp.packetType == PacketData {
			m.notifyDelivered(h.SenderAckIndex, notifiable)
		}
		delete(m.sentPackets, h.SenderAckIndex)
	}

	bitfield := h.SenderAckBitfield
	for i := Seq(1); i <= RedundantPacketAcksSize; i++ {
		sentIdx := h.SenderAckIndex - i
		if sp, ok := m.sentPackets[sentIdx]; ok && bitfield&1 == 1 {
			if sp.packetType == PacketData {
				m.notifyDelivered(sentIdx, notifiable)
			}
			delete(m.sentPackets, sentIdx)
		}
		bitfield >>= 1
	}

	m.reapDropped(h.SenderAckIndex, notifiable)
}

// reapDropped considers every still-tracked sent packet older than the
// redundant-ack window behind ackIndex as dropped: the remote's next
// RedundantPacketAcksSize headers would have acked it by now if it had
// arrived, per the same sliding-window reasoning the bitfield itself
// uses. PacketData packets notify notifiable; every tracked type is
// forgotten either way so the map doesn't grow unbounded under loss.
func (m *AckManager) reapDropped(ackIndex Seq, notifiable PacketNotifiable) {
	horizon := ackIndex - RedundantPacketAcksSize
	for idx, sp := range m.sentPackets {
		if !SequenceGreaterThan(idx, horizon) {
			continue
		}
		if sp.packetType == PacketData && notifiable != nil {
			notifiable.NotifyPacketDropped(idx)
		}
		delete(m.sentPackets, idx)
	}
}

func (m *AckManager) notifyDelivered(packetIndex Seq, notifiable PacketNotifiable) {
	if notifiable != nil {
		notifiable.NotifyPacketDelivered(packetIndex)
	}
}

func (m *AckManager) lastReceivedPacketIndex() Seq {
	return m.receivedPackets.sequenceNum() - 1
}

func (m *AckManager) ackBitfield() uint32 {
	last := m.lastReceivedPacketIndex()
	var bitfield uint32
	var mask uint32 = 1
	for i := Seq(1); i <= RedundantPacketAcksSize; i++ {
		if m.receivedPackets.exists(last - i) {
			bitfield |= mask
		}
		mask <<= 1
	}
	return bitfield
}
