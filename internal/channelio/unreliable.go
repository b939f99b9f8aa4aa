package channelio

import (
	"naia/internal/wire"
	"naia/protocol"
)

// UnreliableSender queues messages and sends each at most once, on the
// next packet that has room; anything that doesn't fit is dropped, not
// retried.
type UnreliableSender struct {
	id      ChannelID
	reg     *protocol.MessageRegistry
	queue   []indexedMessage
	nextIdx uint16
}

// NewUnreliableSender returns a sender for the given channel.
func NewUnreliableSender(id ChannelID, reg *protocol.MessageRegistry) *UnreliableSender {
	return &UnreliableSender{id: id, reg: reg}
}

// Enqueue schedules a message to be sent on the next available packet.
func (s *UnreliableSender) Enqueue(m protocol.Message) {
	s.queue = append(s.queue, indexedMessage{Index: s.nextIdx, Msg: m})
	s.nextIdx++
}

// Pending reports whether there is anything queued to send.
func (s *UnreliableSender) Pending() bool { return len(s.queue) > 0 }

// Drain returns as many queued messages as fit within bitsFree, dropping
// anything left over (unreliable channels never carry a message into a
// later packet).
func (s *UnreliableSender) Drain(bitsFree int) []indexedMessage {
	var taken []indexedMessage
	for len(s.queue) > 0 {
		candidate := append(append([]indexedMessage{}, taken...), s.queue[0])
		if measureChunk(s.reg, s.id, candidate) > bitsFree {
			break
		}
		taken = candidate
		s.queue = s.queue[1:]
	}
	// Everything else queued this tick that didn't fit is dropped outright,
	// per the Unreliable mode's no-retry contract.
	s.queue = nil
	return taken
}

// UnreliableReceiver delivers messages in arrival order with no
// filtering.
type UnreliableReceiver struct {
	delivered []protocol.Message
}

// NewUnreliableReceiver returns a receiver that delivers everything it
// sees, in arrival order.
func NewUnreliableReceiver() *UnreliableReceiver { return &UnreliableReceiver{} }

// Receive accepts an incoming message.
func (r *UnreliableReceiver) Receive(_ uint16, m protocol.Message) {
	r.delivered = append(r.delivered, m)
}

// Drain returns and clears all messages delivered since the last Drain.
func (r *UnreliableReceiver) Drain() []protocol.Message {
	out := r.delivered
	r.delivered = nil
	return out
}

// UnreliableSequencedSender behaves exactly like UnreliableSender; the
// sequencing discipline lives entirely on the receiving side.
type UnreliableSequencedSender = UnreliableSender

// NewUnreliableSequencedSender is an alias constructor, kept distinct
// from NewUnreliableSender for call-site clarity even though the
// underlying type is shared.
func NewUnreliableSequencedSender(id ChannelID, reg *protocol.MessageRegistry) *UnreliableSequencedSender {
	return NewUnreliableSender(id, reg)
}

// UnreliableSequencedReceiver delivers a message only if its sequence
// number is newer than the last one delivered, using wrapping
// comparison so the 16-bit index can roll over indefinitely.
type UnreliableSequencedReceiver struct {
	hasLast   bool
	lastIndex uint16
	delivered []protocol.Message
}

// NewUnreliableSequencedReceiver returns a fresh sequenced receiver.
func NewUnreliableSequencedReceiver() *UnreliableSequencedReceiver {
	return &UnreliableSequencedReceiver{}
}

// Receive accepts an incoming message, dropping it if it is not newer
// than the last one delivered.
func (r *UnreliableSequencedReceiver) Receive(index uint16, m protocol.Message) {
	if r.hasLast && !wire.SequenceGreaterThan(r.lastIndex, index) {
		return
	}
	r.lastIndex = index
	r.hasLast = true
	r.delivered = append(r.delivered, m)
}

// Drain returns and clears all messages delivered since the last Drain.
func (r *UnreliableSequencedReceiver) Drain() []protocol.Message {
	out := r.delivered
	r.delivered = nil
	return out
}
