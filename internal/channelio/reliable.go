package channelio

import (
	"sort"
	"time"

	"naia/bitio"
	"naia/internal/wire"
	"naia/protocol"
)

// reliableEntry tracks one buffered reliable message awaiting
// acknowledgement.
type reliableEntry struct {
	msg       indexedMessage
	firstSent time.Time
	lastSent  time.Time
	inFlight  bool // true while written into an unacked packet
}

// ReliableSender buffers messages until acknowledged, resending any that
// have gone unacked for longer than rtt*ResendFactor. The same sender
// implementation serves both ReliableUnordered and ReliableOrdered
// channels — the reliability discipline (buffer/resend/release-on-ack)
// is identical; only the receiver's delivery ordering differs.
type ReliableSender struct {
	id           ChannelID
	reg          *protocol.MessageRegistry
	resendFactor float64
	nextIdx      uint16
	buffered     []*reliableEntry
	lastChunk    []indexedMessage
}

// NewReliableSender returns a sender for the given channel.
func NewReliableSender(id ChannelID, reg *protocol.MessageRegistry, resendFactor float64) *ReliableSender {
	if resendFactor <= 0 {
		resendFactor = DefaultResendFactor
	}
	return &ReliableSender{id: id, reg: reg, resendFactor: resendFactor}
}

// Count returns how many messages are currently buffered awaiting
// acknowledgement, for metrics reporting.
func (s *ReliableSender) Count() int { return len(s.buffered) }

// Enqueue buffers a new message for reliable delivery.
func (s *ReliableSender) Enqueue(m protocol.Message) {
	s.buffered = append(s.buffered, &reliableEntry{
		msg: indexedMessage{Index: s.nextIdx, Msg: m},
	})
	s.nextIdx++
}

// Drain selects which buffered messages to write into the next outgoing
// packet: anything never sent, plus anything whose resend timer has
// elapsed, up to bitsFree. Returns the selected messages' indices, so the
// caller can record them in the packet's sent record for later ACK/NACK
// bookkeeping; the selected messages themselves are kept for WriteChunk.
func (s *ReliableSender) Drain(now time.Time, rtt time.Duration, bitsFree int) []uint16 {
	due := func(e *reliableEntry) bool {
		if !e.inFlight {
			return true
		}
		return now.Sub(e.lastSent) >= time.Duration(float64(rtt)*s.resendFactor)
	}

	var candidate []indexedMessage
	var indices []uint16
	for _, e := range s.buffered {
		if !due(e) {
			continue
		}
		next := append(append([]indexedMessage{}, candidate...), e.msg)
		if measureChunk(s.reg, s.id, next) > bitsFree {
			break
		}
		candidate = next
		indices = append(indices, e.msg.Index)
		if !e.inFlight {
			e.firstSent = now
		}
		e.lastSent = now
		e.inFlight = true
	}
	s.lastChunk = candidate
	return indices
}

// WriteChunk encodes the messages selected by the most recent Drain call.
func (s *ReliableSender) WriteChunk(w bitio.BitSink) error {
	return writeChunk(w, s.reg, s.id, s.lastChunk)
}

// NotifyDelivered releases buffered messages that have now been
// acknowledged.
func (s *ReliableSender) NotifyDelivered(indices []uint16) {
	if len(indices) == 0 {
		return
	}
	acked := make(map[uint16]bool, len(indices))
	for _, i := range indices {
		acked[i] = true
	}
	kept := s.buffered[:0]
	for _, e := range s.buffered {
		if !acked[e.msg.Index] {
			kept = append(kept, e)
		}
	}
	s.buffered = kept
}

// NotifyDropped marks buffered messages as no longer in flight so they
// become immediately eligible for resend, without waiting out the
// resend timer.
func (s *ReliableSender) NotifyDropped(indices []uint16) {
	if len(indices) == 0 {
		return
	}
	dropped := make(map[uint16]bool, len(indices))
	for _, i := range indices {
		dropped[i] = true
	}
	for _, e := range s.buffered {
		if dropped[e.msg.Index] {
			e.inFlight = false
		}
	}
}

// Pending reports whether anything remains buffered.
func (s *ReliableSender) Pending() bool { return len(s.buffered) > 0 }

// ReliableUnorderedReceiver tolerates gaps and delivers each message
// exactly once, in whatever order it arrives, using a bounded seen-set
// to reject duplicate resends.
type ReliableUnorderedReceiver struct {
	windowSize int
	seen       map[uint16]bool
	floor      uint16
	hasFloor   bool
	delivered  []protocol.Message
}

// NewReliableUnorderedReceiver returns a receiver tolerating gaps across
// windowSize outstanding messages.
func NewReliableUnorderedReceiver(windowSize int) *ReliableUnorderedReceiver {
	if windowSize <= 0 {
		windowSize = 1024
	}
	return &ReliableUnorderedReceiver{windowSize: windowSize, seen: make(map[uint16]bool)}
}

// Receive delivers m immediately unless index has already been seen
// (a duplicate arriving from a resend after the original was already
// acked and delivered).
func (r *ReliableUnorderedReceiver) Receive(index uint16, m protocol.Message) {
	if r.seen[index] {
		return
	}
	r.seen[index] = true
	r.delivered = append(r.delivered, m)

	if !r.hasFloor {
		r.floor = index
		r.hasFloor = true
	}
	// Age out seen-set entries far behind the window so it doesn't grow
	// without bound across a long-lived connection.
	if wire.SequenceGreaterThan(r.floor, index) {
		r.floor = index
	}
	for k := range r.seen {
		if int(wire.WrappingDiff(k, index)) > r.windowSize {
			delete(r.seen, k)
		}
	}
}

// Drain returns and clears all messages delivered since the last Drain.
func (r *ReliableUnorderedReceiver) Drain() []protocol.Message {
	out := r.delivered
	r.delivered = nil
	return out
}

// ReliableOrderedReceiver buffers out-of-order arrivals and releases a
// contiguous prefix in sender order.
type ReliableOrderedReceiver struct {
	next    uint16
	started bool
	pending map[uint16]protocol.Message
}

// NewReliableOrderedReceiver returns a fresh ordered receiver.
func NewReliableOrderedReceiver() *ReliableOrderedReceiver {
	return &ReliableOrderedReceiver{pending: make(map[uint16]protocol.Message)}
}

// Receive buffers an arrival, tracking it for in-order release.
func (r *ReliableOrderedReceiver) Receive(index uint16, m protocol.Message) {
	if !r.started {
		r.next = index
		r.started = true
	}
	if wire.WrappingDiff(r.next, index) < 0 {
		return // already delivered
	}
	r.pending[index] = m
}

// Drain releases the longest contiguous run starting at the next
// expected index, in order.
func (r *ReliableOrderedReceiver) Drain() []protocol.Message {
	var out []protocol.Message
	for {
		m, ok := r.pending[r.next]
		if !ok {
			break
		}
		out = append(out, m)
		delete(r.pending, r.next)
		r.next++
	}
	return out
}

// pendingIndices returns the currently buffered indices sorted, exposed
// for tests asserting gap-tolerant buffering behavior.
func (r *ReliableOrderedReceiver) pendingIndices() []uint16 {
	idxs := make([]uint16, 0, len(r.pending))
	for k := range r.pending {
		idxs = append(idxs, k)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	return idxs
}
