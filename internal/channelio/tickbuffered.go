package channelio

import (
	"naia/bitio"
	"naia/internal/wire"
	"naia/protocol"
)

// tickEntry is one message buffered for tick-synchronized delivery,
// tagged with the tick it was produced on.
type tickEntry struct {
	tick wire.Seq
	msg  indexedMessage
}

// TickBufferedSender retains an enqueued message, tagged with the tick it
// was produced on, and keeps resending it on every outgoing packet until
// the peer's receivable tick passes the message's tick — at that point
// either the peer already has it or it's too late to matter, so it's
// dropped rather than resent forever.
type TickBufferedSender struct {
	id       ChannelID
	reg      *protocol.MessageRegistry
	nextIdx  uint16
	buffered []tickEntry
	lastSent []tickEntry
}

// NewTickBufferedSender returns a sender for the given channel.
func NewTickBufferedSender(id ChannelID, reg *protocol.MessageRegistry) *TickBufferedSender {
	return &TickBufferedSender{id: id, reg: reg}
}

// Enqueue tags m with the client's current sending tick and buffers it.
func (s *TickBufferedSender) Enqueue(tick wire.Seq, m protocol.Message) {
	s.buffered = append(s.buffered, tickEntry{
		tick: tick,
		msg:  indexedMessage{Index: s.nextIdx, Msg: m},
	})
	s.nextIdx++
}

// Drain prunes anything the receivable tick has already passed, then
// selects as many of the remaining entries as fit within bitsFree for
// the next outgoing packet. Everything selected stays buffered — tick
// buffered messages are resent every tick while still relevant, there
// is no ack-driven release.
func (s *TickBufferedSender) Drain(receivableTick wire.Seq, bitsFree int) []indexedMessage {
	kept := s.buffered[:0]
	for _, e := range s.buffered {
		if wire.WrappingDiff(e.tick, receivableTick) > 0 {
			// receivableTick is after e.tick: the peer has already moved
			// past the tick this message targeted.
			continue
		}
		kept = append(kept, e)
	}
	s.buffered = kept

	var selected []tickEntry
	for _, e := range s.buffered {
		candidate := append(append([]tickEntry{}, selected...), e)
		if measureTickChunk(s.reg, s.id, candidate) > bitsFree {
			break
		}
		selected = candidate
	}
	s.lastSent = selected

	out := make([]indexedMessage, len(selected))
	for i, e := range selected {
		out[i] = e.msg
	}
	return out
}

// WriteChunk encodes the entries selected by the most recent Drain call,
// each tagged with its target tick.
func (s *TickBufferedSender) WriteChunk(w bitio.BitSink) error {
	return writeTickChunk(w, s.reg, s.id, s.lastSent)
}

// Pending reports whether anything remains buffered.
func (s *TickBufferedSender) Pending() bool { return len(s.buffered) > 0 }

// writeTickChunk encodes a tick-buffered channel's chunk: channel id,
// entry count, then each entry's absolute tick, index, and message body.
// Entries aren't necessarily monotonic in tick (resends from several
// ticks back may coexist), so ticks are written in full rather than
// delta-encoded against a running cursor.
func writeTickChunk(w bitio.BitSink, reg *protocol.MessageRegistry, channelID ChannelID, entries []tickEntry) error {
	if err := bitio.WriteU16(w, uint16(channelID)); err != nil {
		return err
	}
	if err := bitio.WriteU7Varint(w, uint64(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := bitio.WriteU16(w, e.tick); err != nil {
			return err
		}
		if err := bitio.WriteU16(w, e.msg.Index); err != nil {
			return err
		}
		if err := reg.WriteMessage(w, e.msg.Msg); err != nil {
			return err
		}
	}
	return nil
}

// readTickChunk is the inverse of writeTickChunk.
func readTickChunk(r *bitio.Reader, reg *protocol.MessageRegistry) (ChannelID, []tickEntry, error) {
	chID, err := bitio.ReadU16(r)
	if err != nil {
		return 0, nil, err
	}
	count, err := bitio.ReadU7Varint(r)
	if err != nil {
		return 0, nil, err
	}
	entries := make([]tickEntry, 0, count)
	for i := 0; i < int(count); i++ {
		tick, err := bitio.ReadU16(r)
		if err != nil {
			return 0, nil, err
		}
		idx, err := bitio.ReadU16(r)
		if err != nil {
			return 0, nil, err
		}
		msg, err := reg.ReadMessage(r)
		if err != nil {
			return 0, nil, err
		}
		entries = append(entries, tickEntry{tick: tick, msg: indexedMessage{Index: idx, Msg: msg}})
	}
	return ChannelID(chID), entries, nil
}

func measureTickChunk(reg *protocol.MessageRegistry, channelID ChannelID, entries []tickEntry) int {
	c := bitio.NewCounter(0)
	_ = writeTickChunk(c, reg, channelID, entries)
	return c.BitsWritten()
}

// TickBufferedReceiver delivers each message on the tick it was tagged
// with, buffering entries tagged for a tick still in the future and
// silently dropping entries tagged for a tick already behind the
// server's current one.
type TickBufferedReceiver struct {
	pending map[wire.Seq][]protocol.Message
}

// NewTickBufferedReceiver returns a fresh tick-buffered receiver.
func NewTickBufferedReceiver() *TickBufferedReceiver {
	return &TickBufferedReceiver{pending: make(map[wire.Seq][]protocol.Message)}
}

// Receive buffers m under the tick it was tagged with; whether it's
// deliverable yet is decided later by DrainAt.
func (r *TickBufferedReceiver) Receive(tick wire.Seq, m protocol.Message) {
	r.pending[tick] = append(r.pending[tick], m)
}

// DrainAt advances the receiver to currentTick: messages tagged for
// currentTick are delivered, messages tagged for a tick still ahead of
// currentTick are left buffered, and anything tagged for a tick already
// behind currentTick is dropped.
func (r *TickBufferedReceiver) DrainAt(currentTick wire.Seq) []protocol.Message {
	for tick := range r.pending {
		if tick == currentTick {
			continue
		}
		if wire.SequenceGreaterThan(currentTick, tick) {
			// tick is still ahead of currentTick: not yet due.
			continue
		}
		delete(r.pending, tick)
	}
	out := r.pending[currentTick]
	delete(r.pending, currentTick)
	return out
}
