package channelio

import (
	"fmt"
	"sort"
	"time"

	"naia/bitio"
	"naia/internal/wire"
	"naia/protocol"
)

// sentRecord tracks, for one outgoing packet, which reliable channel
// message indices it carried, so a later delivered/dropped
// notification for that packet can be routed back to the right senders.
type sentRecord struct {
	channel ChannelID
	indices []uint16
}

// Manager wires together every declared channel's sender and receiver and
// drives the packet-level message stream: a leading continuation bit
// before each channel's chunk, a final 0 bit to terminate. It implements
// wire.PacketNotifiable so the connection's AckManager can route
// delivery/loss notifications straight to the channels that need them.
type Manager struct {
	reg     *protocol.MessageRegistry
	configs map[ChannelID]Config

	unreliableSenders map[ChannelID]*UnreliableSender
	reliableSenders   map[ChannelID]*ReliableSender
	tickSenders       map[ChannelID]*TickBufferedSender

	unreliableReceivers map[ChannelID]*UnreliableReceiver
	sequencedReceivers  map[ChannelID]*UnreliableSequencedReceiver
	unorderedReceivers  map[ChannelID]*ReliableUnorderedReceiver
	orderedReceivers    map[ChannelID]*ReliableOrderedReceiver
	tickReceivers       map[ChannelID]*TickBufferedReceiver

	sentPackets map[wire.Seq][]sentRecord
}

var _ wire.PacketNotifiable = (*Manager)(nil)

// NewManager returns an empty channel manager bound to reg.
func NewManager(reg *protocol.MessageRegistry) *Manager {
	return &Manager{
		reg:                 reg,
		configs:             make(map[ChannelID]Config),
		unreliableSenders:   make(map[ChannelID]*UnreliableSender),
		reliableSenders:     make(map[ChannelID]*ReliableSender),
		tickSenders:         make(map[ChannelID]*TickBufferedSender),
		unreliableReceivers: make(map[ChannelID]*UnreliableReceiver),
		sequencedReceivers:  make(map[ChannelID]*UnreliableSequencedReceiver),
		unorderedReceivers:  make(map[ChannelID]*ReliableUnorderedReceiver),
		orderedReceivers:    make(map[ChannelID]*ReliableOrderedReceiver),
		tickReceivers:       make(map[ChannelID]*TickBufferedReceiver),
		sentPackets:         make(map[wire.Seq][]sentRecord),
	}
}

// RegisterChannel declares a channel and builds its sender/receiver pair
// according to its mode.
func (m *Manager) RegisterChannel(cfg Config) {
	m.configs[cfg.ID] = cfg
	switch cfg.Mode {
	case Unreliable:
		m.unreliableSenders[cfg.ID] = NewUnreliableSender(cfg.ID, m.reg)
		m.unreliableReceivers[cfg.ID] = NewUnreliableReceiver()
	case UnreliableSequenced:
		m.unreliableSenders[cfg.ID] = NewUnreliableSequencedSender(cfg.ID, m.reg)
		m.sequencedReceivers[cfg.ID] = NewUnreliableSequencedReceiver()
	case ReliableUnordered:
		m.reliableSenders[cfg.ID] = NewReliableSender(cfg.ID, m.reg, cfg.ResendFactor)
		m.unorderedReceivers[cfg.ID] = NewReliableUnorderedReceiver(0)
	case ReliableOrdered:
		m.reliableSenders[cfg.ID] = NewReliableSender(cfg.ID, m.reg, cfg.ResendFactor)
		m.orderedReceivers[cfg.ID] = NewReliableOrderedReceiver()
	case TickBuffered:
		m.tickSenders[cfg.ID] = NewTickBufferedSender(cfg.ID, m.reg)
		m.tickReceivers[cfg.ID] = NewTickBufferedReceiver()
	}
}

// Enqueue schedules m for sending on channelID. tick is only consulted
// for TickBuffered channels.
func (m *Manager) Enqueue(channelID ChannelID, tick wire.Seq, msg protocol.Message) error {
	cfg, ok := m.configs[channelID]
	if !ok {
		return fmt.Errorf("channelio: channel %d not registered", channelID)
	}
	switch cfg.Mode {
	case Unreliable, UnreliableSequenced:
		m.unreliableSenders[channelID].Enqueue(msg)
	case ReliableUnordered, ReliableOrdered:
		m.reliableSenders[channelID].Enqueue(msg)
	case TickBuffered:
		m.tickSenders[channelID].Enqueue(tick, msg)
	}
	return nil
}

// sortedChannelIDs returns every registered channel id in ascending
// order, so the wire stream has a deterministic channel ordering.
func (m *Manager) sortedChannelIDs() []ChannelID {
	ids := make([]ChannelID, 0, len(m.configs))
	for id := range m.configs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// WritePacket writes every channel with something to send into w, each
// preceded by a continuation bit (1 = chunk follows, 0 = stream ends),
// and records which reliable message indices this outgoing packet carries
// under packetIndex for later delivery/loss routing. Tick-buffered messages
// are not recorded.
func (m *Manager) WritePacket(packetIndex wire.Seq, now time.Time, rtt time.Duration, receivableTick wire.Seq, bitsFree int, w bitio.BitSink) error {
	var records []sentRecord

	for _, id := range m.sortedChannelIDs() {
		cfg := m.configs[id]
		terminatorReserve := 1 // the final 0 continuation bit
		budget := bitsFree - terminatorReserve
		if budget <= 0 {
			break
		}

		switch cfg.Mode {
		case Unreliable, UnreliableSequenced:
			s := m.unreliableSenders[id]
			if !s.Pending() {
				continue
			}
			msgs := s.Drain(budget)
			if len(msgs) == 0 {
				continue
			}
			if err := writeContinued(w, true); err != nil {
				return err
			}
			if err := writeChunk(w, m.reg, id, msgs); err != nil {
				return err
			}
			bitsFree -= measureChunk(m.reg, id, msgs) + 1

		case ReliableUnordered, ReliableOrdered:
			s := m.reliableSenders[id]
			if !s.Pending() {
				continue
			}
			indices := s.Drain(now, rtt, budget)
			if len(indices) == 0 {
				continue
			}
			if err := writeContinued(w, true); err != nil {
				return err
			}
			if err := s.WriteChunk(w); err != nil {
				return err
			}
			bitsFree -= measureChunk(m.reg, id, s.lastChunk) + 1
			records = append(records, sentRecord{channel: id, indices: indices})

		case TickBuffered:
			s := m.tickSenders[id]
			if !s.Pending() {
				continue
			}
			msgs := s.Drain(receivableTick, budget)
			if len(msgs) == 0 {
				continue
			}
			if err := writeContinued(w, true); err != nil {
				return err
			}
			if err := s.WriteChunk(w); err != nil {
				return err
			}
			bitsFree -= measureTickChunk(m.reg, id, s.lastSent) + 1
		}
	}

	if err := writeContinued(w, false); err != nil {
		return err
	}
	if len(records) > 0 {
		m.sentPackets[packetIndex] = records
	}
	return nil
}

func writeContinued(w bitio.BitSink, more bool) error {
	return bitio.WriteBool(w, more)
}

// ReadPacket reads the message stream out of r, dispatching each
// delivered message into the appropriate channel's receiver.
func (m *Manager) ReadPacket(r *bitio.Reader, currentTick wire.Seq) error {
	for {
		more, err := bitio.ReadBool(r)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}

		// Peek the channel id without consuming, so we know which mode
		// (and therefore which chunk format) to decode with.
		id, err := peekChannelID(r)
		if err != nil {
			return err
		}
		cfg, ok := m.configs[id]
		if !ok {
			return fmt.Errorf("channelio: received chunk for unregistered channel %d", id)
		}

		switch cfg.Mode {
		case Unreliable:
			_, msgs, err := readChunk(r, m.reg)
			if err != nil {
				return err
			}
			recv := m.unreliableReceivers[id]
			for _, im := range msgs {
				recv.Receive(im.Index, im.Msg)
			}
		case UnreliableSequenced:
			_, msgs, err := readChunk(r, m.reg)
			if err != nil {
				return err
			}
			recv := m.sequencedReceivers[id]
			for _, im := range msgs {
				recv.Receive(im.Index, im.Msg)
			}
		case ReliableUnordered:
			_, msgs, err := readChunk(r, m.reg)
			if err != nil {
				return err
			}
			recv := m.unorderedReceivers[id]
			for _, im := range msgs {
				recv.Receive(im.Index, im.Msg)
			}
		case ReliableOrdered:
			_, msgs, err := readChunk(r, m.reg)
			if err != nil {
				return err
			}
			recv := m.orderedReceivers[id]
			for _, im := range msgs {
				recv.Receive(im.Index, im.Msg)
			}
		case TickBuffered:
			_, entries, err := readTickChunk(r, m.reg)
			if err != nil {
				return err
			}
			recv := m.tickReceivers[id]
			for _, e := range entries {
				recv.Receive(e.tick, e.msg.Msg)
			}
			_ = currentTick // delivery timing is driven separately via DrainTick
		}
	}
}

// peekChannelID reads the channel id field that leads every chunk
// format without consuming the reader, by cloning its position.
func peekChannelID(r *bitio.Reader) (ChannelID, error) {
	snapshot := *r
	id, err := bitio.ReadU16(&snapshot)
	if err != nil {
		return 0, err
	}
	return ChannelID(id), nil
}

// DrainUnreliable returns messages delivered since the last call for an
// Unreliable channel.
func (m *Manager) DrainUnreliable(id ChannelID) []protocol.Message {
	return m.unreliableReceivers[id].Drain()
}

// DrainSequenced returns messages delivered since the last call for an
// UnreliableSequenced channel.
func (m *Manager) DrainSequenced(id ChannelID) []protocol.Message {
	return m.sequencedReceivers[id].Drain()
}

// DrainUnordered returns messages delivered since the last call for a
// ReliableUnordered channel.
func (m *Manager) DrainUnordered(id ChannelID) []protocol.Message {
	return m.unorderedReceivers[id].Drain()
}

// DrainOrdered returns messages delivered since the last call for a
// ReliableOrdered channel.
func (m *Manager) DrainOrdered(id ChannelID) []protocol.Message {
	return m.orderedReceivers[id].Drain()
}

// DrainTick returns messages due for delivery on a TickBuffered channel
// at currentTick.
func (m *Manager) DrainTick(id ChannelID, currentTick wire.Seq) []protocol.Message {
	return m.tickReceivers[id].DrainAt(currentTick)
}

// ReliableBufferedCount sums the buffered-and-unacked message count across
// every reliable sender, for metrics reporting.
func (m *Manager) ReliableBufferedCount() int {
	total := 0
	for _, s := range m.reliableSenders {
		total += s.Count()
	}
	return total
}

// NotifyPacketDelivered implements wire.PacketNotifiable: it releases
// every reliable message this packet carried from its sender's resend
// buffer.
func (m *Manager) NotifyPacketDelivered(packetIndex wire.Seq) {
	records, ok := m.sentPackets[packetIndex]
	if !ok {
		return
	}
	delete(m.sentPackets, packetIndex)
	for _, rec := range records {
		if s, ok := m.reliableSenders[rec.channel]; ok {
			s.NotifyDelivered(rec.indices)
		}
	}
}

// NotifyPacketDropped implements wire.PacketNotifiable: it marks every
// reliable message this packet carried as no longer in flight, so it's
// eligible for immediate resend on the next packet rather than waiting
// out the normal resend timer.
func (m *Manager) NotifyPacketDropped(packetIndex wire.Seq) {
	records, ok := m.sentPackets[packetIndex]
	if !ok {
		return
	}
	delete(m.sentPackets, packetIndex)
	for _, rec := range records {
		if s, ok := m.reliableSenders[rec.channel]; ok {
			s.NotifyDropped(rec.indices)
		}
	}
}
