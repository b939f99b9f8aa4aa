package naia

import (
	"time"

	"naia/bitio"
	"naia/internal/channelio"
	"naia/internal/ids"
	"naia/internal/replication"
	"naia/internal/wire"
	"naia/protocol"
)

// Role distinguishes which side of a connection object this is: a
// server's per-user connection writes the authoritative server_tick
// field on every outgoing Data packet: a client's singleton connection
// omits it, per spec.md §6's wire framing.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// Connection is the single mutable state machine spec.md §5 describes:
// one per user on the server, a singleton on the client, holding every
// piece of per-peer state and driven entirely by explicit calls from the
// owning Client/Server's Update(now) loop. It is never touched from a
// goroutine.
type Connection struct {
	role Role
	user ids.UserKey

	ack      *wire.AckManager
	channels *channelio.Manager
	msgReg   *protocol.MessageRegistry
	compReg  *protocol.ComponentRegistry

	// scope is this connection's sender-side view of which entities and
	// components are currently replicated to its peer.
	scope  *replication.WorldChannel
	action *replication.ActionSender

	// outgoingRemote resolves a RemoteEntity this side assigned (via
	// scope.SpawnEntity) back to the GlobalEntity it names, so a
	// delivered SpawnEntity/InsertComponent/DespawnEntity/RemoveComponent
	// action can be confirmed against scope's lifecycle state.
	outgoingRemote map[ids.RemoteEntity]ids.GlobalEntity

	// incomingRemote resolves a RemoteEntity the peer assigned (as seen
	// in decoded actions/updates from them) to the GlobalEntity this side
	// materialized locally via ecs.SpawnEntity when the action arrived.
	incomingRemote map[ids.RemoteEntity]ids.GlobalEntity

	ecs World

	// sentActions records, for each outgoing packet, the actions that
	// packet carried, so a later delivered/dropped notification (keyed
	// only by packet index) can be routed to action's own sender.
	sentActions map[wire.Seq][]replication.Action

	rtt        time.Duration
	lastRecvAt time.Time
	lastSendAt time.Time
	events     []Event

	// deliveredCount/droppedCount tally every PacketData packet's eventual
	// fate, for PacketLoss's ratio.
	deliveredCount uint64
	droppedCount   uint64
}

// NewConnection returns a fresh Connection for one peer. ecs is the
// application's World adapter; msgReg/compReg are shared, immutable
// registries built once at startup.
func NewConnection(role Role, user ids.UserKey, cfg Config, msgReg *protocol.MessageRegistry, compReg *protocol.ComponentRegistry, ecs World) *Connection {
	channels := channelio.NewManager(msgReg)
	for _, ch := range cfg.Channels {
		channels.RegisterChannel(ch)
	}

	c := &Connection{
		role:           role,
		user:           user,
		ack:            wire.NewAckManager(),
		channels:       channels,
		msgReg:         msgReg,
		compReg:        compReg,
		scope:          replication.NewWorldChannel(),
		action:         replication.NewActionSender(replication.DefaultActionResendFactor),
		outgoingRemote: make(map[ids.RemoteEntity]ids.GlobalEntity),
		incomingRemote: make(map[ids.RemoteEntity]ids.GlobalEntity),
		ecs:            ecs,
		sentActions:    make(map[wire.Seq][]replication.Action),
	}

	for _, kind := range compReg.Kinds() {
		if n, ok := compReg.PropertyCountOf(kind); ok {
			c.RegisterComponentKind(ids.ComponentKind(kind), n)
		}
	}

	return c
}

// RegisterComponentKind must be called once per component kind before
// any entity carrying it is spawned into this connection's scope, so
// diff masks are sized correctly.
func (c *Connection) RegisterComponentKind(kind ids.ComponentKind, propertyCount int) {
	c.scope.RegisterComponentKind(kind, propertyCount)
}

// RTT returns the connection's current round-trip estimate, fed by the
// owning Client/Server's ping/pong cadence.
func (c *Connection) RTT() time.Duration { return c.rtt }

// SetRTT updates the estimate used to pace reliable resends.
func (c *Connection) SetRTT(rtt time.Duration) { c.rtt = rtt }

// PacketLoss returns the fraction of this connection's Data packets
// that have been confirmed dropped rather than delivered, out of every
// Data packet whose fate is known so far. Returns 0 until at least one
// packet has been accounted for.
func (c *Connection) PacketLoss() float64 {
	total := c.deliveredCount + c.droppedCount
	if total == 0 {
		return 0
	}
	return float64(c.droppedCount) / float64(total)
}

// ReliableBuffered returns how many reliable messages are currently
// buffered awaiting acknowledgement across every channel.
func (c *Connection) ReliableBuffered() int { return c.channels.ReliableBufferedCount() }

// EntitiesInScope returns how many entities are currently replicated to
// this connection's peer.
func (c *Connection) EntitiesInScope() int { return c.scope.EntityCount() }

// PendingActions returns how many entity actions are currently buffered
// awaiting acknowledgement.
func (c *Connection) PendingActions() int { return c.action.Count() }

// Idle reports how long it has been since a packet was last heard from
// this peer, for the owning Client/Server to compare against
// disconnection_timeout_duration.
func (c *Connection) Idle(now time.Time) time.Duration { return now.Sub(c.lastRecvAt) }

// SinceLastSend reports how long it has been since this side last sent
// anything, for heartbeat_interval comparisons.
func (c *Connection) SinceLastSend(now time.Time) time.Duration { return now.Sub(c.lastSendAt) }

// DrainEvents returns and clears every application event this
// connection has accumulated since the last call.
func (c *Connection) DrainEvents() []Event {
	out := c.events
	c.events = nil
	return out
}

func (c *Connection) emit(e Event) { c.events = append(c.events, e) }

// EnqueueMessage schedules msg for sending on channel.
func (c *Connection) EnqueueMessage(channel channelio.ChannelID, tick wire.Seq, msg protocol.Message) error {
	return c.channels.Enqueue(channel, tick, msg)
}

// DrainMessages returns every message delivered since the last call on
// channel, in the order its reliability mode guarantees.
func (c *Connection) DrainMessages(mode channelio.Mode, channel channelio.ChannelID, currentTick wire.Seq) []protocol.Message {
	switch mode {
	case channelio.Unreliable:
		return c.channels.DrainUnreliable(channel)
	case channelio.UnreliableSequenced:
		return c.channels.DrainSequenced(channel)
	case channelio.ReliableUnordered:
		return c.channels.DrainUnordered(channel)
	case channelio.ReliableOrdered:
		return c.channels.DrainOrdered(channel)
	case channelio.TickBuffered:
		return c.channels.DrainTick(channel, currentTick)
	default:
		return nil
	}
}

// SpawnEntity brings entity into this connection's replicated scope
// with the given initial component kinds, enqueuing the SpawnEntity
// action that tells the peer to materialize it. The components' full
// state follows as the first selected update once the action itself is
// acknowledged (see DESIGN.md's "Newly inserted components" entry).
func (c *Connection) SpawnEntity(entity ids.GlobalEntity, kinds []ids.ComponentKind) {
	remote := c.scope.SpawnEntity(entity, kinds)
	c.outgoingRemote[remote] = entity
	c.action.Enqueue(replication.Action{
		Kind:       replication.ActionSpawnEntity,
		Entity:     remote,
		Components: kinds,
	})
}

// DespawnEntity begins removing entity from this connection's scope.
func (c *Connection) DespawnEntity(entity ids.GlobalEntity) {
	remote, ok := c.scope.RemoteOf(entity)
	if !ok {
		return
	}
	c.scope.DespawnEntity(entity)
	c.action.Enqueue(replication.Action{
		Kind:   replication.ActionDespawnEntity,
		Entity: remote,
	})
}

// InsertComponent begins replicating a new component on an
// already-in-scope entity.
func (c *Connection) InsertComponent(entity ids.GlobalEntity, kind ids.ComponentKind) {
	remote, ok := c.scope.RemoteOf(entity)
	if !ok {
		return
	}
	c.scope.InsertComponent(entity, kind)
	c.action.Enqueue(replication.Action{
		Kind:      replication.ActionInsertComponent,
		Entity:    remote,
		Component: kind,
	})
}

// RemoveComponent begins removing a replicated component.
func (c *Connection) RemoveComponent(entity ids.GlobalEntity, kind ids.ComponentKind) {
	remote, ok := c.scope.RemoteOf(entity)
	if !ok {
		return
	}
	c.scope.RemoveComponent(entity, kind)
	c.action.Enqueue(replication.Action{
		Kind:      replication.ActionRemoveComponent,
		Entity:    remote,
		Component: kind,
	})
}

// MarkDirty flags a property of entity's component kind changed, making
// it eligible for the next PrepareUpdates selection.
func (c *Connection) MarkDirty(entity ids.GlobalEntity, kind ids.ComponentKind, propIndex int) {
	c.scope.MarkDirty(entity, kind, propIndex)
}

// WriteDataPacket encodes one outgoing Data packet into w: header,
// optional server_tick, messages, updates, actions, in spec.md §6's
// exact order. serverTick is only written when role is RoleServer.
// receivableTick tells TickBuffered channels which commands are still
// worth sending. w's capacity (set via bitio.NewWriter) is the packet's
// hard MTU budget: each stream consults w.BitsFree() as it writes, and
// anything that doesn't fit is deferred rather than overflowing it.
func (c *Connection) WriteDataPacket(now time.Time, serverTick, receivableTick wire.Seq, w *bitio.Writer) error {
	packetIndex := c.ack.NextSenderPacketIndex()
	header := c.ack.NextOutgoingHeader(wire.PacketData)
	if err := header.Write(w); err != nil {
		return err
	}

	if c.role == RoleServer {
		if err := bitio.WriteU16(w, serverTick); err != nil {
			return err
		}
	}

	if err := c.channels.WritePacket(packetIndex, now, c.rtt, receivableTick, w.BitsFree(), w); err != nil {
		return err
	}

	updates := c.scope.PrepareUpdates(packetIndex)
	deferred, err := writeUpdates(w, c.ecs, updates, w.BitsFree())
	if err != nil {
		return err
	}
	if len(deferred) > 0 {
		c.scope.Requeue(packetIndex, deferred)
	}

	actions := c.action.Drain(now, c.rtt, w.BitsFree())
	if err := c.action.WriteChunk(w); err != nil {
		return err
	}
	if len(actions) > 0 {
		c.sentActions[packetIndex] = actions
	}

	c.lastSendAt = now
	return nil
}

// WritePingPacket encodes a post-connect Ping packet carrying idx,
// fronted by the same StandardHeader every other packet type uses, so
// Ping packets participate in ack bookkeeping like any other (spec.md
// §6: "every data/heartbeat/ping packet begins with [the header]").
func (c *Connection) WritePingPacket(now time.Time, idx uint16) ([]byte, error) {
	w := bitio.NewWriter(0)
	header := c.ack.NextOutgoingHeader(wire.PacketPing)
	if err := header.Write(w); err != nil {
		return nil, err
	}
	if err := writePing(w, pingPayload{Index: idx}); err != nil {
		return nil, err
	}
	c.lastSendAt = now
	return w.Bytes(), nil
}

// WritePongPacket encodes the matching Pong response to an incoming
// Ping, carrying the tick/clock sample p.
func (c *Connection) WritePongPacket(now time.Time, p pongPayload) ([]byte, error) {
	w := bitio.NewWriter(0)
	header := c.ack.NextOutgoingHeader(wire.PacketPong)
	if err := header.Write(w); err != nil {
		return nil, err
	}
	if err := writePong(w, p); err != nil {
		return nil, err
	}
	c.lastSendAt = now
	return w.Bytes(), nil
}

// WriteHeartbeatPacket encodes an empty Heartbeat packet: header only,
// sent after heartbeat_interval of outgoing idleness so the peer's
// disconnection timeout never trips on a connection with nothing to
// say.
func (c *Connection) WriteHeartbeatPacket(now time.Time) ([]byte, error) {
	w := bitio.NewWriter(0)
	header := c.ack.NextOutgoingHeader(wire.PacketHeartbeat)
	if err := header.Write(w); err != nil {
		return nil, err
	}
	c.lastSendAt = now
	return w.Bytes(), nil
}

// WriteDisconnectPacket encodes an explicit Disconnect notice: header
// only, sent once when a side tears down a connection cleanly so the
// peer doesn't have to wait out its disconnection timeout to notice.
func (c *Connection) WriteDisconnectPacket(now time.Time) ([]byte, error) {
	w := bitio.NewWriter(0)
	header := c.ack.NextOutgoingHeader(wire.PacketDisconnect)
	if err := header.Write(w); err != nil {
		return nil, err
	}
	c.lastSendAt = now
	return w.Bytes(), nil
}

// ReadControlHeader decodes the StandardHeader fronting any non-Data,
// non-handshake packet (Heartbeat, Ping, Pong, Disconnect), folding it
// into ack bookkeeping exactly like ReadDataPacket does, and returns a
// Reader positioned at the start of the packet's type-specific payload
// (empty for Heartbeat/Disconnect).
func (c *Connection) ReadControlHeader(now time.Time, data []byte) (*bitio.Reader, error) {
	r := bitio.NewReader(data)
	header, err := wire.ReadStandardHeader(r)
	if err != nil {
		return nil, err
	}
	c.ack.ProcessIncomingHeader(header, c)
	c.lastRecvAt = now
	return r, nil
}

// ReadDataPacket decodes an incoming Data packet, applying its messages,
// updates, and actions against this connection's state and ecs, in the
// same header → messages → updates → actions order it was written in.
func (c *Connection) ReadDataPacket(now time.Time, data []byte) (remoteServerTick wire.Seq, err error) {
	r := bitio.NewReader(data)
	header, err := wire.ReadStandardHeader(r)
	if err != nil {
		return 0, err
	}
	c.ack.ProcessIncomingHeader(header, c)
	c.lastRecvAt = now

	if c.role == RoleClient {
		remoteServerTick, err = bitio.ReadU16(r)
		if err != nil {
			return 0, err
		}
	}

	if err := c.channels.ReadPacket(r, remoteServerTick); err != nil {
		return 0, err
	}

	if err := readUpdates(r, c.ecs, c.compReg, c.resolveIncoming); err != nil {
		return 0, err
	}

	actions, err := replication.ReadActions(r)
	if err != nil {
		return 0, err
	}
	for _, a := range actions {
		c.applyIncomingAction(a)
	}

	return remoteServerTick, nil
}

// resolveIncoming implements the resolve callback readUpdates needs: it
// maps a peer-assigned RemoteEntity to the GlobalEntity this side
// created for it, once a SpawnEntity action for it has been applied.
func (c *Connection) resolveIncoming(remote ids.RemoteEntity) (ids.GlobalEntity, bool) {
	entity, ok := c.incomingRemote[remote]
	return entity, ok
}

// applyIncomingAction applies one decoded entity action to the local ecs
// mirror and emits the matching application event. SpawnEntity/
// InsertComponent insert a zero-value instance of each named component
// kind immediately (via compReg.NewZero) rather than waiting for field
// data that the action itself never carries: the component's real
// initial state arrives moments later as the first selected update,
// applied in place by ApplyComponentUpdate (see DESIGN.md's "Newly
// inserted components" entry). Without this, readUpdates would find
// HasComponent false and discard that first update as out of scope.
func (c *Connection) applyIncomingAction(a replication.Action) {
	switch a.Kind {
	case replication.ActionNoop:
		return

	case replication.ActionSpawnEntity:
		entity := c.ecs.SpawnEntity()
		c.incomingRemote[a.Entity] = entity
		for _, kind := range a.Components {
			c.insertZeroComponent(entity, kind)
		}
		c.emit(SpawnEntityEvent{User: c.user, Entity: entity})

	case replication.ActionDespawnEntity:
		entity, ok := c.incomingRemote[a.Entity]
		if !ok {
			return
		}
		c.ecs.DespawnEntity(entity)
		delete(c.incomingRemote, a.Entity)
		c.emit(DespawnEntityEvent{User: c.user, Entity: entity})

	case replication.ActionInsertComponent:
		entity, ok := c.incomingRemote[a.Entity]
		if !ok {
			return
		}
		c.insertZeroComponent(entity, a.Component)
		c.emit(InsertComponentEvent{User: c.user, Entity: entity, Kind: a.Component})

	case replication.ActionRemoveComponent:
		entity, ok := c.incomingRemote[a.Entity]
		if !ok {
			return
		}
		c.ecs.RemoveComponentOfKind(entity, a.Component)
		c.emit(RemoveComponentEvent{User: c.user, Entity: entity, Kind: a.Component})
	}
}

// insertZeroComponent constructs a zero-value instance of kind via the
// component registry and inserts it into ecs, logging (not panicking,
// per spec.md §7) and skipping if kind is unregistered on this side.
func (c *Connection) insertZeroComponent(entity ids.GlobalEntity, kind ids.ComponentKind) {
	zero, ok := c.compReg.NewZero(protocol.ComponentKind(kind))
	if !ok {
		return
	}
	c.ecs.InsertComponent(entity, zero)
}

// NotifyPacketDelivered implements wire.PacketNotifiable, fanning an
// acknowledged Data packet's delivery out to every sender that had
// something in flight in it: reliable message channels, world-channel
// diff-mask snapshots, and buffered entity actions (which additionally
// get their lifecycle state confirmed in scope).
func (c *Connection) NotifyPacketDelivered(packetIndex wire.Seq) {
	c.deliveredCount++
	c.channels.NotifyPacketDelivered(packetIndex)
	c.scope.NotifyPacketDelivered(packetIndex)

	actions, ok := c.sentActions[packetIndex]
	if !ok {
		return
	}
	delete(c.sentActions, packetIndex)
	c.action.NotifyDelivered(actions)
	for _, a := range actions {
		entity, ok := c.outgoingRemote[a.Entity]
		if !ok {
			continue
		}
		c.scope.ConfirmAction(entity, a)
		if a.Kind == replication.ActionDespawnEntity {
			delete(c.outgoingRemote, a.Entity)
		}
	}
}

// NotifyPacketDropped implements wire.PacketNotifiable: reliable
// messages and buffered actions become immediately resend-eligible;
// world-channel diff bits are reinstated.
func (c *Connection) NotifyPacketDropped(packetIndex wire.Seq) {
	c.droppedCount++
	c.channels.NotifyPacketDropped(packetIndex)
	c.scope.NotifyPacketDropped(packetIndex)

	actions, ok := c.sentActions[packetIndex]
	if !ok {
		return
	}
	delete(c.sentActions, packetIndex)
	c.action.NotifyDropped(actions)
}

var _ wire.PacketNotifiable = (*Connection)(nil)
