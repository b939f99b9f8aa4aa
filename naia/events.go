package naia

import (
	"naia/internal/authority"
	"naia/internal/channelio"
	"naia/internal/ids"
	"naia/protocol"
)

// Event is the application-visible union surfaced by Client.Update/
// Server.Update. Decode errors and unknown-entity references are never
// surfaced this way — spec.md §7 recovers those locally and logs them.
// The engine emits handshake rejections, connection lifecycle events and
// applied entity/component actions; MessageEvent and AuthorityChangeEvent
// are declared but never emitted.
type Event interface{ isEvent() }

// ConnectEvent fires once a connection's handshake reaches Connected.
type ConnectEvent struct {
	User ids.UserKey
}

// DisconnectEvent fires when a connection is torn down, either by an
// explicit Disconnect packet or by the disconnection timeout expiring
// with no heard-from packet.
type DisconnectEvent struct {
	User   ids.UserKey
	Reason DisconnectReason
}

// DisconnectReason distinguishes a clean close from a timeout, so the
// application can tell the two apart without inspecting wire state.
type DisconnectReason int

const (
	DisconnectClean DisconnectReason = iota
	DisconnectTimeout
)

// RejectEvent fires on the client when the server actively refuses a
// handshake (invalid token, auth denied) instead of simply timing out.
type RejectEvent struct {
	Reason string
}

// MessageEvent describes one decoded application message received on
// channel. No code emits it; received messages are read with
// Connection.DrainMessages.
type MessageEvent struct {
	User    ids.UserKey // zero value on the client, where there's only one peer
	Channel channelio.ChannelID
	Message protocol.Message
}

// SpawnEntityEvent/DespawnEntityEvent fire when a remote entity action
// is applied to the local World, letting application code react (e.g.
// to set up client-side prediction state) without polling World itself.
type SpawnEntityEvent struct {
	User   ids.UserKey
	Entity ids.GlobalEntity
}

type DespawnEntityEvent struct {
	User   ids.UserKey
	Entity ids.GlobalEntity
}

// InsertComponentEvent/RemoveComponentEvent mirror the entity events for
// component-level actions.
type InsertComponentEvent struct {
	User   ids.UserKey
	Entity ids.GlobalEntity
	Kind   ids.ComponentKind
}

type RemoveComponentEvent struct {
	User   ids.UserKey
	Entity ids.GlobalEntity
	Kind   ids.ComponentKind
}

// AuthorityChangeEvent describes a transition in an entity's
// authority.Status, per spec.md §4.7 — e.g. a client's RequestAuthority
// being Granted or Denied, or a release completing and authoritative
// streaming resuming. No code emits it.
type AuthorityChangeEvent struct {
	Entity ids.GlobalEntity
	Status authority.Status
	Holder ids.UserKey
}

func (ConnectEvent) isEvent()           {}
func (DisconnectEvent) isEvent()        {}
func (RejectEvent) isEvent()            {}
func (MessageEvent) isEvent()           {}
func (SpawnEntityEvent) isEvent()       {}
func (DespawnEntityEvent) isEvent()     {}
func (InsertComponentEvent) isEvent()   {}
func (RemoveComponentEvent) isEvent()   {}
func (AuthorityChangeEvent) isEvent()   {}
