// Package ids holds the identifier types shared across naia's connection,
// replication and authority layers, so none of those packages need to
// import each other just to name a user or an entity.
package ids

import "github.com/google/uuid"

// UserKey identifies one connected peer for the lifetime of its
// connection. The server mints one per successfully completed handshake.
type UserKey uuid.UUID

// NewUserKey mints a fresh, random UserKey.
func NewUserKey() UserKey { return UserKey(uuid.New()) }

func (k UserKey) String() string { return uuid.UUID(k).String() }

// GlobalEntity is the server's canonical, process-wide identity for a
// replicated entity — stable regardless of which user's scope it is
// currently visible in.
type GlobalEntity uint64

// HostEntity is how the side that owns an entity (spawned it locally)
// refers to it; it is always a GlobalEntity on the server, and on the
// client only exists for entities the client has been granted authority
// over.
type HostEntity = GlobalEntity

// RemoteEntity is the wire-visible, per-connection entity id: a compact
// index the sender assigns when it first includes the entity in a user's
// scope, valid only within that one connection.
type RemoteEntity uint16

// LocalEntity is how a receiver refers to an entity it has learned about
// from the wire, before resolving it to a handle in its own world.
type LocalEntity = RemoteEntity

// ComponentKind identifies a registered component type by its stable
// wire id.
type ComponentKind uint16

// ActionID is the strictly increasing, wrapping sequence number assigned
// to each entity action (spawn/despawn/insert/remove) in a connection's
// action stream.
type ActionID uint16
