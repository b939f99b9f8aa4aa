// Package naia ties the bit codec, ACK manager, handshake, channel
// system, world replication, tick clock, and authority table into the
// single-threaded connection object spec.md §5 describes: one per user
// on the server, a singleton on the client, driven by an explicit
// Update(now) call rather than any background goroutine. The only
// goroutines naia itself touches are the ones transport/* already runs
// to pump blocking network primitives into the non-blocking socket.Socket
// poll naia expects.
package naia

import (
	"naia/bitio"
	"naia/internal/diffmask"
	"naia/internal/ids"
	"naia/protocol"
)

// World is the capability naia requires of the application's ECS, per
// spec.md §6's "World capability". The engine never holds entity or
// component state itself; it only ever asks World to mutate it in
// response to wire traffic, or reads from World to decide what to send.
type World interface {
	// HasEntity reports whether entity currently exists in this world.
	HasEntity(entity ids.GlobalEntity) bool
	// Entities lists every entity currently spawned.
	Entities() []ids.GlobalEntity
	// HasComponent reports whether entity carries a component of kind.
	HasComponent(entity ids.GlobalEntity, kind ids.ComponentKind) bool
	// ComponentKinds lists the component kinds entity currently carries.
	ComponentKinds(entity ids.GlobalEntity) []ids.ComponentKind
	// Component returns entity's component of kind, for reading or
	// diff-snapshotting.
	Component(entity ids.GlobalEntity, kind ids.ComponentKind) (protocol.Component, bool)

	// SpawnEntity creates a new entity and returns its GlobalEntity.
	SpawnEntity() ids.GlobalEntity
	// DespawnEntity removes entity and every component it carries.
	DespawnEntity(entity ids.GlobalEntity)
	// InsertComponent attaches c to entity under its registered kind.
	InsertComponent(entity ids.GlobalEntity, c protocol.Component)
	// RemoveComponentOfKind detaches and returns entity's component of
	// kind, if any.
	RemoveComponentOfKind(entity ids.GlobalEntity, kind ids.ComponentKind) (protocol.Component, bool)
	// ApplyComponentUpdate decodes a partial update from r against mask
	// and applies it in place to entity's existing component of kind.
	ApplyComponentUpdate(entity ids.GlobalEntity, kind ids.ComponentKind, r *bitio.Reader, mask diffmask.Mask) error
}

// readDiffMask decodes a DiffMask sized for a component's property count
// directly off the wire, ahead of the partial payload it gates.
func readDiffMask(r *bitio.Reader, propertyCount int) (diffmask.Mask, error) {
	mask := diffmask.New(propertyCount)
	n := (propertyCount + 7) / 8
	raw, err := r.ReadBytes(n)
	if err != nil {
		return mask, err
	}
	mask.FromBytes(raw)
	return mask, nil
}

// writeDiffMask writes a DiffMask's raw bytes at a fixed width (the
// reader already knows the property count from the component's
// registered kind, so no length prefix is needed).
func writeDiffMask(w bitio.BitSink, mask diffmask.Mask) error {
	return w.WriteBytes(mask.Bytes())
}
