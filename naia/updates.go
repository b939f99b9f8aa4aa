package naia

import (
	"fmt"

	"naia/bitio"
	"naia/internal/diffmask"
	"naia/internal/ids"
	"naia/internal/replication"
	"naia/protocol"
)

// fitEntry is one component update writeUpdates has confirmed fits the
// remaining packet budget, with its cost precomputed so the enclosing
// entity group's total can be checked before anything is committed.
type fitEntry struct {
	update replication.ComponentUpdate
	comp   protocol.Component
	cost   int
}

// writeUpdates encodes as many of the given ComponentUpdates as fit
// within bitsFree, grouped by owning RemoteEntity so repeated components
// on the same entity share one entity header, per spec.md §6's
// updates-stream grammar — repeat (1) RemoteEntity | repeat (1)
// ComponentKind | DiffMask | partial_payload (0) (0). Whatever doesn't
// fit is returned as deferred, for the caller to hand to
// WorldChannel.Requeue so those bits stay dirty for the next packet
// instead of being silently lost (spec.md §5's MTU backpressure policy).
func writeUpdates(w bitio.BitSink, world World, updates []replication.ComponentUpdate, bitsFree int) (deferred []replication.ComponentUpdate, err error) {
	byEntity := make(map[ids.RemoteEntity][]replication.ComponentUpdate)
	var order []ids.RemoteEntity
	for _, u := range updates {
		if _, ok := byEntity[u.Remote]; !ok {
			order = append(order, u.Remote)
		}
		byEntity[u.Remote] = append(byEntity[u.Remote], u)
	}

	const streamTerminatorBits = 1
	used := streamTerminatorBits
	for _, remote := range order {
		group := byEntity[remote]

		var fit []fitEntry
		groupUsed := 0
		for _, u := range group {
			comp, ok := world.Component(u.Entity, u.Kind)
			if !ok {
				deferred = append(deferred, u)
				continue
			}
			const componentTerminatorBits = 1
			cost := 1 + 16 + measureComponentUpdate(comp, u.Mask) // continue bit + kind id
			if used+groupUsed+cost+componentTerminatorBits > bitsFree {
				deferred = append(deferred, u)
				continue
			}
			fit = append(fit, fitEntry{update: u, comp: comp, cost: cost})
			groupUsed += cost
		}
		if len(fit) == 0 {
			continue
		}

		const entityHeaderBits = 1 + 16 + 1 // continue bit + RemoteEntity + component-list terminator
		if used+entityHeaderBits+groupUsed > bitsFree {
			for _, e := range fit {
				deferred = append(deferred, e.update)
			}
			continue
		}

		if err := bitio.WriteBool(w, true); err != nil {
			return nil, err
		}
		if err := bitio.WriteU16(w, uint16(remote)); err != nil {
			return nil, err
		}
		for _, e := range fit {
			if err := bitio.WriteBool(w, true); err != nil {
				return nil, err
			}
			if err := bitio.WriteU16(w, uint16(e.update.Kind)); err != nil {
				return nil, err
			}
			if err := writeDiffMask(w, e.update.Mask); err != nil {
				return nil, err
			}
			if err := e.comp.WriteDiff(w, e.update.Mask); err != nil {
				return nil, err
			}
		}
		if err := bitio.WriteBool(w, false); err != nil {
			return nil, err
		}
		used += entityHeaderBits + groupUsed
	}
	return deferred, bitio.WriteBool(w, false)
}

// measureComponentUpdate returns the bit cost of a DiffMask plus its
// gated partial payload, via a Counter, mirroring channelio.chunk.go's
// measureChunk pre-commit sizing idiom.
func measureComponentUpdate(comp protocol.Component, mask diffmask.Mask) int {
	c := bitio.NewCounter(0)
	_ = c.WriteBytes(mask.Bytes())
	_ = comp.WriteDiff(c, mask)
	return c.BitsWritten()
}

// readUpdates decodes the updates stream, resolving each RemoteEntity
// against resolve and applying every carried diff to world. The
// DiffMask's width comes from the component registry, not from any
// locally-held component, so a diff for an entity not yet known can
// still be skipped cleanly rather than desyncing the rest of the packet
// (spec.md §7: EntityDoesNotExistError is never fatal to the
// connection).
func readUpdates(r *bitio.Reader, world World, reg *protocol.ComponentRegistry, resolve func(ids.RemoteEntity) (ids.GlobalEntity, bool)) error {
	for {
		moreEntities, err := bitio.ReadBool(r)
		if err != nil {
			return err
		}
		if !moreEntities {
			return nil
		}
		remoteRaw, err := bitio.ReadU16(r)
		if err != nil {
			return err
		}
		remote := ids.RemoteEntity(remoteRaw)
		entity, known := resolve(remote)

		for {
			moreComponents, err := bitio.ReadBool(r)
			if err != nil {
				return err
			}
			if !moreComponents {
				break
			}
			kindRaw, err := bitio.ReadU16(r)
			if err != nil {
				return err
			}
			kind := ids.ComponentKind(kindRaw)

			propertyCount, ok := reg.PropertyCountOf(protocol.ComponentKind(kind))
			if !ok {
				return fmt.Errorf("naia: update references unregistered component kind %d", kind)
			}
			mask, err := readDiffMask(r, propertyCount)
			if err != nil {
				return err
			}
			if !known || !world.HasComponent(entity, kind) {
				// Still must consume exactly the bits the partial payload
				// occupies, or every field after it in this packet
				// desyncs; decode into a scratch instance and discard it.
				scratch, ok := reg.NewZero(protocol.ComponentKind(kind))
				if !ok {
					return fmt.Errorf("naia: no zero-value constructor for component kind %d", kind)
				}
				if err := scratch.ReadDiff(r, mask); err != nil {
					return err
				}
				continue
			}
			if err := world.ApplyComponentUpdate(entity, kind, r, mask); err != nil {
				return err
			}
		}
	}
}
