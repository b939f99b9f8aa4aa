package replication

import (
	"naia/internal/diffmask"
	"naia/internal/ids"
	"naia/internal/wire"
)

// diffKey identifies one replicated component instance's diff-mask.
type diffKey struct {
	entity ids.GlobalEntity
	kind   ids.ComponentKind
}

// snapshotRecord is one packet's optimistic copy of a component's diff
// mask, held until that packet is acknowledged or confirmed dropped.
type snapshotRecord struct {
	packetIndex wire.Seq
	mask        diffmask.Mask
}

// DiffHandler is the WorldChannel's per-(entity, component) dirty-bit
// tracker: it counts unacknowledged dirty property bits and reconciles
// them against packet delivery, per spec.md §4.5.2. On ack, a sent
// snapshot is simply discarded — the optimistic clear was correct. On a
// confirmed drop, the snapshot's bits are OR-merged back into the live
// mask, minus whatever bits any still-in-flight newer snapshot for the
// same component has already queued, so a reinstated bit never
// duplicates an update already on the wire in a later packet.
type DiffHandler struct {
	propCount map[ids.ComponentKind]int
	live      map[diffKey]diffmask.Mask
	inFlight  map[diffKey][]snapshotRecord
	byPacket  map[wire.Seq][]diffKey
}

// NewDiffHandler returns an empty handler.
func NewDiffHandler() *DiffHandler {
	return &DiffHandler{
		propCount: make(map[ids.ComponentKind]int),
		live:      make(map[diffKey]diffmask.Mask),
		inFlight:  make(map[diffKey][]snapshotRecord),
		byPacket:  make(map[wire.Seq][]diffKey),
	}
}

// RegisterComponent declares how many dirty-trackable properties kind
// has; it must be called before MarkDirty/TakeSnapshot reference it.
func (d *DiffHandler) RegisterComponent(kind ids.ComponentKind, propertyCount int) {
	d.propCount[kind] = propertyCount
}

func (d *DiffHandler) liveMask(k diffKey) diffmask.Mask {
	m, ok := d.live[k]
	if !ok {
		m = diffmask.New(d.propCount[k.kind])
		d.live[k] = m
	}
	return m
}

// MarkDirty flags property propIndex of (entity, kind) as changed since
// the last acknowledged update.
func (d *DiffHandler) MarkDirty(entity ids.GlobalEntity, kind ids.ComponentKind, propIndex int) {
	d.liveMask(diffKey{entity, kind}).Set(propIndex)
}

// MarkAllDirty flags every property of (entity, kind) as changed. Called
// when a component is newly inserted, since InsertComponent's action
// payload carries only the component's kind, never its field data: the
// full state instead rides the updates stream as an all-bits-dirty diff
// once the insert itself has been acknowledged and PrepareUpdates starts
// selecting the component.
func (d *DiffHandler) MarkAllDirty(entity ids.GlobalEntity, kind ids.ComponentKind) {
	d.live[diffKey{entity, kind}] = diffmask.Full(d.propCount[kind])
}

// TakeSnapshot clones the current live mask for (entity, kind) into a
// sent record for packetIndex and clears those bits from the live mask
// (the optimistic assumption that the write will arrive). Returns
// ok=false if there is nothing dirty to send.
func (d *DiffHandler) TakeSnapshot(packetIndex wire.Seq, entity ids.GlobalEntity, kind ids.ComponentKind) (diffmask.Mask, bool) {
	k := diffKey{entity, kind}
	live := d.liveMask(k)
	if !live.Any() {
		return diffmask.Mask{}, false
	}
	snap := live.Clone()
	live.AndNot(snap)

	d.inFlight[k] = append(d.inFlight[k], snapshotRecord{packetIndex: packetIndex, mask: snap})
	d.byPacket[packetIndex] = append(d.byPacket[packetIndex], k)
	return snap, true
}

// NotifyPacketDelivered discards every snapshot packetIndex carried: the
// optimistic clear was correct, nothing is reinstated.
func (d *DiffHandler) NotifyPacketDelivered(packetIndex wire.Seq) {
	keys, ok := d.byPacket[packetIndex]
	if !ok {
		return
	}
	delete(d.byPacket, packetIndex)
	for _, k := range keys {
		d.removeRecord(k, packetIndex)
	}
}

// NotifyPacketDropped reinstates every snapshot packetIndex carried into
// the live mask, minus whatever bits any still-in-flight newer snapshot
// for the same component has already queued.
func (d *DiffHandler) NotifyPacketDropped(packetIndex wire.Seq) {
	keys, ok := d.byPacket[packetIndex]
	if !ok {
		return
	}
	delete(d.byPacket, packetIndex)
	for _, k := range keys {
		records := d.inFlight[k]
		idx := -1
		for i, rec := range records {
			if rec.packetIndex == packetIndex {
				idx = i
				break
			}
		}
		if idx == -1 {
			continue
		}
		reinstate := records[idx].mask.Clone()
		for _, newer := range records[idx+1:] {
			reinstate.AndNot(newer.mask)
		}
		d.liveMask(k).Or(reinstate)
		d.inFlight[k] = append(records[:idx], records[idx+1:]...)
	}
}

// Requeue undoes TakeSnapshot for (entity, kind) under packetIndex: the
// snapshotted bits are merged back into the live mask and the snapshot
// record is discarded, for an update PrepareUpdates selected but the
// connection layer ultimately could not fit onto the wire (MTU
// backpressure, spec.md §5). Safe to call even if the snapshot was
// already removed by a delivered/dropped notification; it's then a
// no-op.
func (d *DiffHandler) Requeue(packetIndex wire.Seq, entity ids.GlobalEntity, kind ids.ComponentKind) {
	k := diffKey{entity, kind}
	records := d.inFlight[k]
	for i, rec := range records {
		if rec.packetIndex == packetIndex {
			d.liveMask(k).Or(rec.mask)
			d.inFlight[k] = append(records[:i], records[i+1:]...)
			break
		}
	}
	keys := d.byPacket[packetIndex]
	for i, kk := range keys {
		if kk == k {
			d.byPacket[packetIndex] = append(keys[:i], keys[i+1:]...)
			break
		}
	}
}

func (d *DiffHandler) removeRecord(k diffKey, packetIndex wire.Seq) {
	records := d.inFlight[k]
	for i, rec := range records {
		if rec.packetIndex == packetIndex {
			d.inFlight[k] = append(records[:i], records[i+1:]...)
			return
		}
	}
}
