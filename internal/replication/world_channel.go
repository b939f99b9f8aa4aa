package replication

import (
	"naia/internal/diffmask"
	"naia/internal/ids"
	"naia/internal/wire"
)

// ComponentUpdate is one outgoing diff-gated component write selected by
// PrepareUpdates, ready for the connection to encode onto the updates
// stream.
type ComponentUpdate struct {
	Entity ids.GlobalEntity
	Remote ids.RemoteEntity
	Kind   ids.ComponentKind
	Mask   diffmask.Mask
}

// WorldChannel is the sender-side owner of one user's replicated scope:
// per-entity EntityChannel state, per-component ComponentChannel state
// within each spawned entity, and the DiffHandler gating component
// update emission on that state. It also assigns and tracks the
// RemoteEntity ids a user's connection uses to refer to each entity.
type WorldChannel struct {
	diff     *DiffHandler
	entities map[ids.GlobalEntity]*EntityChannel
	remotes  map[ids.GlobalEntity]ids.RemoteEntity
	nextID   ids.RemoteEntity
}

// NewWorldChannel returns an empty per-user world channel.
func NewWorldChannel() *WorldChannel {
	return &WorldChannel{
		diff:     NewDiffHandler(),
		entities: make(map[ids.GlobalEntity]*EntityChannel),
		remotes:  make(map[ids.GlobalEntity]ids.RemoteEntity),
	}
}

// RegisterComponentKind declares a component type's property count, so
// its diff masks are sized correctly.
func (w *WorldChannel) RegisterComponentKind(kind ids.ComponentKind, propertyCount int) {
	w.diff.RegisterComponent(kind, propertyCount)
}

// SpawnEntity brings entity into scope, assigning it a fresh RemoteEntity
// id and starting its EntityChannel in Spawning. Returns the assigned
// RemoteEntity so the caller can build the SpawnEntity action.
func (w *WorldChannel) SpawnEntity(entity ids.GlobalEntity, components []ids.ComponentKind) ids.RemoteEntity {
	remote := w.nextID
	w.nextID++
	ch := NewEntityChannel(remote)
	for _, k := range components {
		ch.Components[k] = NewComponentChannel(k)
		w.diff.MarkAllDirty(entity, k)
	}
	w.entities[entity] = ch
	w.remotes[entity] = remote
	return remote
}

// DespawnEntity begins removing entity from scope.
func (w *WorldChannel) DespawnEntity(entity ids.GlobalEntity) {
	if ch, ok := w.entities[entity]; ok {
		ch.BeginDespawn()
	}
}

// InsertComponent begins tracking a new component on an already-spawned
// entity.
func (w *WorldChannel) InsertComponent(entity ids.GlobalEntity, kind ids.ComponentKind) {
	ch, ok := w.entities[entity]
	if !ok {
		return
	}
	ch.Components[kind] = NewComponentChannel(kind)
	w.diff.MarkAllDirty(entity, kind)
}

// RemoveComponent begins removing an inserted component.
func (w *WorldChannel) RemoveComponent(entity ids.GlobalEntity, kind ids.ComponentKind) {
	ch, ok := w.entities[entity]
	if !ok {
		return
	}
	if cc, ok := ch.Components[kind]; ok {
		cc.BeginRemove()
	}
}

// MarkDirty flags a property of entity's component kind as changed.
func (w *WorldChannel) MarkDirty(entity ids.GlobalEntity, kind ids.ComponentKind, propIndex int) {
	w.diff.MarkDirty(entity, kind, propIndex)
}

// ConfirmAction applies the channel-state transition an acknowledged
// action implies: SpawnEntity/InsertComponent advance to their
// steady state, DespawnEntity/RemoveComponent finalize removal.
func (w *WorldChannel) ConfirmAction(entity ids.GlobalEntity, a Action) {
	ch, ok := w.entities[entity]
	if !ok {
		return
	}
	switch a.Kind {
	case ActionSpawnEntity:
		ch.ConfirmSpawned()
	case ActionDespawnEntity:
		ch.ConfirmRemoved()
		delete(w.entities, entity)
		delete(w.remotes, entity)
	case ActionInsertComponent:
		if cc, ok := ch.Components[a.Component]; ok {
			cc.ConfirmInserted()
		}
	case ActionRemoveComponent:
		if cc, ok := ch.Components[a.Component]; ok {
			cc.ConfirmRemoved()
			delete(ch.Components, a.Component)
		}
	}
}

// PrepareUpdates selects, for packetIndex, every in-scope entity whose
// state is Spawned and every one of its components whose state is
// Inserted with a non-empty diff mask — gating emission exactly per
// spec.md §4.5.2 — snapshotting and clearing each selected mask into the
// packet's sent record.
func (w *WorldChannel) PrepareUpdates(packetIndex wire.Seq) []ComponentUpdate {
	var updates []ComponentUpdate
	for entity, ch := range w.entities {
		if ch.State != EntitySpawned {
			continue
		}
		for kind, cc := range ch.Components {
			if cc.State != ComponentInserted {
				continue
			}
			mask, ok := w.diff.TakeSnapshot(packetIndex, entity, kind)
			if !ok {
				continue
			}
			updates = append(updates, ComponentUpdate{
				Entity: entity,
				Remote: ch.Remote,
				Kind:   kind,
				Mask:   mask,
			})
		}
	}
	return updates
}

// Requeue re-dirties every update in updates that PrepareUpdates
// selected for packetIndex but the connection layer could not fit onto
// the wire, so the bits aren't lost to MTU backpressure.
func (w *WorldChannel) Requeue(packetIndex wire.Seq, updates []ComponentUpdate) {
	for _, u := range updates {
		w.diff.Requeue(packetIndex, u.Entity, u.Kind)
	}
}

// NotifyPacketDelivered releases this packet's diff-mask snapshots
// outright — the optimistic clear they represented was correct.
func (w *WorldChannel) NotifyPacketDelivered(packetIndex wire.Seq) {
	w.diff.NotifyPacketDelivered(packetIndex)
}

// NotifyPacketDropped reinstates this packet's diff-mask snapshots into
// the live masks, minus any bits already re-sent in a later packet.
func (w *WorldChannel) NotifyPacketDropped(packetIndex wire.Seq) {
	w.diff.NotifyPacketDropped(packetIndex)
}

// EntityCount returns how many entities are currently in scope, for
// metrics reporting.
func (w *WorldChannel) EntityCount() int { return len(w.entities) }

// RemoteOf returns the RemoteEntity assigned to entity, if it's in
// scope.
func (w *WorldChannel) RemoteOf(entity ids.GlobalEntity) (ids.RemoteEntity, bool) {
	r, ok := w.remotes[entity]
	return r, ok
}

// EntityState reports an in-scope entity's current EntityChannel state.
func (w *WorldChannel) EntityState(entity ids.GlobalEntity) (EntityState, bool) {
	ch, ok := w.entities[entity]
	if !ok {
		return 0, false
	}
	return ch.State, true
}
