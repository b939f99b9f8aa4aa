// Package replication implements naia's world-replication channel: the
// per-entity/per-component lifecycle state machines, the strictly
// ordered entity-action stream (spawn/despawn/insert/remove), and the
// WorldChannel that gates component update emission on that state and
// reconciles diff-masks across drops.
package replication

import "naia/internal/ids"

// EntityState tracks one entity's lifecycle on one side of a connection.
// Inserts, removes, and component updates may only flow while an entity
// is Spawned.
type EntityState int

const (
	EntitySpawning EntityState = iota
	EntitySpawned
	EntityDespawning
	EntityRemoved
)

func (s EntityState) String() string {
	switch s {
	case EntitySpawning:
		return "Spawning"
	case EntitySpawned:
		return "Spawned"
	case EntityDespawning:
		return "Despawning"
	case EntityRemoved:
		return "Removed"
	default:
		return "Unknown"
	}
}

// EntityChannel tracks one entity's replication lifecycle and the set of
// component kinds currently associated with it.
type EntityChannel struct {
	Remote     ids.RemoteEntity
	State      EntityState
	Components map[ids.ComponentKind]*ComponentChannel
}

// NewEntityChannel starts an entity in Spawning, the state it's in from
// the moment a SpawnEntity action is sent until that action is
// acknowledged.
func NewEntityChannel(remote ids.RemoteEntity) *EntityChannel {
	return &EntityChannel{
		Remote:     remote,
		State:      EntitySpawning,
		Components: make(map[ids.ComponentKind]*ComponentChannel),
	}
}

// ConfirmSpawned advances Spawning to Spawned once the SpawnEntity action
// has been acknowledged. Only inserts/removes/updates may flow once an
// entity is Spawned.
func (e *EntityChannel) ConfirmSpawned() {
	if e.State == EntitySpawning {
		e.State = EntitySpawned
	}
}

// BeginDespawn moves a Spawned entity into Despawning, the state it
// holds until the DespawnEntity action is itself acknowledged.
func (e *EntityChannel) BeginDespawn() {
	if e.State == EntitySpawned {
		e.State = EntityDespawning
	}
}

// ConfirmRemoved finalizes a despawn once its action has been
// acknowledged; the entity's channel state is retired.
func (e *EntityChannel) ConfirmRemoved() {
	if e.State == EntityDespawning {
		e.State = EntityRemoved
	}
}

// ComponentState tracks one component's lifecycle within a spawned
// entity. Updates are only gated for emission while Inserted.
type ComponentState int

const (
	ComponentInserting ComponentState = iota
	ComponentInserted
	ComponentRemoving
	ComponentRemoved
)

func (s ComponentState) String() string {
	switch s {
	case ComponentInserting:
		return "Inserting"
	case ComponentInserted:
		return "Inserted"
	case ComponentRemoving:
		return "Removing"
	case ComponentRemoved:
		return "Removed"
	default:
		return "Unknown"
	}
}

// ComponentChannel tracks one component's replication lifecycle within
// an entity.
type ComponentChannel struct {
	Kind  ids.ComponentKind
	State ComponentState
}

// NewComponentChannel starts a component in Inserting.
func NewComponentChannel(kind ids.ComponentKind) *ComponentChannel {
	return &ComponentChannel{Kind: kind, State: ComponentInserting}
}

// ConfirmInserted advances Inserting to Inserted once the InsertComponent
// action has been acknowledged. Update emission is gated on this state.
func (c *ComponentChannel) ConfirmInserted() {
	if c.State == ComponentInserting {
		c.State = ComponentInserted
	}
}

// BeginRemove moves an Inserted component into Removing.
func (c *ComponentChannel) BeginRemove() {
	if c.State == ComponentInserted {
		c.State = ComponentRemoving
	}
}

// ConfirmRemoved finalizes a remove once its action has been
// acknowledged.
func (c *ComponentChannel) ConfirmRemoved() {
	if c.State == ComponentRemoving {
		c.State = ComponentRemoved
	}
}
