// Package memworld is a small in-process ECS backing naia.World, the
// shape cmd/naia-server and cmd/naia-client use to have something
// concrete to replicate without pulling in a real game engine. It
// follows the same map-plus-mutex idiom the teacher's Room type uses
// for its own in-memory connection/channel state.
package memworld

import (
	"sync"
	"sync/atomic"

	"naia/bitio"
	"naia/internal/diffmask"
	"naia/internal/ids"
	"naia/protocol"
)

// World is a mutex-guarded, map-backed naia.World. Safe for concurrent
// use, though naia itself only ever calls it from one goroutine at a
// time per Connection. compReg resolves a Component value's registered
// kind on insert, since naia.World.InsertComponent is never told the
// kind directly.
type World struct {
	mu         sync.Mutex
	compReg    *protocol.ComponentRegistry
	nextEntity atomic.Uint64
	entities   map[ids.GlobalEntity]map[ids.ComponentKind]protocol.Component
}

// New returns an empty World resolving component kinds against compReg.
func New(compReg *protocol.ComponentRegistry) *World {
	return &World{
		compReg:  compReg,
		entities: make(map[ids.GlobalEntity]map[ids.ComponentKind]protocol.Component),
	}
}

// HasEntity implements naia.World.
func (w *World) HasEntity(entity ids.GlobalEntity) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.entities[entity]
	return ok
}

// Entities implements naia.World.
func (w *World) Entities() []ids.GlobalEntity {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]ids.GlobalEntity, 0, len(w.entities))
	for e := range w.entities {
		out = append(out, e)
	}
	return out
}

// HasComponent implements naia.World.
func (w *World) HasComponent(entity ids.GlobalEntity, kind ids.ComponentKind) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	comps, ok := w.entities[entity]
	if !ok {
		return false
	}
	_, ok = comps[kind]
	return ok
}

// ComponentKinds implements naia.World.
func (w *World) ComponentKinds(entity ids.GlobalEntity) []ids.ComponentKind {
	w.mu.Lock()
	defer w.mu.Unlock()
	comps, ok := w.entities[entity]
	if !ok {
		return nil
	}
	out := make([]ids.ComponentKind, 0, len(comps))
	for k := range comps {
		out = append(out, k)
	}
	return out
}

// Component implements naia.World.
func (w *World) Component(entity ids.GlobalEntity, kind ids.ComponentKind) (protocol.Component, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	comps, ok := w.entities[entity]
	if !ok {
		return nil, false
	}
	c, ok := comps[kind]
	return c, ok
}

// SpawnEntity implements naia.World.
func (w *World) SpawnEntity() ids.GlobalEntity {
	entity := ids.GlobalEntity(w.nextEntity.Add(1))
	w.mu.Lock()
	w.entities[entity] = make(map[ids.ComponentKind]protocol.Component)
	w.mu.Unlock()
	return entity
}

// DespawnEntity implements naia.World.
func (w *World) DespawnEntity(entity ids.GlobalEntity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entities, entity)
}

// InsertComponent implements naia.World.
func (w *World) InsertComponent(entity ids.GlobalEntity, c protocol.Component) {
	kind, ok := w.compReg.KindOf(c)
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	comps, ok := w.entities[entity]
	if !ok {
		return
	}
	comps[ids.ComponentKind(kind)] = c
}

// RemoveComponentOfKind implements naia.World.
func (w *World) RemoveComponentOfKind(entity ids.GlobalEntity, kind ids.ComponentKind) (protocol.Component, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	comps, ok := w.entities[entity]
	if !ok {
		return nil, false
	}
	c, ok := comps[kind]
	if ok {
		delete(comps, kind)
	}
	return c, ok
}

// ApplyComponentUpdate implements naia.World.
func (w *World) ApplyComponentUpdate(entity ids.GlobalEntity, kind ids.ComponentKind, r *bitio.Reader, mask diffmask.Mask) error {
	w.mu.Lock()
	c, ok := w.entities[entity][kind]
	w.mu.Unlock()
	if !ok {
		return nil
	}
	return c.ReadDiff(r, mask)
}
