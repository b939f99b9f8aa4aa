package channelio

import "naia/internal/ids"

// EntityWaitlist holds messages that reference entities not yet present
// in the receiver's scope, releasing each once every entity it depends
// on has been spawned locally. Despawning an entity does not proactively
// cancel any waiter still holding a reference to it — per spec, a waiter
// may simply time out in its channel's own ring instead.
type EntityWaitlist struct {
	known   map[ids.LocalEntity]bool
	waiters []*waiter
}

type waiter struct {
	required map[ids.LocalEntity]bool
	payload  any
}

// NewEntityWaitlist returns an empty waitlist.
func NewEntityWaitlist() *EntityWaitlist {
	return &EntityWaitlist{known: make(map[ids.LocalEntity]bool)}
}

// MarkSpawned records that entity is now in scope. It releases nothing
// itself: waiters whose dependencies are now fully satisfied are
// returned by the next Release call.
func (w *EntityWaitlist) MarkSpawned(entity ids.LocalEntity) {
	w.known[entity] = true
}

// MarkDespawned removes entity from scope. This is not proactive
// cancellation: any waiter already queued keeps its full required set,
// so if that set happens to be re-checked by Release before entity is
// spawned again, the waiter simply stays pending rather than being
// dropped or erroring.
func (w *EntityWaitlist) MarkDespawned(entity ids.LocalEntity) {
	delete(w.known, entity)
}

// Hold queues payload until every entity in required is known, or
// returns it immediately (ok=true) if they already all are.
func (w *EntityWaitlist) Hold(required []ids.LocalEntity, payload any) (any, bool) {
	if w.allKnown(required) {
		return payload, true
	}
	req := make(map[ids.LocalEntity]bool, len(required))
	for _, e := range required {
		req[e] = true
	}
	w.waiters = append(w.waiters, &waiter{required: req, payload: payload})
	return nil, false
}

func (w *EntityWaitlist) allKnown(required []ids.LocalEntity) bool {
	for _, e := range required {
		if !w.known[e] {
			return false
		}
	}
	return true
}

// Release returns every waiter whose dependencies are now fully
// satisfied, removing them from the waitlist.
func (w *EntityWaitlist) Release() []any {
	var released []any
	kept := w.waiters[:0]
	for _, wt := range w.waiters {
		stillMissing := false
		for e := range wt.required {
			if !w.known[e] {
				stillMissing = true
				break
			}
		}
		if stillMissing {
			kept = append(kept, wt)
			continue
		}
		released = append(released, wt.payload)
	}
	w.waiters = kept
	return released
}

// Len reports how many entries are currently waiting.
func (w *EntityWaitlist) Len() int { return len(w.waiters) }
