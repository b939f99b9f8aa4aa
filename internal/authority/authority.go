// Package authority implements naia's authority delegation state machine:
// the server-known record of which user, if any, may mutate a given
// replicated entity. Because a request is resolved synchronously within
// a single connection's tick processing rather than across concurrent
// goroutines, "first Requested wins" reduces to "first call wins" —
// there is no window in which two requests are genuinely racing.
package authority

import "naia/internal/ids"

// Status is an entity's authority state as spec.md §4.7 names it.
// Requested and Denied are not persisted in the table — a request is
// resolved synchronously, so only the steady states Available, Granted
// and Releasing need to survive between calls.
type Status int

const (
	Available Status = iota
	Requested
	Granted
	Releasing
	Denied
)

func (s Status) String() string {
	switch s {
	case Available:
		return "Available"
	case Requested:
		return "Requested"
	case Granted:
		return "Granted"
	case Releasing:
		return "Releasing"
	case Denied:
		return "Denied"
	default:
		return "Unknown"
	}
}

type entityAuth struct {
	status Status
	holder ids.UserKey
}

// Table is the server's global authority record, one entry per entity
// that has ever had authority requested or granted. An entity with no
// entry is implicitly Available.
type Table struct {
	entries map[ids.GlobalEntity]*entityAuth
}

// NewTable returns an empty authority table.
func NewTable() *Table {
	return &Table{entries: make(map[ids.GlobalEntity]*entityAuth)}
}

func (t *Table) entry(entity ids.GlobalEntity) *entityAuth {
	e, ok := t.entries[entity]
	if !ok {
		e = &entityAuth{status: Available}
		t.entries[entity] = e
	}
	return e
}

// StatusOf reports entity's current authority status.
func (t *Table) StatusOf(entity ids.GlobalEntity) Status {
	e, ok := t.entries[entity]
	if !ok {
		return Available
	}
	return e.status
}

// HolderOf returns the user currently granted authority over entity, if
// any.
func (t *Table) HolderOf(entity ids.GlobalEntity) (ids.UserKey, bool) {
	e, ok := t.entries[entity]
	if !ok || e.status != Granted {
		return ids.UserKey{}, false
	}
	return e.holder, true
}

// RequestAuthority evaluates user's request for entity and returns the
// outcome to relay back as UpdateAuthority(Granted|Denied). Only one
// user may hold Granted for a given entity at a time — an entity that
// is Available grants immediately; one that is Granted denies every
// requester but its own current holder; one that is Releasing denies
// every requester, its outgoing holder included.
func (t *Table) RequestAuthority(entity ids.GlobalEntity, user ids.UserKey) Status {
	e := t.entry(entity)
	switch e.status {
	case Available:
		e.status = Granted
		e.holder = user
		return Granted
	case Granted:
		if e.holder == user {
			return Granted
		}
		return Denied
	case Releasing:
		return Denied
	default:
		return Denied
	}
}

// ReleaseAuthority begins releasing user's authority over entity,
// transitioning it to Releasing so the caller can drain any pending
// inbound updates before the release takes effect. A release from
// anyone but the current holder is a no-op; it returns the entity's
// unchanged status.
func (t *Table) ReleaseAuthority(entity ids.GlobalEntity, user ids.UserKey) Status {
	e, ok := t.entries[entity]
	if !ok || e.status != Granted || e.holder != user {
		if !ok {
			return Available
		}
		return e.status
	}
	e.status = Releasing
	return Releasing
}

// ConfirmRelease finalizes a Releasing entity back to Available, once
// pending inbound updates from the outgoing holder have been drained.
// Broadcasting UpdateAuthority(Available) to other users is the caller's
// responsibility.
func (t *Table) ConfirmRelease(entity ids.GlobalEntity) Status {
	e, ok := t.entries[entity]
	if !ok || e.status != Releasing {
		return t.StatusOf(entity)
	}
	e.status = Available
	e.holder = ids.UserKey{}
	return Available
}

// CanWrite reports whether user currently holds Granted authority over
// entity, i.e. whether its host-side writes should be emitted.
func (t *Table) CanWrite(entity ids.GlobalEntity, user ids.UserKey) bool {
	e, ok := t.entries[entity]
	return ok && e.status == Granted && e.holder == user
}

// CanRead reports whether the server should accept an inbound update
// for entity from user — true only while user holds Granted authority.
// Once an entity moves to Releasing, inbound updates from the outgoing
// holder stop being accepted even though the transition hasn't finished
// broadcasting yet.
func (t *Table) CanRead(entity ids.GlobalEntity, user ids.UserKey) bool {
	return t.CanWrite(entity, user)
}
