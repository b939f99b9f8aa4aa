package replication

import (
	"github.com/samber/lo"

	"naia/internal/ids"
)

// RoomID groups entities and users for visibility purposes; the
// application defines what a room means (an area, an instance, a
// channel of interest).
type RoomID uint64

// ScopeTuple is one candidate (room, user, entity) triple the server's
// per-tick scope_checks loop considers for inclusion.
type ScopeTuple struct {
	Room   RoomID
	User   ids.UserKey
	Entity ids.GlobalEntity
}

// ScopeDecision lets the application decide whether entity should be
// visible to user within room.
type ScopeDecision func(t ScopeTuple) bool

// ScopeDelta is the set of entities a user's scope gained and lost since
// the last check, which the engine turns into SpawnEntity/DespawnEntity
// actions on that user's WorldChannel.
type ScopeDelta struct {
	Entered []ids.GlobalEntity
	Left    []ids.GlobalEntity
}

// ScopeTracker remembers each user's current in-scope entity set across
// ticks, so Check can report only the entities that changed.
type ScopeTracker struct {
	inScope map[ids.UserKey]map[ids.GlobalEntity]bool
}

// NewScopeTracker returns an empty tracker.
func NewScopeTracker() *ScopeTracker {
	return &ScopeTracker{inScope: make(map[ids.UserKey]map[ids.GlobalEntity]bool)}
}

// Check runs one scope_checks pass: for every candidate tuple, decide
// reports whether entity belongs in user's scope, and the result is
// diffed against what that user's scope held last time.
func (t *ScopeTracker) Check(tuples []ScopeTuple, decide ScopeDecision) map[ids.UserKey]ScopeDelta {
	wantedTuples := lo.Filter(tuples, func(tup ScopeTuple, _ int) bool { return decide(tup) })
	byUser := lo.GroupBy(wantedTuples, func(tup ScopeTuple) ids.UserKey { return tup.User })

	wanted := make(map[ids.UserKey]map[ids.GlobalEntity]bool, len(byUser))
	for u, tups := range byUser {
		wanted[u] = make(map[ids.GlobalEntity]bool, len(tups))
		for _, tup := range tups {
			wanted[u][tup.Entity] = true
		}
	}

	users := lo.Union(lo.Keys(wanted), lo.Keys(t.inScope))

	deltas := make(map[ids.UserKey]ScopeDelta)
	for _, u := range users {
		want := wanted[u]
		have := t.inScope[u]

		entered, left := lo.Difference(lo.Keys(want), lo.Keys(have))
		if len(entered) > 0 || len(left) > 0 {
			deltas[u] = ScopeDelta{Entered: entered, Left: left}
		}

		if len(want) > 0 {
			t.inScope[u] = want
		} else {
			delete(t.inScope, u)
		}
	}
	return deltas
}
