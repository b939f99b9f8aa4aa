package channelio

import (
	"testing"

	"naia/internal/ids"
)

func TestWaitlistReleasesWhenAllEntitiesKnown(t *testing.T) {
	w := NewEntityWaitlist()
	_, ok := w.Hold([]ids.LocalEntity{1, 2}, "payload-a")
	if ok {
		t.Fatal("expected payload held, entities not yet known")
	}
	if w.Len() != 1 {
		t.Fatalf("expected one waiter, got %d", w.Len())
	}

	w.MarkSpawned(1)
	if released := w.Release(); len(released) != 0 {
		t.Fatalf("expected nothing released with only one of two entities known, got %v", released)
	}

	w.MarkSpawned(2)
	released := w.Release()
	if len(released) != 1 || released[0] != "payload-a" {
		t.Fatalf("expected payload released once both entities known, got %v", released)
	}
	if w.Len() != 0 {
		t.Fatalf("expected waitlist empty after release, got %d", w.Len())
	}
}

func TestWaitlistHoldReturnsImmediatelyWhenAlreadyKnown(t *testing.T) {
	w := NewEntityWaitlist()
	w.MarkSpawned(5)
	payload, ok := w.Hold([]ids.LocalEntity{5}, "payload-b")
	if !ok || payload != "payload-b" {
		t.Fatalf("expected immediate release when dependency already known, got %v %v", payload, ok)
	}
	if w.Len() != 0 {
		t.Fatalf("expected nothing queued, got %d", w.Len())
	}
}

func TestWaitlistDespawnDoesNotCancelExistingWaiter(t *testing.T) {
	w := NewEntityWaitlist()
	w.MarkSpawned(1)
	w.Hold([]ids.LocalEntity{1, 2}, "payload-c")
	w.MarkDespawned(1) // entity 1 leaves scope again before entity 2 arrives

	w.MarkSpawned(2)
	// Entity 1 is no longer known, so the waiter should still be pending
	// (despawn doesn't proactively cancel a waiter already holding a
	// reference), not released and not dropped.
	released := w.Release()
	if len(released) != 0 {
		t.Fatalf("expected waiter still pending after despawn of a dependency, got %v", released)
	}
	if w.Len() != 1 {
		t.Fatalf("expected waiter retained (not cancelled) after despawn, got %d", w.Len())
	}
}
