package channelio

import (
	"testing"

	"naia/bitio"
)

func TestTickBufferedSenderPrunesOncePassed(t *testing.T) {
	reg := newTestRegistry()
	s := NewTickBufferedSender(1, reg)
	s.Enqueue(10, &textMessage{Text: "tick-10"})

	// Server hasn't reached tick 10 yet: still resent.
	got := s.Drain(9, 4096)
	if len(got) != 1 {
		t.Fatalf("expected message still pending before receivable tick, got %v", got)
	}
	got = s.Drain(10, 4096)
	if len(got) != 1 {
		t.Fatalf("expected message still pending exactly at receivable tick, got %v", got)
	}

	// Server has now passed tick 10: no longer relevant, dropped.
	got = s.Drain(11, 4096)
	if len(got) != 0 {
		t.Fatalf("expected message pruned once receivable tick passed it, got %v", got)
	}
	if s.Pending() {
		t.Fatal("expected sender to have dropped the passed-tick message")
	}
}

func TestTickBufferedSenderResendsWhileRelevant(t *testing.T) {
	reg := newTestRegistry()
	s := NewTickBufferedSender(1, reg)
	s.Enqueue(5, &textMessage{Text: "tick-5"})

	first := s.Drain(3, 4096)
	second := s.Drain(4, 4096)
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected resend on every relevant tick, got %v then %v", first, second)
	}
}

func TestTickBufferedReceiverDeliversOnMatchingTick(t *testing.T) {
	r := NewTickBufferedReceiver()
	r.Receive(5, &textMessage{Text: "at-5"})
	r.Receive(6, &textMessage{Text: "at-6"})

	got := r.DrainAt(5)
	if len(got) != 1 || textOf(got[0]) != "at-5" {
		t.Fatalf("expected only the tick-5 message delivered, got %#v", got)
	}

	// Tick 6's message should still be buffered, awaiting its own tick.
	stillNothing := r.DrainAt(5)
	if len(stillNothing) != 0 {
		t.Fatalf("expected nothing further at tick 5, got %#v", stillNothing)
	}

	got = r.DrainAt(6)
	if len(got) != 1 || textOf(got[0]) != "at-6" {
		t.Fatalf("expected the tick-6 message delivered once its tick arrived, got %#v", got)
	}
}

func TestTickBufferedReceiverDropsPastTick(t *testing.T) {
	r := NewTickBufferedReceiver()
	r.Receive(3, &textMessage{Text: "stale"})

	got := r.DrainAt(5)
	if len(got) != 0 {
		t.Fatalf("expected stale tick silently dropped, not delivered, got %#v", got)
	}
}

func TestTickChunkRoundTrip(t *testing.T) {
	reg := newTestRegistry()
	entries := []tickEntry{
		{tick: 100, msg: indexedMessage{Index: 1, Msg: &textMessage{Text: "a"}}},
		{tick: 101, msg: indexedMessage{Index: 2, Msg: &textMessage{Text: "b"}}},
	}
	w := bitio.NewWriter(0)
	if err := writeTickChunk(w, reg, 3, entries); err != nil {
		t.Fatal(err)
	}
	r := bitio.NewReader(w.Bytes())
	chID, got, err := readTickChunk(r, reg)
	if err != nil {
		t.Fatal(err)
	}
	if chID != 3 || len(got) != 2 {
		t.Fatalf("got channel %v entries %#v", chID, got)
	}
	for i, e := range got {
		if e.tick != entries[i].tick || e.msg.Index != entries[i].msg.Index || textOf(e.msg.Msg) != textOf(entries[i].msg.Msg) {
			t.Fatalf("entry %d mismatch: got %#v want %#v", i, e, entries[i])
		}
	}
}
