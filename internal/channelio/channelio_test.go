package channelio

import (
	"testing"
	"time"

	"naia/bitio"
	"naia/protocol"
)

type textMessage struct {
	Text string
}

func (m *textMessage) Write(w bitio.BitSink) error { return bitio.WriteStringP(w, m.Text) }

func readTextMessage(r *bitio.Reader) (protocol.Message, error) {
	s, err := bitio.ReadStringP(r, 1024)
	if err != nil {
		return nil, err
	}
	return &textMessage{Text: s}, nil
}

func newTestRegistry() *protocol.MessageRegistry {
	reg := protocol.NewMessageRegistry()
	reg.Register(1, &textMessage{}, readTextMessage)
	return reg
}

func textOf(m protocol.Message) string {
	tm, ok := m.(*textMessage)
	if !ok {
		return ""
	}
	return tm.Text
}

func TestUnreliableSenderDropsWhatDoesNotFit(t *testing.T) {
	reg := newTestRegistry()
	s := NewUnreliableSender(1, reg)
	s.Enqueue(&textMessage{Text: "a"})
	s.Enqueue(&textMessage{Text: "b"})

	// Budget only big enough for the chunk header plus one short message.
	small := measureChunk(reg, 1, []indexedMessage{{Index: 0, Msg: &textMessage{Text: "a"}}})
	taken := s.Drain(small)
	if len(taken) != 1 || textOf(taken[0].Msg) != "a" {
		t.Fatalf("expected exactly one message taken, got %#v", taken)
	}
	if s.Pending() {
		t.Fatal("unreliable sender must drop what didn't fit, not retain it")
	}
}

func TestUnreliableReceiverDeliversArrivalOrder(t *testing.T) {
	r := NewUnreliableReceiver()
	r.Receive(5, &textMessage{Text: "first"})
	r.Receive(2, &textMessage{Text: "second"})
	got := r.Drain()
	if len(got) != 2 || textOf(got[0]) != "first" || textOf(got[1]) != "second" {
		t.Fatalf("expected arrival-order delivery, got %#v", got)
	}
}

func TestUnreliableSequencedReceiverDropsStale(t *testing.T) {
	r := NewUnreliableSequencedReceiver()
	r.Receive(10, &textMessage{Text: "a"})
	r.Receive(5, &textMessage{Text: "stale"})
	r.Receive(11, &textMessage{Text: "b"})
	got := r.Drain()
	if len(got) != 2 || textOf(got[0]) != "a" || textOf(got[1]) != "b" {
		t.Fatalf("expected stale message dropped, got %#v", got)
	}
}

func TestUnreliableSequencedReceiverWrapsAround(t *testing.T) {
	r := NewUnreliableSequencedReceiver()
	r.Receive(65535, &textMessage{Text: "a"})
	r.Receive(0, &textMessage{Text: "b"})
	got := r.Drain()
	if len(got) != 2 {
		t.Fatalf("expected wraparound index treated as newer, got %#v", got)
	}
}

func TestReliableSenderResendsAfterTimeout(t *testing.T) {
	reg := newTestRegistry()
	s := NewReliableSender(1, reg, 1.0)
	s.Enqueue(&textMessage{Text: "only"})

	now := time.Unix(0, 0)
	rtt := 50 * time.Millisecond

	first := s.Drain(now, rtt, 4096)
	if len(first) != 1 {
		t.Fatalf("expected first send, got %v", first)
	}

	// Immediately draining again should not resend (inside resend window).
	second := s.Drain(now.Add(10*time.Millisecond), rtt, 4096)
	if len(second) != 0 {
		t.Fatalf("expected no resend before resend interval elapses, got %v", second)
	}

	// After the resend window elapses, it should resend.
	third := s.Drain(now.Add(100*time.Millisecond), rtt, 4096)
	if len(third) != 1 {
		t.Fatalf("expected resend after interval elapsed, got %v", third)
	}
}

func TestReliableSenderReleasesOnAck(t *testing.T) {
	reg := newTestRegistry()
	s := NewReliableSender(1, reg, 1.0)
	s.Enqueue(&textMessage{Text: "only"})

	now := time.Unix(0, 0)
	indices := s.Drain(now, 10*time.Millisecond, 4096)
	if len(indices) != 1 {
		t.Fatalf("expected one index drained, got %v", indices)
	}
	s.NotifyDelivered(indices)
	if s.Pending() {
		t.Fatal("expected buffer empty after delivery notification")
	}

	// Draining again (well past any resend window) should yield nothing.
	later := s.Drain(now.Add(time.Second), 10*time.Millisecond, 4096)
	if len(later) != 0 {
		t.Fatalf("expected nothing left to drain after ack, got %v", later)
	}
}

func TestReliableSenderCount(t *testing.T) {
	reg := newTestRegistry()
	s := NewReliableSender(1, reg, 1.0)
	if s.Count() != 0 {
		t.Fatalf("expected empty sender to count 0, got %d", s.Count())
	}
	s.Enqueue(&textMessage{Text: "one"})
	s.Enqueue(&textMessage{Text: "two"})
	if s.Count() != 2 {
		t.Fatalf("expected 2 buffered, got %d", s.Count())
	}

	now := time.Unix(0, 0)
	indices := s.Drain(now, 10*time.Millisecond, 4096)
	s.NotifyDelivered(indices)
	if s.Count() != 0 {
		t.Fatalf("expected 0 buffered after delivery, got %d", s.Count())
	}
}

func TestReliableSenderDroppedGoesImmediatelyEligible(t *testing.T) {
	reg := newTestRegistry()
	s := NewReliableSender(1, reg, 10.0) // large factor so timeout alone wouldn't fire soon
	s.Enqueue(&textMessage{Text: "only"})

	now := time.Unix(0, 0)
	indices := s.Drain(now, time.Second, 4096)
	s.NotifyDropped(indices)

	// Even though the resend factor*rtt window hasn't elapsed, a dropped
	// notification should make it eligible again right away.
	again := s.Drain(now.Add(time.Millisecond), time.Second, 4096)
	if len(again) != 1 {
		t.Fatalf("expected dropped message resent immediately, got %v", again)
	}
}

func TestReliableUnorderedReceiverToleratesGapsAndDropsDuplicates(t *testing.T) {
	r := NewReliableUnorderedReceiver(1024)
	r.Receive(3, &textMessage{Text: "c"})
	r.Receive(1, &textMessage{Text: "a"})
	r.Receive(1, &textMessage{Text: "a-dup"}) // resend duplicate, must be ignored
	got := r.Drain()
	if len(got) != 2 {
		t.Fatalf("expected gap tolerated and duplicate dropped, got %#v", got)
	}
}

func TestReliableOrderedReceiverReleasesContiguousPrefix(t *testing.T) {
	r := NewReliableOrderedReceiver()
	r.Receive(0, &textMessage{Text: "a"})
	r.Receive(2, &textMessage{Text: "c"})
	got := r.Drain()
	if len(got) != 1 || textOf(got[0]) != "a" {
		t.Fatalf("expected only the contiguous prefix released, got %#v", got)
	}
	if len(r.pendingIndices()) != 1 {
		t.Fatalf("expected index 2 still buffered awaiting index 1, got %v", r.pendingIndices())
	}

	r.Receive(1, &textMessage{Text: "b"})
	rest := r.Drain()
	if len(rest) != 2 || textOf(rest[0]) != "b" || textOf(rest[1]) != "c" {
		t.Fatalf("expected b then c released once the gap filled, got %#v", rest)
	}
}

func TestReliableOrderedReceiverDropsAlreadyDelivered(t *testing.T) {
	r := NewReliableOrderedReceiver()
	r.Receive(0, &textMessage{Text: "a"})
	r.Drain()
	r.Receive(0, &textMessage{Text: "a-resend"})
	if len(r.pendingIndices()) != 0 {
		t.Fatalf("expected already-delivered index not re-buffered, got %v", r.pendingIndices())
	}
}

func TestChunkRoundTrip(t *testing.T) {
	reg := newTestRegistry()
	msgs := []indexedMessage{
		{Index: 10, Msg: &textMessage{Text: "one"}},
		{Index: 12, Msg: &textMessage{Text: "two"}},
		{Index: 13, Msg: &textMessage{Text: "three"}},
	}
	w := bitio.NewWriter(0)
	if err := writeChunk(w, reg, 7, msgs); err != nil {
		t.Fatal(err)
	}
	r := bitio.NewReader(w.Bytes())
	chID, got, err := readChunk(r, reg)
	if err != nil {
		t.Fatal(err)
	}
	if chID != 7 || len(got) != 3 {
		t.Fatalf("got channel %v messages %#v", chID, got)
	}
	for i, im := range got {
		if im.Index != msgs[i].Index || textOf(im.Msg) != textOf(msgs[i].Msg) {
			t.Fatalf("message %d mismatch: got %#v want %#v", i, im, msgs[i])
		}
	}
}
