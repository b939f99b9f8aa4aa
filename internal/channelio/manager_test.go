package channelio

import (
	"testing"
	"time"

	"naia/bitio"
)

func newTestManager() *Manager {
	reg := newTestRegistry()
	m := NewManager(reg)
	m.RegisterChannel(Config{ID: 1, Mode: Unreliable, Direction: Bidirectional})
	m.RegisterChannel(Config{ID: 2, Mode: ReliableOrdered, Direction: Bidirectional, ResendFactor: 1.5})
	m.RegisterChannel(Config{ID: 3, Mode: TickBuffered, Direction: ClientToServer})
	return m
}

func TestManagerWriteReadPacketRoundTrip(t *testing.T) {
	m := newTestManager()
	m.Enqueue(1, 0, &textMessage{Text: "unreliable"})
	m.Enqueue(2, 0, &textMessage{Text: "reliable"})
	m.Enqueue(3, 42, &textMessage{Text: "tick-42"})

	now := time.Unix(0, 0)
	w := bitio.NewWriter(0)
	if err := m.WritePacket(100, now, 50*time.Millisecond, 42, 8192, w); err != nil {
		t.Fatal(err)
	}

	reader := newTestManager()
	r := bitio.NewReader(w.Bytes())
	if err := reader.ReadPacket(r, 42); err != nil {
		t.Fatal(err)
	}

	u := reader.DrainUnreliable(1)
	if len(u) != 1 || textOf(u[0]) != "unreliable" {
		t.Fatalf("expected unreliable message delivered, got %#v", u)
	}
	o := reader.DrainOrdered(2)
	if len(o) != 1 || textOf(o[0]) != "reliable" {
		t.Fatalf("expected ordered message delivered, got %#v", o)
	}
	tk := reader.DrainTick(3, 42)
	if len(tk) != 1 || textOf(tk[0]) != "tick-42" {
		t.Fatalf("expected tick-buffered message delivered at its tick, got %#v", tk)
	}
}

func TestManagerNotifyPacketDeliveredReleasesReliableBuffer(t *testing.T) {
	m := newTestManager()
	m.Enqueue(2, 0, &textMessage{Text: "reliable"})

	now := time.Unix(0, 0)
	w := bitio.NewWriter(0)
	if err := m.WritePacket(7, now, 20*time.Millisecond, 0, 8192, w); err != nil {
		t.Fatal(err)
	}

	if !m.reliableSenders[2].Pending() {
		t.Fatal("expected the reliable sender to still hold the message awaiting ack")
	}

	m.NotifyPacketDelivered(7)
	if m.reliableSenders[2].Pending() {
		t.Fatal("expected the reliable sender's buffer released once its packet was acked")
	}

	// A second delivered notification for an already-cleared packet index
	// must be a harmless no-op.
	m.NotifyPacketDelivered(7)
}

func TestManagerNotifyPacketDroppedMakesImmediatelyEligible(t *testing.T) {
	m := newTestManager()
	m.Enqueue(2, 0, &textMessage{Text: "reliable"})

	now := time.Unix(0, 0)
	w := bitio.NewWriter(0)
	m.WritePacket(1, now, time.Second, 0, 8192, w) // generous rtt so timer alone wouldn't fire

	m.NotifyPacketDropped(1)

	w2 := bitio.NewWriter(0)
	if err := m.WritePacket(2, now.Add(time.Millisecond), time.Second, 0, 8192, w2); err != nil {
		t.Fatal(err)
	}
	if !m.reliableSenders[2].Pending() {
		t.Fatal("expected the message still buffered (not yet acked)")
	}
	// Confirm it was actually retransmitted in packet 2 by checking the
	// packet carried bytes beyond the bare continuation-bit terminator.
	if len(w2.Bytes()) <= 1 {
		t.Fatalf("expected the dropped message resent in the next packet, got %d bytes", len(w2.Bytes()))
	}
}

func TestManagerReliableBufferedCount(t *testing.T) {
	m := newTestManager()
	if m.ReliableBufferedCount() != 0 {
		t.Fatalf("expected 0 buffered on a fresh manager, got %d", m.ReliableBufferedCount())
	}

	m.Enqueue(2, 0, &textMessage{Text: "reliable"})
	if m.ReliableBufferedCount() != 1 {
		t.Fatalf("expected 1 buffered, got %d", m.ReliableBufferedCount())
	}

	now := time.Unix(0, 0)
	w := bitio.NewWriter(0)
	if err := m.WritePacket(1, now, 20*time.Millisecond, 0, 8192, w); err != nil {
		t.Fatal(err)
	}
	m.NotifyPacketDelivered(1)
	if m.ReliableBufferedCount() != 0 {
		t.Fatalf("expected 0 buffered after delivery, got %d", m.ReliableBufferedCount())
	}
}

func TestManagerUnregisteredChannelEnqueueErrors(t *testing.T) {
	m := newTestManager()
	if err := m.Enqueue(99, 0, &textMessage{Text: "x"}); err == nil {
		t.Fatal("expected an error enqueuing on an unregistered channel")
	}
}
