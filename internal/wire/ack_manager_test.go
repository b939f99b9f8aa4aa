package wire

import "testing"

type recordingNotifiable struct {
	delivered []Seq
}

func (r *recordingNotifiable) NotifyPacketDelivered(idx Seq) { r.delivered = append(r.delivered, idx) }
func (r *recordingNotifiable) NotifyPacketDropped(Seq)       {}

func TestAckManagerHeaderRoundTrip(t *testing.T) {
	sender := NewAckManager()
	receiver := NewAckManager()

	h1 := sender.NextOutgoingHeader(PacketData)
	if h1.SenderPacketIndex != 0 {
		t.Fatalf("first packet index = %d, want 0", h1.SenderPacketIndex)
	}

	recv := &recordingNotifiable{}
	receiver.ProcessIncomingHeader(h1, recv)

	// Receiver's next outgoing header should ack packet 0.
	h2 := receiver.NextOutgoingHeader(PacketData)
	if h2.SenderAckIndex != 0 {
		t.Fatalf("ack index = %d, want 0", h2.SenderAckIndex)
	}

	sendRecv := &recordingNotifiable{}
	sender.ProcessIncomingHeader(h2, sendRecv)
	if len(sendRecv.delivered) != 1 || sendRecv.delivered[0] != 0 {
		t.Fatalf("expected packet 0 delivered, got %v", sendRecv.delivered)
	}
}

func TestAckManagerOnlyNotifiesDataPackets(t *testing.T) {
	sender := NewAckManager()
	receiver := NewAckManager()

	h1 := sender.NextOutgoingHeader(PacketHeartbeat)
	receiver.ProcessIncomingHeader(h1, nil)
	h2 := receiver.NextOutgoingHeader(PacketData)

	recv := &recordingNotifiable{}
	sender.ProcessIncomingHeader(h2, recv)
	if len(recv.delivered) != 0 {
		t.Fatalf("heartbeat packets must not trigger delivery notification, got %v", recv.delivered)
	}
}

func TestAckManagerRedundantBitfield(t *testing.T) {
	sender := NewAckManager()
	receiver := NewAckManager()

	var headers []StandardHeader
	for i := 0; i < 5; i++ {
		headers = append(headers, sender.NextOutgoingHeader(PacketData))
	}
	// Receiver only actually sees packets 0, 1, and 4 — packets 2 and 3 are
	// lost in transit.
	receiver.ProcessIncomingHeader(headers[0], nil)
	receiver.ProcessIncomingHeader(headers[1], nil)
	receiver.ProcessIncomingHeader(headers[4], nil)

	ack := receiver.NextOutgoingHeader(PacketData)
	if ack.SenderAckIndex != 4 {
		t.Fatalf("ack index = %d, want 4", ack.SenderAckIndex)
	}
	// Bit 3 back from 4 is packet 1 (received), bit 4 back is packet 0 (received).
	if ack.SenderAckBitfield&(1<<2) == 0 {
		t.Fatalf("expected packet 1 acked in bitfield %032b", ack.SenderAckBitfield)
	}
	if ack.SenderAckBitfield&(1<<3) == 0 {
		t.Fatalf("expected packet 0 acked in bitfield %032b", ack.SenderAckBitfield)
	}
	if ack.SenderAckBitfield&(1<<0) != 0 {
		t.Fatalf("packet 3 should not be acked: %032b", ack.SenderAckBitfield)
	}

	recv := &recordingNotifiable{}
	sender.ProcessIncomingHeader(ack, recv)
	want := map[Seq]bool{0: true, 1: true}
	got := map[Seq]bool{}
	for _, d := range recv.delivered {
		got[d] = true
	}
	for k := range want {
		if !got[k] {
			t.Fatalf("expected packet %d delivered, got %v", k, recv.delivered)
		}
	}
	if got[2] || got[3] {
		t.Fatalf("packets 2/3 were dropped and must not be reported delivered: %v", recv.delivered)
	}
}

func TestSequenceBufferAliasing(t *testing.T) {
	buf := newSequenceBuffer(4)
	buf.insert(1)
	if !buf.exists(1) {
		t.Fatal("expected 1 to exist")
	}
	// 5 aliases to the same slot as 1 (mod 4) but is a distinct sequence
	// number; inserting it must not make exists(1) a false positive once 1
	// has actually aged out of the window.
	buf.insert(2)
	buf.insert(3)
	buf.insert(5)
	if buf.exists(1) {
		t.Fatal("stale aliased entry 1 should no longer exist")
	}
	if !buf.exists(5) {
		t.Fatal("expected 5 to exist")
	}
}
