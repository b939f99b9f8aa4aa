package naia

import (
	"testing"
	"time"

	"naia/internal/ticktime"
	"naia/internal/wire"
)

func TestGameInstantOffsetFromHandlesWraparound(t *testing.T) {
	near := gameInstant(gameInstantLimit - 10)
	far := gameInstant(5)

	got := far.offsetFrom(near)
	if got != -15 {
		t.Fatalf("expected the wraparound boundary collapsed to -15ms (near sits 15ms before far), got %d", got)
	}
}

func TestNewGameInstantWrapsAtLimit(t *testing.T) {
	start := time.Unix(0, 0)
	now := start.Add(time.Duration(gameInstantLimit+100) * time.Millisecond)
	g := newGameInstant(start, now)
	if g != 100 {
		t.Fatalf("expected elapsed time wrapped to 100ms, got %d", g)
	}
}

func TestPingPongWireRoundTrip(t *testing.T) {
	w, err := EncodeHandshakePing(42)
	if err != nil {
		t.Fatal(err)
	}
	kind, r, err := decodeBare(w)
	if err != nil {
		t.Fatal(err)
	}
	if kind != wire.PacketPing {
		t.Fatalf("expected PacketPing, got %v", kind)
	}
	p, err := readPing(r)
	if err != nil {
		t.Fatal(err)
	}
	if p.Index != 42 {
		t.Fatalf("expected index 42, got %d", p.Index)
	}
}

func TestPongWireRoundTrip(t *testing.T) {
	in := pongPayload{
		PingIndex:         7,
		ServerRecvAt:      gameInstant(1000),
		ServerTick:        ticktime.Tick(99),
		AvgTickDurationMs: 50,
		ServerTickInstant: gameInstant(2000),
		ServerSendAt:      gameInstant(3000),
	}
	data, err := EncodeHandshakePong(in)
	if err != nil {
		t.Fatal(err)
	}
	kind, r, err := decodeBare(data)
	if err != nil {
		t.Fatal(err)
	}
	if kind != wire.PacketPong {
		t.Fatalf("expected PacketPong, got %v", kind)
	}
	got, err := readPong(r)
	if err != nil {
		t.Fatal(err)
	}
	if got != in {
		t.Fatalf("round trip mismatch: got %#v want %#v", got, in)
	}
}

func TestRTTSmootherSeedsThenSmooths(t *testing.T) {
	s := newRTTSmoother()
	start := time.Unix(0, 0)

	p := s.SendPing(start)
	rtt, ok := s.RecordPong(start.Add(100*time.Millisecond), p.Index)
	if !ok {
		t.Fatal("expected the first pong to resolve its ping")
	}
	if rtt != 100*time.Millisecond {
		t.Fatalf("expected the seed sample used as-is, got %v", rtt)
	}

	p2 := s.SendPing(start.Add(time.Second))
	rtt2, ok := s.RecordPong(start.Add(time.Second+300*time.Millisecond), p2.Index)
	if !ok {
		t.Fatal("expected the second pong to resolve its ping")
	}
	if rtt2 <= rtt || rtt2 >= 300*time.Millisecond {
		t.Fatalf("expected an EWMA-smoothed value between the seed and the new sample, got %v", rtt2)
	}
}

func TestRTTSmootherRejectsUnknownIndex(t *testing.T) {
	s := newRTTSmoother()
	if _, ok := s.RecordPong(time.Unix(0, 0), 999); ok {
		t.Fatal("expected an unknown ping index to be rejected")
	}
}
