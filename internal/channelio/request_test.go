package channelio

import (
	"testing"

	"naia/bitio"
)

func TestRequestResponseRoundTripThroughWire(t *testing.T) {
	reg := newTestRegistry()
	clientSide := NewRequestChannel(1, reg, 1.5)
	// Server side shares the same wire-level registration (a derive
	// facility would register the same reserved kinds on both ends'
	// registries, as it does here via a second RequestChannel instance
	// sharing reg).
	serverSide := NewRequestChannel(1, reg, 1.5)

	id, respCh := clientSide.Request(&textMessage{Text: "ping"})

	// Encode the request the way the sender would, then decode it the
	// way the receiver would off the wire.
	w := bitio.NewWriter(0)
	if err := reg.WriteMessage(w, &requestEnvelope{id: id, payload: &textMessage{Text: "ping"}, reg: reg}); err != nil {
		t.Fatal(err)
	}
	r := bitio.NewReader(w.Bytes())
	decoded, err := reg.ReadMessage(r)
	if err != nil {
		t.Fatal(err)
	}

	received := serverSide.HandleDelivered(decoded)
	if received == nil || textOf(received.Payload) != "ping" {
		t.Fatalf("expected a decoded request, got %#v", received)
	}

	serverSide.Respond(received.ID, &textMessage{Text: "pong"})

	w2 := bitio.NewWriter(0)
	if err := reg.WriteMessage(w2, &responseEnvelope{id: received.ID, payload: &textMessage{Text: "pong"}, reg: reg}); err != nil {
		t.Fatal(err)
	}
	r2 := bitio.NewReader(w2.Bytes())
	decoded2, err := reg.ReadMessage(r2)
	if err != nil {
		t.Fatal(err)
	}

	if got := clientSide.HandleDelivered(decoded2); got != nil {
		t.Fatalf("expected HandleDelivered to return nil for a response, got %#v", got)
	}

	select {
	case resp := <-respCh:
		if textOf(resp) != "pong" {
			t.Fatalf("expected pong response, got %#v", resp)
		}
	default:
		t.Fatal("expected response channel to have a value ready")
	}
}
