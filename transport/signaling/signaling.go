// Package signaling carries the SDP offer/answer and trickled ICE
// candidates needed to bootstrap a transport/webrtctransport PeerConnection,
// over a WebSocket control channel — the same upgrade-then-dispatch shape
// naia's ambient control-plane server uses elsewhere, applied here to a
// bootstrap handshake instead of application messages.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

// Message is one signaling exchange frame.
type Message struct {
	Type      string                     `json:"type"` // "offer", "answer", or "candidate"
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Conn is a bidirectional signaling channel over a single WebSocket
// connection, carrying exactly one negotiation's worth of messages.
type Conn struct {
	ws *websocket.Conn
}

func newConn(ws *websocket.Conn) *Conn { return &Conn{ws: ws} }

func (c *Conn) send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("signaling: marshal: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("signaling: write: %w", err)
	}
	return nil
}

// SendOffer sends a local SDP offer.
func (c *Conn) SendOffer(sdp webrtc.SessionDescription) error {
	return c.send(Message{Type: "offer", SDP: &sdp})
}

// SendAnswer sends a local SDP answer.
func (c *Conn) SendAnswer(sdp webrtc.SessionDescription) error {
	return c.send(Message{Type: "answer", SDP: &sdp})
}

// SendCandidate trickles a single local ICE candidate.
func (c *Conn) SendCandidate(cand webrtc.ICECandidateInit) error {
	return c.send(Message{Type: "candidate", Candidate: &cand})
}

// Recv blocks for the next signaling message.
func (c *Conn) Recv() (Message, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return Message{}, fmt.Errorf("signaling: read: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("signaling: unmarshal: %w", err)
	}
	return msg, nil
}

// Close closes the underlying WebSocket connection.
func (c *Conn) Close() error { return c.ws.Close() }

// Server accepts WebSocket signaling connections and hands each accepted
// Conn to handle on its own goroutine, mirroring a join-then-dispatch
// server loop. handle owns the Conn's lifetime and should Close it once
// the negotiation it drives is finished or has failed.
type Server struct {
	upgrader websocket.Upgrader
	handle   func(*Conn)
}

// NewServer returns a Server that invokes handle once per accepted
// signaling connection.
func NewServer(handle func(*Conn)) *Server {
	return &Server{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		handle:   handle,
	}
}

// ServeHTTP implements http.Handler, upgrading each request to a
// WebSocket-backed signaling Conn.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	go s.handle(newConn(ws))
}

const dialTimeout = 10 * time.Second

// Dial opens a signaling connection to a server's signaling endpoint
// (a "ws://" or "wss://" URL).
func Dial(ctx context.Context, url string) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("signaling: dial %s: %w", url, err)
	}
	return newConn(ws), nil
}

// NegotiateOfferer drives the offering side of a negotiation against an
// already-constructed PeerConnection (and, typically, an already-created
// DataChannel from transport/webrtctransport's Offer): it creates and sends
// the local offer, applies candidates trickled in before the answer
// arrives, and applies the remote answer once received. Candidates that
// continue to trickle in after the answer are relayed on a background
// goroutine until conn is closed or ctx is cancelled.
func NegotiateOfferer(ctx context.Context, conn *Conn, pc *webrtc.PeerConnection) error {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		_ = conn.SendCandidate(c.ToJSON())
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("signaling: create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("signaling: set local description: %w", err)
	}
	if err := conn.SendOffer(offer); err != nil {
		return err
	}

	for {
		msg, err := conn.Recv()
		if err != nil {
			return fmt.Errorf("signaling: waiting for answer: %w", err)
		}
		switch msg.Type {
		case "answer":
			if msg.SDP == nil {
				continue
			}
			if err := pc.SetRemoteDescription(*msg.SDP); err != nil {
				return fmt.Errorf("signaling: set remote description: %w", err)
			}
			go relayCandidates(ctx, conn, pc)
			return nil
		case "candidate":
			if msg.Candidate != nil {
				_ = pc.AddICECandidate(*msg.Candidate)
			}
		}
	}
}

// NegotiateAnswerer drives the answering side of a negotiation: it waits
// for the remote offer, applies it, creates and sends the local answer,
// and then relays trickled candidates on a background goroutine the same
// way NegotiateOfferer does.
func NegotiateAnswerer(ctx context.Context, conn *Conn, pc *webrtc.PeerConnection) error {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		_ = conn.SendCandidate(c.ToJSON())
	})

	for {
		msg, err := conn.Recv()
		if err != nil {
			return fmt.Errorf("signaling: waiting for offer: %w", err)
		}
		if msg.Type == "candidate" {
			if msg.Candidate != nil {
				_ = pc.AddICECandidate(*msg.Candidate)
			}
			continue
		}
		if msg.Type != "offer" || msg.SDP == nil {
			continue
		}
		if err := pc.SetRemoteDescription(*msg.SDP); err != nil {
			return fmt.Errorf("signaling: set remote description: %w", err)
		}
		break
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("signaling: create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("signaling: set local description: %w", err)
	}
	if err := conn.SendAnswer(answer); err != nil {
		return err
	}

	go relayCandidates(ctx, conn, pc)
	return nil
}

// relayCandidates keeps applying trickled remote ICE candidates after the
// offer/answer exchange has completed, until conn is closed or ctx is done.
func relayCandidates(ctx context.Context, conn *Conn, pc *webrtc.PeerConnection) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := conn.Recv()
		if err != nil {
			return
		}
		if msg.Type == "candidate" && msg.Candidate != nil {
			_ = pc.AddICECandidate(*msg.Candidate)
		}
	}
}
