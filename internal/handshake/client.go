package handshake

import (
	"log/slog"
	"net"
	"time"

	"naia/bitio"
	"naia/internal/ids"
	"naia/internal/socket"
)

// ClientState names the step a client-side handshake is currently in.
type ClientState int

const (
	StateIdle ClientState = iota
	StateAwaitingIdentify
	StateTimeSyncing
	StateAwaitingConnect
	StateConnected
	StateRejected
)

// DefaultSendInterval is the retransmit interval for a handshake step
// that has not yet received its response.
const DefaultSendInterval = 250 * time.Millisecond

// Client drives the client side of the handshake: Identify, then a
// TimeSync sampling window, then Connect. It is updated explicitly via
// Update — there is no background goroutine.
type Client struct {
	token        []byte
	serverAddr   net.Addr
	sendInterval time.Duration
	pingInterval time.Duration

	state      ClientState
	lastSendAt time.Time
	cookie     []byte
	sampler    *Sampler
	nextPingAt time.Time
	userKey    ids.UserKey
	summary    Summary
}

// NewClient starts a handshake for the given server address and identity
// token. handshakePings is the TimeSync sample target (spec's
// handshake_pings, default ~10).
func NewClient(serverAddr net.Addr, token []byte, handshakePings int, pingInterval, sendInterval time.Duration) *Client {
	if sendInterval <= 0 {
		sendInterval = DefaultSendInterval
	}
	return &Client{
		token:        token,
		serverAddr:   serverAddr,
		sendInterval: sendInterval,
		pingInterval: pingInterval,
		sampler:      NewSampler(handshakePings),
		state:        StateIdle,
	}
}

// State returns the current step.
func (c *Client) State() ClientState { return c.state }

// Connected reports whether the handshake has completed successfully.
func (c *Client) Connected() bool { return c.state == StateConnected }

// UserKey returns the UserKey assigned by the server, valid once
// Connected.
func (c *Client) UserKey() ids.UserKey { return c.userKey }

// TimeSyncSummary returns the pruned TimeSync result, valid once the
// Connect step has been reached.
func (c *Client) TimeSyncSummary() Summary { return c.summary }

// Update drives retransmission and phase transitions. It sends at most
// one packet per call via sock.
func (c *Client) Update(now time.Time, sock socket.Socket) {
	switch c.state {
	case StateIdle:
		c.sendIdentify(now, sock)
	case StateAwaitingIdentify:
		if now.Sub(c.lastSendAt) >= c.sendInterval {
			c.sendIdentify(now, sock)
		}
	case StateTimeSyncing:
		if now.After(c.nextPingAt) || now.Equal(c.nextPingAt) {
			// Ping/pong framing belongs to the wire/ticktime layer; the
			// connection orchestrator owns sending the actual ping packet
			// and calls RecordSample as pongs arrive. Here we only track
			// cadence so the orchestrator knows when a ping is due.
			c.nextPingAt = now.Add(c.pingInterval)
		}
		if c.sampler.Ready() {
			c.summary = c.sampler.Summarize()
			c.state = StateAwaitingConnect
			c.sendConnect(now, sock)
		}
	case StateAwaitingConnect:
		if now.Sub(c.lastSendAt) >= c.sendInterval {
			c.sendConnect(now, sock)
		}
	}
}

// PingDue reports whether the TimeSync phase wants a ping sent now.
func (c *Client) PingDue(now time.Time) bool {
	return c.state == StateTimeSyncing && !now.Before(c.nextPingAt)
}

// RecordSample feeds one completed ping/pong round trip into the TimeSync
// sampler.
func (c *Client) RecordSample(s Sample) {
	if c.state == StateTimeSyncing {
		c.sampler.Add(s)
	}
}

func (c *Client) sendIdentify(now time.Time, sock socket.Socket) {
	pkt, err := EncodeClientIdentifyRequest(c.token)
	if err != nil {
		slog.Error("handshake: encode identify request", "err", err)
		return
	}
	if err := sock.Send(c.serverAddr, pkt); err != nil {
		slog.Debug("handshake: send identify request", "err", err)
	}
	c.lastSendAt = now
	c.state = StateAwaitingIdentify
}

func (c *Client) sendConnect(now time.Time, sock socket.Socket) {
	pkt, err := EncodeClientConnectRequest(c.cookie, c.token)
	if err != nil {
		slog.Error("handshake: encode connect request", "err", err)
		return
	}
	if err := sock.Send(c.serverAddr, pkt); err != nil {
		slog.Debug("handshake: send connect request", "err", err)
	}
	c.lastSendAt = now
}

// HandlePacket dispatches an incoming handshake packet to the
// appropriate phase transition.
func (c *Client) HandlePacket(now time.Time, h Header, r *bitio.Reader) {
	switch h {
	case ServerIdentifyResponse:
		if c.state != StateAwaitingIdentify {
			return
		}
		p, err := readIdentifyResponse(r)
		if err != nil {
			slog.Debug("handshake: decode identify response", "err", err)
			return
		}
		c.cookie = p.Cookie
		c.state = StateTimeSyncing
		c.nextPingAt = now
	case ServerConnectResponse:
		if c.state != StateAwaitingConnect {
			return
		}
		p, err := readConnectResponse(r)
		if err != nil {
			slog.Debug("handshake: decode connect response", "err", err)
			return
		}
		c.userKey = p.UserKey
		c.state = StateConnected
		slog.Info("handshake: connected", "user_key", c.userKey)
	case Disconnect:
		c.state = StateRejected
		slog.Info("handshake: rejected by server")
	}
}
