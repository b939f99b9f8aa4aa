package naia

import (
	"log/slog"
	"net"
	"time"

	"naia/bitio"
	"naia/internal/handshake"
	"naia/internal/ids"
	"naia/internal/socket"
	"naia/internal/ticktime"
	"naia/internal/wire"
	"naia/protocol"
)

// Client is the application's single connection to one server: it drives
// the handshake to completion, then the steady-state Connection, entirely
// from Update(now). There is no background goroutine here; sock is the
// only thing that may run one, purely to pump blocking network
// primitives into its own non-blocking poll.
type Client struct {
	cfg        Config
	sock       socket.Socket
	serverAddr net.Addr
	msgReg     *protocol.MessageRegistry
	compReg    *protocol.ComponentRegistry
	ecs        World

	hs            *handshake.Client
	hsPingSentAt  map[uint16]time.Time
	hsNextPingIdx uint16

	conn       *Connection
	clock      *ticktime.TimeManager
	rtt        *rttSmoother
	lastPingAt time.Time

	events []Event

	// bytesSent/bytesRecv tally every datagram this side has sent or
	// received, for the owning cmd binary's periodic throughput log line.
	bytesSent uint64
	bytesRecv uint64
}

// BytesSent returns the total datagram bytes sent to the server so far.
func (c *Client) BytesSent() uint64 { return c.bytesSent }

// BytesReceived returns the total datagram bytes received from the
// server so far.
func (c *Client) BytesReceived() uint64 { return c.bytesRecv }

// NewClient returns a Client that will attempt to reach serverAddr with
// token as its identity, once Update starts being called.
func NewClient(cfg Config, sock socket.Socket, serverAddr net.Addr, token []byte, msgReg *protocol.MessageRegistry, compReg *protocol.ComponentRegistry, ecs World) *Client {
	return &Client{
		cfg:          cfg,
		sock:         sock,
		serverAddr:   serverAddr,
		msgReg:       msgReg,
		compReg:      compReg,
		ecs:          ecs,
		hs:           handshake.NewClient(serverAddr, token, cfg.HandshakePings, cfg.PingInterval, handshake.DefaultSendInterval),
		hsPingSentAt: make(map[uint16]time.Time),
		clock:        ticktime.NewTimeManager(cfg.TickInterval, cfg.MinimumCommandLatency),
		rtt:          newRTTSmoother(),
	}
}

// Connected reports whether the handshake has completed and the
// steady-state Connection is live.
func (c *Client) Connected() bool { return c.conn != nil }

// Connection exposes the live Connection once Connected, for
// SpawnEntity/EnqueueMessage/DrainMessages/etc. Returns nil before then.
func (c *Client) Connection() *Connection { return c.conn }

// UserKey returns the key the server assigned this connection, valid
// once Connected.
func (c *Client) UserKey() ids.UserKey { return c.hs.UserKey() }

// Update drains every datagram currently available from sock, advances
// the handshake or the steady-state connection, and returns every
// application event accumulated since the last call.
func (c *Client) Update(now time.Time) []Event {
	c.pump(now)

	if c.conn == nil {
		c.driveHandshake(now)
	} else {
		c.driveConnection(now)
	}

	out := c.events
	c.events = nil
	return out
}

// Disconnect tells the server this side is leaving cleanly and tears
// down the local connection immediately, rather than waiting for it to
// time out on the other end.
func (c *Client) Disconnect(now time.Time) {
	if c.conn == nil {
		return
	}
	if pkt, err := c.conn.WriteDisconnectPacket(now); err == nil {
		c.send(pkt)
	}
	c.teardown(now, DisconnectClean)
}

func (c *Client) emit(e Event) { c.events = append(c.events, e) }

func (c *Client) send(data []byte) {
	if err := c.sock.Send(c.serverAddr, data); err != nil {
		slog.Debug("naia: client send", "err", err)
		return
	}
	c.bytesSent += uint64(len(data))
}

// pump drains every datagram currently queued on sock.
func (c *Client) pump(now time.Time) {
	for {
		_, data, err := c.sock.Recv()
		if err != nil {
			if err != socket.ErrWouldBlock {
				slog.Debug("naia: client recv", "err", err)
			}
			return
		}
		c.bytesRecv += uint64(len(data))
		c.handleDatagram(now, data)
	}
}

func (c *Client) handleDatagram(now time.Time, data []byte) {
	pt, err := wire.PeekPacketType(data)
	if err != nil {
		slog.Debug("naia: client peek packet type", "err", err)
		return
	}
	if c.conn == nil {
		c.handlePreConnect(now, pt, data)
		return
	}
	c.handleConnected(now, pt, data)
}

// driveHandshake advances the handshake state machine: sends a fresh
// TimeSync ping when one is due, then lets handshake.Client's own Update
// drive Identify/Connect retransmission and phase transitions.
func (c *Client) driveHandshake(now time.Time) {
	if c.hs.PingDue(now) {
		c.sendHandshakePing(now)
	}
	c.hs.Update(now, c.sock)
}

func (c *Client) sendHandshakePing(now time.Time) {
	idx := c.hsNextPingIdx
	c.hsNextPingIdx++
	pkt, err := EncodeHandshakePing(idx)
	if err != nil {
		slog.Error("naia: encode handshake ping", "err", err)
		return
	}
	c.hsPingSentAt[idx] = now
	c.send(pkt)
}

func (c *Client) handlePreConnect(now time.Time, pt wire.PacketType, data []byte) {
	switch pt {
	case wire.PacketHandshake:
		h, r, err := handshake.DecodePacket(data)
		if err != nil {
			slog.Debug("naia: client decode handshake packet", "err", err)
			return
		}
		c.hs.HandlePacket(now, h, r)
		if h == handshake.Disconnect {
			c.emit(RejectEvent{Reason: "server rejected handshake"})
			return
		}
		if c.hs.Connected() {
			c.completeHandshake(now)
		}
	case wire.PacketPong:
		c.recordHandshakeSample(now, data)
	}
}

// recordHandshakeSample decodes a bare TimeSync pong and reconstructs
// the four-timestamp handshake.Sample it implies. The server only
// exposes its receive/send instants as gameInstants (ms since its own
// process start), not wall-clock time, so ServerRecv/ServerSend here are
// synthesized: their difference exactly matches the server's own
// measured processing delay (serverRecvAt.offsetFrom(serverSendAt),
// purely local to the server's clock and thus exact regardless of any
// client/server clock skew), split evenly around the ping's midpoint.
// This makes Sample.RTT() exact; Sample.Offset() is only ever used by
// Sampler's outlier pruning, where a consistent approximation across
// every sample still does its job.
func (c *Client) recordHandshakeSample(now time.Time, data []byte) {
	p, err := DecodeHandshakePong(data)
	if err != nil {
		slog.Debug("naia: client decode handshake pong", "err", err)
		return
	}
	sentAt, ok := c.hsPingSentAt[p.PingIndex]
	if !ok {
		return
	}
	delete(c.hsPingSentAt, p.PingIndex)

	serverProcess := time.Duration(p.ServerRecvAt.offsetFrom(p.ServerSendAt)) * time.Millisecond
	if serverProcess < 0 {
		serverProcess = 0
	}
	roundTrip := now.Sub(sentAt)
	netDelay := roundTrip - serverProcess
	if netDelay < 0 {
		netDelay = 0
	}
	serverRecv := sentAt.Add(netDelay / 2)
	serverSend := serverRecv.Add(serverProcess)

	c.hs.RecordSample(handshake.Sample{
		ClientSend: sentAt,
		ServerRecv: serverRecv,
		ServerSend: serverSend,
		ClientRecv: now,
	})
}

// completeHandshake builds the steady-state Connection once the
// handshake reaches StateConnected, seeding the tick clock from the
// handshake's pruned TimeSync summary.
func (c *Client) completeHandshake(now time.Time) {
	c.conn = NewConnection(RoleClient, c.hs.UserKey(), c.cfg, c.msgReg, c.compReg, c.ecs)
	summary := c.hs.TimeSyncSummary()
	c.conn.SetRTT(summary.RTT)
	c.clock.Seed(now, 0, c.cfg.TickInterval, summary.RTT)
	c.lastPingAt = now
	c.emit(ConnectEvent{User: c.hs.UserKey()})
}

func (c *Client) handleConnected(now time.Time, pt wire.PacketType, data []byte) {
	switch pt {
	case wire.PacketData:
		remoteTick, err := c.conn.ReadDataPacket(now, data)
		if err != nil {
			slog.Debug("naia: client read data packet", "err", err)
			return
		}
		c.clock.RecordPong(now, remoteTick, c.cfg.TickInterval, c.conn.RTT())
		for _, e := range c.conn.DrainEvents() {
			c.emit(e)
		}
	case wire.PacketHeartbeat:
		if _, err := c.conn.ReadControlHeader(now, data); err != nil {
			slog.Debug("naia: client read heartbeat", "err", err)
		}
	case wire.PacketPong:
		c.recordPong(now, data)
	case wire.PacketPing:
		c.replyToPing(now, data)
	case wire.PacketDisconnect:
		if _, err := c.conn.ReadControlHeader(now, data); err != nil {
			slog.Debug("naia: client read disconnect", "err", err)
		}
		c.teardown(now, DisconnectClean)
	}
}

func (c *Client) recordPong(now time.Time, data []byte) {
	r, err := c.conn.ReadControlHeader(now, data)
	if err != nil {
		slog.Debug("naia: client read pong", "err", err)
		return
	}
	p, err := readPong(r)
	if err != nil {
		slog.Debug("naia: client decode pong", "err", err)
		return
	}
	rtt, ok := c.rtt.RecordPong(now, p.PingIndex)
	if !ok {
		return
	}
	c.conn.SetRTT(rtt)
	avgTickDuration := time.Duration(p.AvgTickDurationMs) * time.Millisecond
	c.clock.RecordPong(now, p.ServerTick, avgTickDuration, rtt)
}

// replyToPing answers a Ping the server sent on its own RTT-probe
// cadence (the mirror image of the TimeSync-refinement pings this side
// sends): an immediate bare echo, since the server is the one deriving a
// measurement from it and the client has no clock sample of its own
// worth reporting back.
func (c *Client) replyToPing(now time.Time, data []byte) {
	r, err := c.conn.ReadControlHeader(now, data)
	if err != nil {
		slog.Debug("naia: client read ping", "err", err)
		return
	}
	p, err := readPing(r)
	if err != nil {
		slog.Debug("naia: client decode ping", "err", err)
		return
	}
	pkt, err := c.conn.WritePongPacket(now, pongPayload{PingIndex: p.Index})
	if err != nil {
		slog.Error("naia: encode pong packet", "err", err)
		return
	}
	c.send(pkt)
}

// driveConnection paces steady-state traffic: disconnection-timeout
// detection, the regular ping cadence, and a data packet every tick
// (falling back to a bare heartbeat if, for whatever reason, nothing has
// gone out in heartbeat_interval).
func (c *Client) driveConnection(now time.Time) {
	if c.conn.Idle(now) >= c.cfg.DisconnectionTimeout {
		c.teardown(now, DisconnectTimeout)
		return
	}

	if now.Sub(c.lastPingAt) >= c.cfg.PingInterval {
		c.sendPing(now)
		c.lastPingAt = now
	}

	switch {
	case c.conn.SinceLastSend(now) >= c.cfg.TickInterval:
		c.sendData(now)
	case c.conn.SinceLastSend(now) >= c.cfg.HeartbeatInterval:
		c.sendHeartbeat(now)
	}
}

func (c *Client) sendPing(now time.Time) {
	p := c.rtt.SendPing(now)
	pkt, err := c.conn.WritePingPacket(now, p.Index)
	if err != nil {
		slog.Error("naia: encode ping packet", "err", err)
		return
	}
	c.send(pkt)
}

func (c *Client) sendData(now time.Time) {
	w := bitio.NewWriter(c.cfg.packetBits())
	receivable := c.clock.ServerReceivableTick(now)
	if err := c.conn.WriteDataPacket(now, 0, receivable, w); err != nil {
		slog.Error("naia: encode data packet", "err", err)
		return
	}
	c.send(w.Bytes())
}

func (c *Client) sendHeartbeat(now time.Time) {
	pkt, err := c.conn.WriteHeartbeatPacket(now)
	if err != nil {
		slog.Error("naia: encode heartbeat packet", "err", err)
		return
	}
	c.send(pkt)
}

func (c *Client) teardown(now time.Time, reason DisconnectReason) {
	c.emit(DisconnectEvent{User: c.hs.UserKey(), Reason: reason})
	c.conn = nil
}
