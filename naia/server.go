package naia

import (
	"log/slog"
	"net"
	"time"

	"naia/bitio"
	"naia/internal/authority"
	"naia/internal/handshake"
	"naia/internal/ids"
	"naia/internal/metrics"
	"naia/internal/socket"
	"naia/internal/ticktime"
	"naia/internal/wire"
	"naia/protocol"
)

// serverPeer is everything the server tracks for one connected user,
// beyond the Connection itself: its current address (a handshake can
// complete from one address and the transport resolve future datagrams
// to the same logical peer from it), and the server-initiated RTT probe
// state, the mirror image of the client's own ping cadence.
type serverPeer struct {
	addr       net.Addr
	user       ids.UserKey
	conn       *Connection
	rtt        *rttSmoother
	lastPingAt time.Time
}

// Server is the listening side of naia: it drives the handshake for
// every inbound address, then one Connection per accepted user, all from
// an explicit Update(now) call. Like Client, the only goroutines in
// reach are the ones sock itself may run to pump a real network socket.
type Server struct {
	cfg     Config
	sock    socket.Socket
	msgReg  *protocol.MessageRegistry
	compReg *protocol.ComponentRegistry
	ecs     World

	hs        *handshake.Server
	clock     *ticktime.ServerClock
	authority *authority.Table
	metrics   *metrics.Collector

	peers     map[ids.UserKey]*serverPeer
	addrIndex map[string]ids.UserKey

	started    bool
	startedAt  time.Time
	lastTickAt time.Time
	events     []Event

	// bytesSent/bytesRecv tally every datagram this side has sent or
	// received across every peer, for the owning cmd binary's periodic
	// throughput log line.
	bytesSent uint64
	bytesRecv uint64
}

// BytesSent returns the total datagram bytes sent to every peer so far.
func (s *Server) BytesSent() uint64 { return s.bytesSent }

// BytesReceived returns the total datagram bytes received from every
// peer so far.
func (s *Server) BytesReceived() uint64 { return s.bytesRecv }

// NewServer returns a Server listening for handshakes on sock.
// onAccept is the application's authorization hook: given the address
// and opaque token a Connect request carried, it decides whether to
// admit the connection and, if so, mints the UserKey to assign.
func NewServer(
	cfg Config,
	sock socket.Socket,
	signerKey []byte,
	replay handshake.ReplayCache,
	limit handshake.RateLimit,
	msgReg *protocol.MessageRegistry,
	compReg *protocol.ComponentRegistry,
	ecs World,
	metricsCollector *metrics.Collector,
	onAccept func(addr net.Addr, token []byte) (ids.UserKey, bool),
) *Server {
	s := &Server{
		cfg:       cfg,
		sock:      sock,
		msgReg:    msgReg,
		compReg:   compReg,
		ecs:       ecs,
		authority: authority.NewTable(),
		metrics:   metricsCollector,
		peers:     make(map[ids.UserKey]*serverPeer),
		addrIndex: make(map[string]ids.UserKey),
	}
	s.hs = handshake.NewServer(signerKey, replay, limit, func(addr net.Addr, token []byte) (ids.UserKey, bool) {
		key, ok := onAccept(addr, token)
		if !ok {
			return key, false
		}
		s.addConnection(addr, key)
		return key, true
	})
	return s
}

// Authority exposes the server's authority table, for the application to
// call RequestAuthority/ReleaseAuthority on behalf of a connected user
// (spec.md §4.7).
func (s *Server) Authority() *authority.Table { return s.authority }

// Connection returns the live Connection for user, if connected.
func (s *Server) Connection(user ids.UserKey) (*Connection, bool) {
	p, ok := s.peers[user]
	if !ok {
		return nil, false
	}
	return p.conn, true
}

// Connections returns every currently connected user's key.
func (s *Server) Connections() []ids.UserKey {
	out := make([]ids.UserKey, 0, len(s.peers))
	for k := range s.peers {
		out = append(out, k)
	}
	return out
}

// Update drains every datagram currently available from sock, advances
// the tick clock, paces every connection's steady-state traffic, and
// returns every application event accumulated since the last call.
func (s *Server) Update(now time.Time) []Event {
	if !s.started {
		s.started = true
		s.startedAt = now
		s.lastTickAt = now
		s.clock = ticktime.NewServerClock(s.cfg.TickInterval, now)
	}

	s.pump(now)

	if s.cfg.TickInterval > 0 {
		for now.Sub(s.lastTickAt) >= s.cfg.TickInterval {
			s.lastTickAt = s.lastTickAt.Add(s.cfg.TickInterval)
			s.clock.Advance(s.lastTickAt)
		}
	}

	for user, p := range s.peers {
		s.drivePeer(now, user, p)
	}

	out := s.events
	s.events = nil
	return out
}

func (s *Server) emit(e Event) { s.events = append(s.events, e) }

func (s *Server) send(addr net.Addr, data []byte) {
	if err := s.sock.Send(addr, data); err != nil {
		slog.Debug("naia: server send", "addr", addr, "err", err)
		return
	}
	s.bytesSent += uint64(len(data))
}

// pump drains every datagram currently queued on sock and routes it to
// the handshake layer or the owning peer's Connection by packet type.
func (s *Server) pump(now time.Time) {
	for {
		addr, data, err := s.sock.Recv()
		if err != nil {
			if err != socket.ErrWouldBlock {
				slog.Debug("naia: server recv", "err", err)
			}
			return
		}
		s.bytesRecv += uint64(len(data))
		s.handleDatagram(now, addr, data)
	}
}

func (s *Server) handleDatagram(now time.Time, addr net.Addr, data []byte) {
	pt, err := wire.PeekPacketType(data)
	if err != nil {
		slog.Debug("naia: server peek packet type", "addr", addr, "err", err)
		return
	}

	if pt == wire.PacketHandshake {
		h, r, err := handshake.DecodePacket(data)
		if err != nil {
			slog.Debug("naia: server decode handshake packet", "addr", addr, "err", err)
			return
		}
		if resp := s.hs.HandlePacket(now, addr, h, r); resp != nil {
			s.send(addr, resp)
		}
		return
	}

	user, ok := s.addrIndex[addr.String()]
	if !ok {
		slog.Debug("naia: server packet from unknown peer", "addr", addr, "type", pt)
		return
	}
	p := s.peers[user]
	s.handlePeerDatagram(now, p, pt, data)
}

// addConnection materializes a Connection and tick/metrics bookkeeping
// for a newly accepted user, called synchronously from within the
// handshake's onAccept hook so the mapping exists before the Connect
// response is even sent.
func (s *Server) addConnection(addr net.Addr, user ids.UserKey) {
	conn := NewConnection(RoleServer, user, s.cfg, s.msgReg, s.compReg, s.ecs)
	p := &serverPeer{addr: addr, user: user, conn: conn, rtt: newRTTSmoother()}
	s.peers[user] = p
	s.addrIndex[addr.String()] = user

	if s.metrics != nil {
		s.metrics.Register(user.String(), []string{user.String()}, func() metrics.Snapshot {
			return metrics.Snapshot{
				RTTSeconds:       conn.RTT().Seconds(),
				PacketLoss:       conn.PacketLoss(),
				ReliableBuffered: conn.ReliableBuffered(),
				EntitiesInScope:  conn.EntitiesInScope(),
				PendingActions:   conn.PendingActions(),
			}
		})
	}

	s.emit(ConnectEvent{User: user})
}

func (s *Server) handlePeerDatagram(now time.Time, p *serverPeer, pt wire.PacketType, data []byte) {
	switch pt {
	case wire.PacketData:
		if _, err := p.conn.ReadDataPacket(now, data); err != nil {
			slog.Debug("naia: server read data packet", "user", p.user, "err", err)
			return
		}
		for _, e := range p.conn.DrainEvents() {
			s.emit(e)
		}
	case wire.PacketHeartbeat:
		if _, err := p.conn.ReadControlHeader(now, data); err != nil {
			slog.Debug("naia: server read heartbeat", "user", p.user, "err", err)
		}
	case wire.PacketPing:
		s.replyToPing(now, p, data)
	case wire.PacketPong:
		s.recordPong(now, p, data)
	case wire.PacketDisconnect:
		if _, err := p.conn.ReadControlHeader(now, data); err != nil {
			slog.Debug("naia: server read disconnect", "user", p.user, "err", err)
		}
		s.removePeer(now, p.user, DisconnectClean)
	}
}

// replyToPing answers a TimeSync-refinement ping from a client with the
// server's real clock sample, piggybacking current_tick, tick_instant,
// and avg_tick_duration per spec.md §4.6.
func (s *Server) replyToPing(now time.Time, p *serverPeer, data []byte) {
	r, err := p.conn.ReadControlHeader(now, data)
	if err != nil {
		slog.Debug("naia: server read ping", "user", p.user, "err", err)
		return
	}
	ping, err := readPing(r)
	if err != nil {
		slog.Debug("naia: server decode ping", "user", p.user, "err", err)
		return
	}

	tick, tickInstant, avgTickDuration := s.clock.Sample()
	payload := pongPayload{
		PingIndex:         ping.Index,
		ServerRecvAt:      newGameInstant(s.startedAt, now),
		ServerTick:        tick,
		AvgTickDurationMs: uint64(avgTickDuration.Milliseconds()),
		ServerTickInstant: newGameInstant(s.startedAt, tickInstant),
		ServerSendAt:      newGameInstant(s.startedAt, now),
	}
	pkt, err := p.conn.WritePongPacket(now, payload)
	if err != nil {
		slog.Error("naia: encode pong packet", "user", p.user, "err", err)
		return
	}
	s.send(p.addr, pkt)
}

// recordPong folds in the echo response to one of this side's own
// RTT-probe pings; only the index matters here, the client has no
// server-shaped clock sample to report back.
func (s *Server) recordPong(now time.Time, p *serverPeer, data []byte) {
	r, err := p.conn.ReadControlHeader(now, data)
	if err != nil {
		slog.Debug("naia: server read pong", "user", p.user, "err", err)
		return
	}
	pong, err := readPong(r)
	if err != nil {
		slog.Debug("naia: server decode pong", "user", p.user, "err", err)
		return
	}
	rtt, ok := p.rtt.RecordPong(now, pong.PingIndex)
	if !ok {
		return
	}
	p.conn.SetRTT(rtt)
}

// drivePeer paces one connection's steady-state traffic: disconnection
// timeout, the server's own RTT-probe ping cadence, and a data packet
// every tick (falling back to a bare heartbeat if nothing has gone out
// in heartbeat_interval).
func (s *Server) drivePeer(now time.Time, user ids.UserKey, p *serverPeer) {
	if p.conn.Idle(now) >= s.cfg.DisconnectionTimeout {
		s.removePeer(now, user, DisconnectTimeout)
		return
	}

	if now.Sub(p.lastPingAt) >= s.cfg.PingInterval {
		s.sendPing(now, p)
		p.lastPingAt = now
	}

	switch {
	case p.conn.SinceLastSend(now) >= s.cfg.TickInterval:
		s.sendData(now, p)
	case p.conn.SinceLastSend(now) >= s.cfg.HeartbeatInterval:
		s.sendHeartbeat(now, p)
	}
}

func (s *Server) sendPing(now time.Time, p *serverPeer) {
	ping := p.rtt.SendPing(now)
	pkt, err := p.conn.WritePingPacket(now, ping.Index)
	if err != nil {
		slog.Error("naia: encode ping packet", "user", p.user, "err", err)
		return
	}
	s.send(p.addr, pkt)
}

func (s *Server) sendData(now time.Time, p *serverPeer) {
	w := bitio.NewWriter(s.cfg.packetBits())
	tick := s.clock.CurrentTick()
	if err := p.conn.WriteDataPacket(now, tick, tick, w); err != nil {
		slog.Error("naia: encode data packet", "user", p.user, "err", err)
		return
	}
	s.send(p.addr, w.Bytes())
}

func (s *Server) sendHeartbeat(now time.Time, p *serverPeer) {
	pkt, err := p.conn.WriteHeartbeatPacket(now)
	if err != nil {
		slog.Error("naia: encode heartbeat packet", "user", p.user, "err", err)
		return
	}
	s.send(p.addr, pkt)
}

// removePeer tears down user's connection and emits the corresponding
// DisconnectEvent.
func (s *Server) removePeer(now time.Time, user ids.UserKey, reason DisconnectReason) {
	p, ok := s.peers[user]
	if !ok {
		return
	}
	delete(s.peers, user)
	delete(s.addrIndex, p.addr.String())
	if s.metrics != nil {
		s.metrics.Unregister(user.String())
	}
	s.emit(DisconnectEvent{User: user, Reason: reason})
}
