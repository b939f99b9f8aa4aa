// Package ticktime implements naia's tick clock and the client-side
// projection that turns noisy pong samples into the four tick
// quantities a connection needs: the estimated current server tick, the
// tick the client should play buffered packets at, the tick it should
// tag outgoing commands with, and the tick the server still considers
// receivable. Jitter is tracked the same way the teacher's audio
// transport tracks inter-arrival jitter: an EWMA of the change between
// successive round-trip samples, gain 1/16 (RFC 3550).
package ticktime

import (
	"time"

	"naia/internal/wire"
)

// Tick is the server's wrapping tick counter; comparisons wrap exactly
// like packet sequence numbers.
type Tick = wire.Seq

// jitterAlpha is the EWMA gain used to smooth round-trip jitter (and the
// server's running average tick duration),
// matching client/transport.go's inter-arrival jitter constant.
const jitterAlpha = 1.0 / 16.0

// defaultSkewWindow is how long the client takes to slew from its old
// tick projection to a newly arrived one, per spec.md §4.6.
const defaultSkewWindow = 1 * time.Second

// projection is one (tick, instant, tick-duration) anchor the client
// interpolates from or towards.
type projection struct {
	tick     Tick
	instant  time.Time
	duration time.Duration
}

// at returns the tick estimated to be current at now, under this
// projection alone (no interpolation).
func (p projection) at(now time.Time) Tick {
	if p.duration <= 0 {
		return p.tick
	}
	elapsed := now.Sub(p.instant)
	steps := int64(elapsed / p.duration)
	return wire.SeqAdd(p.tick, uint16(int16(steps)))
}

// TimeManager is the client-side tick/time synchronizer. It is seeded
// once from the handshake's TimeSync summary, then refined on each
// subsequent pong; it never snaps to a new sample, interpolating over
// skewWindow so the game thread never observes a tick discontinuity.
type TimeManager struct {
	tickInterval time.Duration
	minLatency   time.Duration
	skewWindow   time.Duration

	rtt    time.Duration
	jitter time.Duration

	from      projection
	to        projection
	skewStart time.Time
	seeded    bool
}

// NewTimeManager returns a TimeManager for a connection with the given
// tick interval and minimum command latency (spec's
// minimum_command_latency).
func NewTimeManager(tickInterval, minLatency time.Duration) *TimeManager {
	return &TimeManager{
		tickInterval: tickInterval,
		minLatency:   minLatency,
		skewWindow:   defaultSkewWindow,
	}
}

// Seed establishes the manager's initial projection from the
// handshake's pruned TimeSync summary. No interpolation runs for this
// first sample — there is nothing to slew from yet.
func (m *TimeManager) Seed(now time.Time, tick Tick, avgTickDuration, rtt time.Duration) {
	p := projection{tick: tick, instant: now.Add(-rtt / 2), duration: avgTickDuration}
	m.from = p
	m.to = p
	m.skewStart = now
	m.rtt = rtt
	m.seeded = true
}

// RecordPong folds in a later pong's tick sample: it freezes the
// manager's currently-interpolated projection as the new "from" anchor,
// sets the fresh sample as "to", and restarts the skew window so
// Project slews between them rather than jumping.
func (m *TimeManager) RecordPong(now time.Time, tick Tick, avgTickDuration, rtt time.Duration) {
	if !m.seeded {
		m.Seed(now, tick, avgTickDuration, rtt)
		return
	}

	d := rtt - m.rtt
	if d < 0 {
		d = -d
	}
	if m.jitter == 0 {
		m.jitter = d
	} else {
		m.jitter += time.Duration(jitterAlpha * float64(d-m.jitter))
	}
	m.rtt = rtt

	current := m.Project(now)
	m.from = current
	m.to = projection{tick: tick, instant: now.Add(-rtt / 2), duration: avgTickDuration}
	m.skewStart = now
}

// Project returns the tick/instant/duration anchor in effect at now.
// Each of the "from" (previous) and "to" (latest) samples is
// independently projected forward to now, and the two tick estimates
// are linearly interpolated by how far now sits inside skewWindow —
// this is what lets a newly arrived sample take full effect smoothly
// instead of causing a visible tick jump.
func (m *TimeManager) Project(now time.Time) projection {
	if !m.seeded {
		return projection{}
	}
	elapsed := now.Sub(m.skewStart)
	if elapsed <= 0 {
		return projection{tick: m.from.at(now), instant: now, duration: m.from.duration}
	}
	if elapsed >= m.skewWindow {
		return projection{tick: m.to.at(now), instant: now, duration: m.to.duration}
	}

	frac := float64(elapsed) / float64(m.skewWindow)
	fromTick := m.from.at(now)
	toTick := m.to.at(now)
	tickDelta := float64(wire.WrappingDiff(fromTick, toTick))
	durDelta := float64(m.to.duration - m.from.duration)

	return projection{
		tick:     wire.SeqAdd(fromTick, uint16(int16(tickDelta*frac))),
		instant:  now,
		duration: m.from.duration + time.Duration(durDelta*frac),
	}
}

// ServerTickEstimate implements spec.md §4.6's
// `server_tick + floor((now - last_tick_instant) / avg_tick_duration)`,
// evaluated against the current interpolated projection.
func (m *TimeManager) ServerTickEstimate(now time.Time) Tick {
	return m.Project(now).tick
}

// ceilTicks computes ceil(d / tickInterval) as an integer number of
// ticks, correct for negative d too (Go's truncating division already
// rounds negative quotients towards zero, which is ceiling for a
// negative dividend over a positive divisor; only a positive,
// non-exact remainder needs the +1 that truncation missed).
func ceilTicks(d, tickInterval time.Duration) int64 {
	if tickInterval <= 0 {
		return 0
	}
	q := int64(d / tickInterval)
	r := d % tickInterval
	if r > 0 {
		q++
	}
	return q
}

func offsetTick(base Tick, ticks int64) Tick {
	if ticks >= 0 {
		return wire.SeqAdd(base, uint16(ticks))
	}
	return wire.SeqSub(base, uint16(-ticks))
}

// ClientReceivingTick is the tick the client plays buffered packets at:
// `server_tick_estimate - ceil(3*jitter / tick_ms)`.
func (m *TimeManager) ClientReceivingTick(now time.Time) Tick {
	estimate := m.ServerTickEstimate(now)
	return offsetTick(estimate, -ceilTicks(3*m.jitter, m.tickInterval))
}

// ClientSendingTick is the tick outgoing commands are tagged with:
// `server_tick_estimate + ceil(max(min_latency, rtt + 3*jitter) / tick_ms) + 1`.
func (m *TimeManager) ClientSendingTick(now time.Time) Tick {
	estimate := m.ServerTickEstimate(now)
	lead := m.rtt + 3*m.jitter
	if m.minLatency > lead {
		lead = m.minLatency
	}
	return offsetTick(estimate, ceilTicks(lead, m.tickInterval)+1)
}

// ServerReceivableTick is the tick beyond which tick-buffered commands
// are hopeless and purged: `server_tick_estimate + ceil((rtt - 3*jitter) / tick_ms)`.
func (m *TimeManager) ServerReceivableTick(now time.Time) Tick {
	estimate := m.ServerTickEstimate(now)
	return offsetTick(estimate, ceilTicks(m.rtt-3*m.jitter, m.tickInterval))
}

// RTT returns the manager's current smoothed round-trip estimate.
func (m *TimeManager) RTT() time.Duration { return m.rtt }

// Jitter returns the manager's current smoothed round-trip jitter: an
// EWMA of the absolute change between successive RTT samples.
func (m *TimeManager) Jitter() time.Duration { return m.jitter }

// ServerClock is the server side of the tick clock: it owns the
// authoritative tick counter and the running average tick duration
// piggybacked on every pong.
type ServerClock struct {
	tickInterval    time.Duration
	tick            Tick
	lastTickInstant time.Time
	avgTickDuration time.Duration
}

// NewServerClock starts a clock at tick 0, anchored at now.
func NewServerClock(tickInterval time.Duration, now time.Time) *ServerClock {
	return &ServerClock{
		tickInterval:    tickInterval,
		lastTickInstant: now,
		avgTickDuration: tickInterval,
	}
}

// Advance folds in the actual elapsed time since the last tick into the
// running average (EWMA, same gain as the client's jitter smoothing)
// and increments the tick counter. Called once per server tick.
func (c *ServerClock) Advance(now time.Time) {
	elapsed := now.Sub(c.lastTickInstant)
	c.avgTickDuration += time.Duration(jitterAlpha * float64(elapsed-c.avgTickDuration))
	c.lastTickInstant = now
	c.tick++
}

// CurrentTick returns the clock's current tick.
func (c *ServerClock) CurrentTick() Tick { return c.tick }

// Sample returns the (tick, tick_instant, avg_tick_duration) triple to
// piggyback on the next pong.
func (c *ServerClock) Sample() (tick Tick, tickInstant time.Time, avgTickDuration time.Duration) {
	return c.tick, c.lastTickInstant, c.avgTickDuration
}
