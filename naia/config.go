package naia

import (
	"time"

	"naia/internal/channelio"
)

// Default tuning values, matching the constants scattered through
// client/transport.go and server/server.go (heartbeat/timeout/ping
// cadence, initial RTT/jitter guesses, the RFC 6298-style smoothing
// factor).
const (
	DefaultHeartbeatInterval  = 2 * time.Second
	DefaultDisconnectTimeout  = 10 * time.Second
	DefaultPingInterval       = 1 * time.Second
	DefaultHandshakePings     = 10
	DefaultRTTInitialEstimate = 200 * time.Millisecond
	DefaultJitterInitial      = 20 * time.Millisecond
	DefaultRTTSmoothingFactor = 1.0 / 8.0
	DefaultTickInterval       = 50 * time.Millisecond
	DefaultMinCommandLatency  = 0

	// DefaultMaxPacketBits is 508 bytes (spec.md §6's "typically ≤ 508
	// bytes after headers to avoid IP fragmentation"), in bits.
	DefaultMaxPacketBits = 508 * 8
)

// LossSimulation describes the optional packet-loss/jitter/reorder
// injection spec.md §6 calls link_condition — a test/dev-only knob, not
// load-bearing for correctness, so it defaults to disabled.
type LossSimulation struct {
	LossProbability    float64
	LatencyMs          float64
	JitterMs           float64
	ReorderProbability float64
}

// Enabled reports whether any simulation parameter is active.
func (l LossSimulation) Enabled() bool {
	return l.LossProbability > 0 || l.LatencyMs > 0 || l.JitterMs > 0 || l.ReorderProbability > 0
}

// CompressionMode selects one side of spec.md §6's optional per-direction
// compression knob. Like LossSimulation, it's a non-load-bearing tuning
// parameter: a Connection built with CompressionNone behaves identically
// to the protocol's uncompressed wire format. No code reads these
// settings, so every mode sends packets uncompressed.
type CompressionMode int

const (
	CompressionNone CompressionMode = iota
	CompressionDefault
	CompressionTraining
	CompressionDictionary
)

// Compression configures one direction's optional compression.
type Compression struct {
	Mode       CompressionMode
	Level      int    // CompressionDefault / CompressionDictionary
	SampleSize int    // CompressionTraining
	Dictionary []byte // CompressionDictionary
}

// Config consolidates every tuning knob spec.md §6 enumerates under
// "Configuration". A Client and a Server are each built from one.
type Config struct {
	HeartbeatInterval     time.Duration
	DisconnectionTimeout  time.Duration
	PingInterval          time.Duration
	HandshakePings        int
	RTTInitialEstimate    time.Duration
	JitterInitialEstimate time.Duration
	RTTSmoothingFactor    float64
	TickInterval          time.Duration
	MinimumCommandLatency time.Duration

	// MaxPacketBits caps every outgoing packet's encoded size; 0 falls
	// back to DefaultMaxPacketBits rather than unlimited, since an
	// unbounded packet would defeat the point of the MTU budget the
	// channel/update/action writers all consult.
	MaxPacketBits int

	// Channels lists every message channel the application declares,
	// keyed by channelio.ChannelID. Reliable channels take a ResendFactor;
	// a TickBuffered channel's ResendInterval is not read by its sender.
	Channels []channelio.Config

	// LinkCondition and Outbound/InboundCompression are optional and
	// unset (zero value) by default.
	LinkCondition      LossSimulation
	OutboundCompression Compression
	InboundCompression  Compression
}

// DefaultConfig returns the tuning defaults used throughout the
// reference client/server, with no channels declared and no loss
// simulation or compression enabled.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:     DefaultHeartbeatInterval,
		DisconnectionTimeout:  DefaultDisconnectTimeout,
		PingInterval:          DefaultPingInterval,
		HandshakePings:        DefaultHandshakePings,
		RTTInitialEstimate:    DefaultRTTInitialEstimate,
		JitterInitialEstimate: DefaultJitterInitial,
		RTTSmoothingFactor:    DefaultRTTSmoothingFactor,
		TickInterval:          DefaultTickInterval,
		MinimumCommandLatency: DefaultMinCommandLatency,
		MaxPacketBits:         DefaultMaxPacketBits,
	}
}

// packetBits returns cfg's configured MaxPacketBits, or the default if
// unset.
func (cfg Config) packetBits() int {
	if cfg.MaxPacketBits <= 0 {
		return DefaultMaxPacketBits
	}
	return cfg.MaxPacketBits
}
