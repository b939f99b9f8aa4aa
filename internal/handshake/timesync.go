package handshake

import (
	"math"
	"time"
)

// Sample is one ping/pong round trip taken during the TimeSync phase.
// t1 is when the client sent the ping, t2/t3 are the server's receive and
// send instants (echoed on the pong), and t4 is when the client received
// the pong — the classic four-timestamp exchange used to estimate clock
// offset and round-trip time in the presence of asymmetric processing
// delay.
type Sample struct {
	ClientSend time.Time
	ServerRecv time.Time
	ServerSend time.Time
	ClientRecv time.Time
}

// Offset is the estimated clock offset (server time minus client time).
func (s Sample) Offset() time.Duration {
	sendOffset := s.ServerRecv.Sub(s.ClientSend)
	recvOffset := s.ServerSend.Sub(s.ClientRecv)
	return (sendOffset + recvOffset) / 2
}

// RTT is the round trip time with the server's own processing delay
// subtracted out.
func (s Sample) RTT() time.Duration {
	roundTrip := s.ClientRecv.Sub(s.ClientSend)
	serverProcess := s.ServerSend.Sub(s.ServerRecv)
	return roundTrip - serverProcess
}

// Sampler accumulates TimeSync round trips and, once enough have been
// collected, prunes outliers and summarizes the remainder to seed the
// tick/time manager.
type Sampler struct {
	target  int
	samples []Sample
}

// NewSampler returns a Sampler that wants `target` samples before it is
// considered complete (spec's handshake_pings, default ~10).
func NewSampler(target int) *Sampler {
	if target < 1 {
		target = 1
	}
	return &Sampler{target: target}
}

// Add records one round trip.
func (s *Sampler) Add(sample Sample) { s.samples = append(s.samples, sample) }

// Ready reports whether enough samples have been collected.
func (s *Sampler) Ready() bool { return len(s.samples) >= s.target }

// Summary is the pruned, averaged result of a completed TimeSync phase.
type Summary struct {
	Offset time.Duration
	RTT    time.Duration
}

// Summarize prunes samples whose offset or RTT falls outside one standard
// deviation of the set, then averages what remains. Falls back to a
// straight average if pruning would discard everything (e.g. too few
// samples to have meaningful variance).
func (s *Sampler) Summarize() Summary {
	if len(s.samples) == 0 {
		return Summary{}
	}

	offsets := make([]float64, len(s.samples))
	rtts := make([]float64, len(s.samples))
	for i, sm := range s.samples {
		offsets[i] = float64(sm.Offset())
		rtts[i] = float64(sm.RTT())
	}

	offMean, offStd := meanStd(offsets)
	rttMean, rttStd := meanStd(rtts)

	var keptOff, keptRTT float64
	var kept int
	for i, sm := range s.samples {
		o, r := offsets[i], rtts[i]
		if offStd > 0 && math.Abs(o-offMean) > offStd {
			continue
		}
		if rttStd > 0 && math.Abs(r-rttMean) > rttStd {
			continue
		}
		keptOff += o
		keptRTT += r
		kept++
	}
	if kept == 0 {
		return Summary{Offset: time.Duration(offMean), RTT: time.Duration(rttMean)}
	}
	return Summary{
		Offset: time.Duration(keptOff / float64(kept)),
		RTT:    time.Duration(keptRTT / float64(kept)),
	}
}

func meanStd(vals []float64) (mean, std float64) {
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	if len(vals) < 2 {
		return mean, 0
	}
	var variance float64
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(vals))
	return mean, math.Sqrt(variance)
}
