package ticktime

import (
	"testing"
	"time"
)

func TestCeilTicksMatchesMathematicalCeiling(t *testing.T) {
	interval := 100 * time.Millisecond
	cases := []struct {
		d    time.Duration
		want int64
	}{
		{250 * time.Millisecond, 3},
		{200 * time.Millisecond, 2},
		{0, 0},
		{-150 * time.Millisecond, -1},
		{-200 * time.Millisecond, -2},
		{-250 * time.Millisecond, -2},
	}
	for _, c := range cases {
		got := ceilTicks(c.d, interval)
		if got != c.want {
			t.Fatalf("ceilTicks(%v, %v) = %d, want %d", c.d, interval, got, c.want)
		}
	}
}

func TestServerClockAdvanceIncrementsTickAndSmoothsDuration(t *testing.T) {
	start := time.Unix(0, 0)
	clock := NewServerClock(50*time.Millisecond, start)
	if clock.CurrentTick() != 0 {
		t.Fatalf("expected clock to start at tick 0, got %d", clock.CurrentTick())
	}

	clock.Advance(start.Add(50 * time.Millisecond))
	clock.Advance(start.Add(100 * time.Millisecond))
	if clock.CurrentTick() != 2 {
		t.Fatalf("expected tick 2 after two advances, got %d", clock.CurrentTick())
	}

	tick, instant, avg := clock.Sample()
	if tick != 2 {
		t.Fatalf("expected sample tick 2, got %d", tick)
	}
	if !instant.Equal(start.Add(100 * time.Millisecond)) {
		t.Fatalf("expected sample instant to be the last tick boundary, got %v", instant)
	}
	if avg <= 0 {
		t.Fatalf("expected a positive smoothed tick duration, got %v", avg)
	}
}

func TestTimeManagerSeedProjectsForwardWithoutInterpolation(t *testing.T) {
	m := NewTimeManager(50*time.Millisecond, 10*time.Millisecond)
	start := time.Unix(0, 0)
	m.Seed(start, 100, 50*time.Millisecond, 20*time.Millisecond)

	estimate := m.ServerTickEstimate(start.Add(150 * time.Millisecond))
	if estimate != 103 {
		t.Fatalf("expected tick 100+floor(150/50)=103, got %d", estimate)
	}
}

func TestTimeManagerRecordPongInterpolatesAcrossSkewWindow(t *testing.T) {
	m := NewTimeManager(50*time.Millisecond, 10*time.Millisecond)
	start := time.Unix(0, 0)
	m.Seed(start, 100, 50*time.Millisecond, 20*time.Millisecond)

	later := start.Add(2 * time.Second)
	// A new sample arrives claiming a much larger tick than the old
	// projection would predict on its own.
	m.RecordPong(later, 500, 50*time.Millisecond, 20*time.Millisecond)

	justAfter := m.Project(later.Add(time.Millisecond))
	atEnd := m.Project(later.Add(defaultSkewWindow))

	// Immediately after the new sample, the interpolation has barely
	// moved off the frozen "from" projection — nowhere near the jump to
	// tick 500 the raw sample claims.
	if justAfter.tick >= 300 {
		t.Fatalf("expected the tick estimate just after RecordPong to still sit near the old projection, got %d", justAfter.tick)
	}
	// Once the full skew window has elapsed, the estimate tracks the
	// new sample (plus whatever ticks have elapsed since it arrived).
	if atEnd.tick < 500 {
		t.Fatalf("expected the tick estimate to have caught up to the new sample by the end of the skew window, got %d", atEnd.tick)
	}
}

func TestTimeManagerSendingTickLeadsReceivingTick(t *testing.T) {
	m := NewTimeManager(50*time.Millisecond, 10*time.Millisecond)
	start := time.Unix(0, 0)
	m.Seed(start, 100, 50*time.Millisecond, 40*time.Millisecond)
	m.jitter = 5 * time.Millisecond

	now := start.Add(200 * time.Millisecond)
	receiving := m.ClientReceivingTick(now)
	sending := m.ClientSendingTick(now)
	estimate := m.ServerTickEstimate(now)

	if int16(receiving-estimate) > 0 {
		t.Fatalf("expected receiving tick %d to not be ahead of estimate %d", receiving, estimate)
	}
	if int16(sending-estimate) <= 0 {
		t.Fatalf("expected sending tick %d to lead the estimate %d", sending, estimate)
	}
}
