package wire

import "testing"

func TestWrappingDiff(t *testing.T) {
	cases := []struct {
		name string
		a, b Seq
		want int16
	}{
		{"simple", 10, 12, 2},
		{"simple_backwards", 12, 10, -2},
		{"max_wrap", 65535, 1, 2},
		{"min_wrap", 0, 65534, -2},
		{"max_wrap_backwards", 1, 65535, -2},
		{"min_wrap_backwards", 65534, 0, 2},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := WrappingDiff(c.a, c.b); got != c.want {
				t.Fatalf("WrappingDiff(%d,%d) = %d, want %d", c.a, c.b, got, c.want)
			}
		})
	}
}

func TestWrappingDiffMediumWrap(t *testing.T) {
	const half = 32767 // MaxUint16/2
	a := Seq(0)
	b := a - half
	if got := int32(WrappingDiff(a, b)); got != -int32(half) {
		t.Fatalf("medium_min_wrap: got %d, want %d", got, -half)
	}
	if got := int32(WrappingDiff(b, a)); got != int32(half) {
		t.Fatalf("medium_min_wrap_backwards: got %d, want %d", got, half)
	}
}

func TestSequenceGreaterThan(t *testing.T) {
	if !SequenceGreaterThan(10, 12) {
		t.Fatal("12 should be greater than 10")
	}
	if SequenceGreaterThan(12, 10) {
		t.Fatal("10 should not be greater than 12")
	}
	if !SequenceGreaterThan(65535, 1) {
		t.Fatal("wraparound: 1 should be greater than 65535")
	}
}
