package replaycache

import (
	"testing"
	"time"
)

func TestClaimRejectsReplay(t *testing.T) {
	c, err := New(":memory:", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	now := time.Now()
	cookie := []byte("a-cookie")

	fresh, err := c.Claim(cookie, now)
	if err != nil {
		t.Fatal(err)
	}
	if !fresh {
		t.Fatal("expected first claim to succeed")
	}

	fresh, err = c.Claim(cookie, now)
	if err != nil {
		t.Fatal(err)
	}
	if fresh {
		t.Fatal("expected second claim of the same cookie to be rejected")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	c, err := New(":memory:", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	now := time.Now()
	if _, err := c.Claim([]byte("old"), now.Add(-2*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Claim([]byte("new"), now); err != nil {
		t.Fatal(err)
	}

	n, err := c.Sweep(now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row swept, got %d", n)
	}

	fresh, err := c.Claim([]byte("old"), now)
	if err != nil {
		t.Fatal(err)
	}
	if !fresh {
		t.Fatal("expected the swept cookie to be claimable again")
	}
}
