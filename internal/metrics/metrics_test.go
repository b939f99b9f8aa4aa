package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorReportsRegisteredConnection(t *testing.T) {
	c := NewCollector([]string{"connection_id"}, nil)
	c.Register("conn-1", []string{"conn-1"}, func() Snapshot {
		return Snapshot{RTTSeconds: 0.05, JitterSeconds: 0.01, PacketLoss: 0.02, ReliableBuffered: 3, EntitiesInScope: 12, PendingActions: 1}
	})

	count := testutil.CollectAndCount(c)
	if count != 6 {
		t.Fatalf("expected 6 metrics (one per descriptor) for a single registered connection, got %d", count)
	}
}

func TestCollectorForgetsUnregisteredConnection(t *testing.T) {
	c := NewCollector([]string{"connection_id"}, nil)
	c.Register("conn-1", []string{"conn-1"}, func() Snapshot { return Snapshot{} })
	c.Unregister("conn-1")

	if got := testutil.CollectAndCount(c); got != 0 {
		t.Fatalf("expected no metrics after unregistering the only connection, got %d", got)
	}
}

func TestCollectorReportsMultipleConnectionsIndependently(t *testing.T) {
	c := NewCollector([]string{"connection_id"}, nil)
	c.Register("a", []string{"a"}, func() Snapshot { return Snapshot{RTTSeconds: 0.1} })
	c.Register("b", []string{"b"}, func() Snapshot { return Snapshot{RTTSeconds: 0.2} })

	if got := testutil.CollectAndCount(c); got != 12 {
		t.Fatalf("expected 6 metrics per connection across 2 connections, got %d", got)
	}
}
