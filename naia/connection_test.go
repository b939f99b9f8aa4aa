package naia

import (
	"testing"
	"time"

	"naia/bitio"
	"naia/internal/diffmask"
	"naia/internal/ids"
	"naia/internal/memworld"
	"naia/internal/wire"
	"naia/protocol"
)

// testPos is a two-property component, mirroring protocol's own test
// fixture, used to exercise InsertComponent/updates end to end.
type testPos struct {
	X, Y float32
}

func (p *testPos) PropertyCount() int { return 2 }

func (p *testPos) WriteFull(w bitio.BitSink) error {
	if err := bitio.WriteF32(w, p.X); err != nil {
		return err
	}
	return bitio.WriteF32(w, p.Y)
}

func (p *testPos) WriteDiff(w bitio.BitSink, mask diffmask.Mask) error {
	if mask.Test(0) {
		if err := bitio.WriteF32(w, p.X); err != nil {
			return err
		}
	}
	if mask.Test(1) {
		if err := bitio.WriteF32(w, p.Y); err != nil {
			return err
		}
	}
	return nil
}

func (p *testPos) ReadDiff(r *bitio.Reader, mask diffmask.Mask) error {
	if mask.Test(0) {
		v, err := bitio.ReadF32(r)
		if err != nil {
			return err
		}
		p.X = v
	}
	if mask.Test(1) {
		v, err := bitio.ReadF32(r)
		if err != nil {
			return err
		}
		p.Y = v
	}
	return nil
}

func readTestPos(r *bitio.Reader) (protocol.Component, error) {
	var p testPos
	full := diffmask.New(2)
	full.Set(0)
	full.Set(1)
	if err := p.ReadDiff(r, full); err != nil {
		return nil, err
	}
	return &p, nil
}

func newTestRegistries() (*protocol.MessageRegistry, *protocol.ComponentRegistry) {
	msgReg := protocol.NewMessageRegistry()
	compReg := protocol.NewComponentRegistry()
	compReg.Register(1, &testPos{}, readTestPos)
	return msgReg, compReg
}

func TestNewConnectionRegistersEveryComponentKind(t *testing.T) {
	msgReg, compReg := newTestRegistries()
	world := memworld.New(compReg)
	conn := NewConnection(RoleServer, ids.NewUserKey(), DefaultConfig(), msgReg, compReg, world)

	if conn.PacketLoss() != 0 {
		t.Fatalf("expected 0 packet loss on a fresh connection, got %v", conn.PacketLoss())
	}
	if conn.ReliableBuffered() != 0 {
		t.Fatalf("expected 0 reliable buffered, got %d", conn.ReliableBuffered())
	}
	if conn.EntitiesInScope() != 0 {
		t.Fatalf("expected 0 entities in scope, got %d", conn.EntitiesInScope())
	}
	if conn.PendingActions() != 0 {
		t.Fatalf("expected 0 pending actions, got %d", conn.PendingActions())
	}
}

func TestConnectionSpawnEntityQueuesAction(t *testing.T) {
	msgReg, compReg := newTestRegistries()
	world := memworld.New(compReg)
	conn := NewConnection(RoleServer, ids.NewUserKey(), DefaultConfig(), msgReg, compReg, world)

	entity := world.SpawnEntity()
	world.InsertComponent(entity, &testPos{X: 1, Y: 2})
	conn.SpawnEntity(entity, []ids.ComponentKind{1})

	if conn.EntitiesInScope() != 1 {
		t.Fatalf("expected 1 entity in scope after spawn, got %d", conn.EntitiesInScope())
	}
	if conn.PendingActions() != 1 {
		t.Fatalf("expected 1 pending action after spawn, got %d", conn.PendingActions())
	}
}

func TestConnectionDataPacketRoundTripSpawnsRemoteEntity(t *testing.T) {
	msgReg, compReg := newTestRegistries()

	serverWorld := memworld.New(compReg)
	serverConn := NewConnection(RoleServer, ids.NewUserKey(), DefaultConfig(), msgReg, compReg, serverWorld)

	clientWorld := memworld.New(compReg)
	clientConn := NewConnection(RoleClient, ids.UserKey{}, DefaultConfig(), msgReg, compReg, clientWorld)

	entity := serverWorld.SpawnEntity()
	serverWorld.InsertComponent(entity, &testPos{X: 3, Y: 4})
	serverConn.SpawnEntity(entity, []ids.ComponentKind{1})

	now := time.Unix(0, 0)
	w := bitio.NewWriter(0)
	if err := serverConn.WriteDataPacket(now, 7, 0, w); err != nil {
		t.Fatal(err)
	}

	if _, err := clientConn.ReadDataPacket(now, w.Bytes()); err != nil {
		t.Fatal(err)
	}

	clientEntities := clientWorld.Entities()
	if len(clientEntities) != 1 {
		t.Fatalf("expected the client world to materialize one entity, got %d", len(clientEntities))
	}
	if !clientWorld.HasComponent(clientEntities[0], 1) {
		t.Fatal("expected the spawned entity to carry its announced component kind")
	}

	events := clientConn.DrainEvents()
	if len(events) != 1 {
		t.Fatalf("expected one SpawnEntityEvent, got %#v", events)
	}
	if _, ok := events[0].(SpawnEntityEvent); !ok {
		t.Fatalf("expected SpawnEntityEvent, got %#v", events[0])
	}
}

func TestConnectionPacketLossRatio(t *testing.T) {
	msgReg, compReg := newTestRegistries()
	world := memworld.New(compReg)
	conn := NewConnection(RoleServer, ids.NewUserKey(), DefaultConfig(), msgReg, compReg, world)

	conn.NotifyPacketDelivered(wire.Seq(1))
	conn.NotifyPacketDelivered(wire.Seq(2))
	conn.NotifyPacketDropped(wire.Seq(3))

	loss := conn.PacketLoss()
	if loss < 0.33 || loss > 0.34 {
		t.Fatalf("expected packet loss ~0.33, got %v", loss)
	}
}

func TestConnectionIdleAndSinceLastSend(t *testing.T) {
	msgReg, compReg := newTestRegistries()
	world := memworld.New(compReg)
	conn := NewConnection(RoleServer, ids.NewUserKey(), DefaultConfig(), msgReg, compReg, world)

	start := time.Unix(1000, 0)
	if _, err := conn.WritePingPacket(start, 1); err != nil {
		t.Fatal(err)
	}

	later := start.Add(5 * time.Second)
	if conn.SinceLastSend(later) != 5*time.Second {
		t.Fatalf("expected 5s since last send, got %v", conn.SinceLastSend(later))
	}
	// Nothing has ever been received on this connection yet.
	if conn.Idle(later) <= 0 {
		t.Fatalf("expected a positive idle duration before anything is received, got %v", conn.Idle(later))
	}
}
