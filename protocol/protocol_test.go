package protocol

import (
	"testing"

	"naia/bitio"
	"naia/internal/diffmask"
)

type chatMessage struct {
	Text string
}

func (m *chatMessage) Write(w bitio.BitSink) error { return bitio.WriteStringP(w, m.Text) }

func readChatMessage(r *bitio.Reader) (Message, error) {
	s, err := bitio.ReadStringP(r, 1024)
	if err != nil {
		return nil, err
	}
	return &chatMessage{Text: s}, nil
}

func TestMessageRegistryRoundTrip(t *testing.T) {
	reg := NewMessageRegistry()
	reg.Register(1, &chatMessage{}, readChatMessage)

	w := bitio.NewWriter(0)
	if err := reg.WriteMessage(w, &chatMessage{Text: "hello"}); err != nil {
		t.Fatal(err)
	}

	r := bitio.NewReader(w.Bytes())
	got, err := reg.ReadMessage(r)
	if err != nil {
		t.Fatal(err)
	}
	cm, ok := got.(*chatMessage)
	if !ok || cm.Text != "hello" {
		t.Fatalf("got %#v", got)
	}
}

func TestMessageRegistryUnknownKind(t *testing.T) {
	reg := NewMessageRegistry()
	w := bitio.NewWriter(0)
	bitio.WriteU16(w, 99)
	r := bitio.NewReader(w.Bytes())
	if _, err := reg.ReadMessage(r); err != bitio.ErrInvalidDiscriminant {
		t.Fatalf("expected ErrInvalidDiscriminant, got %v", err)
	}
}

type position struct {
	X, Y float32
}

func (p *position) PropertyCount() int { return 2 }

func (p *position) WriteFull(w bitio.BitSink) error {
	if err := bitio.WriteF32(w, p.X); err != nil {
		return err
	}
	return bitio.WriteF32(w, p.Y)
}

func (p *position) WriteDiff(w bitio.BitSink, mask diffmask.Mask) error {
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

func (p *position) ReadDiff(r *bitio.Reader, mask diffmask.Mask) error {
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

func readPosition(r *bitio.Reader) (Component, error) {
	var p position
	if err := p.ReadDiff(r, fullMask()); err != nil {
		return nil, err
	}
	return &p, nil
}

func fullMask() diffmask.Mask {
	m := diffmask.New(2)
	m.Set(0)
	m.Set(1)
	return m
}

func TestComponentRegistryInsertRoundTrip(t *testing.T) {
	reg := NewComponentRegistry()
	reg.Register(7, &position{}, readPosition)

	w := bitio.NewWriter(0)
	if err := reg.WriteInsert(w, &position{X: 1.5, Y: -2.5}); err != nil {
		t.Fatal(err)
	}

	r := bitio.NewReader(w.Bytes())
	kind, c, err := reg.ReadInsert(r)
	if err != nil {
		t.Fatal(err)
	}
	if kind != 7 {
		t.Fatalf("kind = %d, want 7", kind)
	}
	p := c.(*position)
	if p.X != 1.5 || p.Y != -2.5 {
		t.Fatalf("got %#v", p)
	}
}

func TestComponentPartialDiffAppliesInPlace(t *testing.T) {
	p := &position{X: 1, Y: 1}
	mask := diffmask.New(2)
	mask.Set(1) // only Y dirty

	w := bitio.NewWriter(0)
	if err := p.WriteDiff(w, mask); err != nil {
		t.Fatal(err)
	}

	target := &position{X: 1, Y: 1}
	p.Y = 9
	w2 := bitio.NewWriter(0)
	p.WriteDiff(w2, mask)
	r := bitio.NewReader(w2.Bytes())
	if err := target.ReadDiff(r, mask); err != nil {
		t.Fatal(err)
	}
	if target.X != 1 || target.Y != 9 {
		t.Fatalf("expected only Y updated, got %#v", target)
	}
}

func TestComponentRegistryKinds(t *testing.T) {
	reg := NewComponentRegistry()
	reg.Register(7, &position{}, readPosition)
	reg.Register(9, &position{}, readPosition)

	kinds := reg.Kinds()
	if len(kinds) != 2 {
		t.Fatalf("expected 2 kinds, got %d", len(kinds))
	}
	seen := map[ComponentKind]bool{}
	for _, k := range kinds {
		seen[k] = true
	}
	if !seen[7] || !seen[9] {
		t.Fatalf("expected kinds 7 and 9, got %v", kinds)
	}
}
