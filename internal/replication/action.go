package replication

import (
	"fmt"

	"naia/bitio"
	"naia/internal/ids"
)

// ActionKind discriminates the entity-action stream's five operations.
type ActionKind uint8

const (
	ActionNoop ActionKind = iota
	ActionSpawnEntity
	ActionDespawnEntity
	ActionInsertComponent
	ActionRemoveComponent
)

const actionKindBits = 3

// Action is one entry in the strictly ordered entity-action stream.
// Which of Components/Component is populated depends on Kind.
type Action struct {
	ID         ids.ActionID
	Kind       ActionKind
	Entity     ids.RemoteEntity
	Components []ids.ComponentKind // SpawnEntity only
	Component  ids.ComponentKind   // InsertComponent/RemoveComponent only
}

// Write encodes the action's id, kind, and operands.
func (a Action) Write(w bitio.BitSink) error {
	if err := bitio.WriteU16(w, uint16(a.ID)); err != nil {
		return err
	}
	if err := w.WriteBits(uint64(a.Kind), actionKindBits); err != nil {
		return err
	}
	switch a.Kind {
	case ActionNoop:
		return nil
	case ActionSpawnEntity:
		if err := bitio.WriteU16(w, uint16(a.Entity)); err != nil {
			return err
		}
		if err := bitio.WriteU7Varint(w, uint64(len(a.Components))); err != nil {
			return err
		}
		for _, k := range a.Components {
			if err := bitio.WriteU16(w, uint16(k)); err != nil {
				return err
			}
		}
		return nil
	case ActionDespawnEntity:
		return bitio.WriteU16(w, uint16(a.Entity))
	case ActionInsertComponent, ActionRemoveComponent:
		if err := bitio.WriteU16(w, uint16(a.Entity)); err != nil {
			return err
		}
		return bitio.WriteU16(w, uint16(a.Component))
	default:
		return fmt.Errorf("replication: unknown action kind %d", a.Kind)
	}
}

// ReadAction decodes one action from r.
func ReadAction(r *bitio.Reader) (Action, error) {
	idRaw, err := bitio.ReadU16(r)
	if err != nil {
		return Action{}, err
	}
	kindRaw, err := r.ReadBits(actionKindBits)
	if err != nil {
		return Action{}, err
	}
	a := Action{ID: ids.ActionID(idRaw), Kind: ActionKind(kindRaw)}

	switch a.Kind {
	case ActionNoop:
		return a, nil
	case ActionSpawnEntity:
		ent, err := bitio.ReadU16(r)
		if err != nil {
			return Action{}, err
		}
		a.Entity = ids.RemoteEntity(ent)
		count, err := bitio.ReadU7Varint(r)
		if err != nil {
			return Action{}, err
		}
		a.Components = make([]ids.ComponentKind, count)
		for i := range a.Components {
			k, err := bitio.ReadU16(r)
			if err != nil {
				return Action{}, err
			}
			a.Components[i] = ids.ComponentKind(k)
		}
		return a, nil
	case ActionDespawnEntity:
		ent, err := bitio.ReadU16(r)
		if err != nil {
			return Action{}, err
		}
		a.Entity = ids.RemoteEntity(ent)
		return a, nil
	case ActionInsertComponent, ActionRemoveComponent:
		ent, err := bitio.ReadU16(r)
		if err != nil {
			return Action{}, err
		}
		comp, err := bitio.ReadU16(r)
		if err != nil {
			return Action{}, err
		}
		a.Entity = ids.RemoteEntity(ent)
		a.Component = ids.ComponentKind(comp)
		return a, nil
	default:
		return Action{}, fmt.Errorf("replication: unknown action kind %d on wire", a.Kind)
	}
}
