package protocol

import (
	"fmt"
	"reflect"

	"naia/bitio"
	"naia/internal/diffmask"
)

// ComponentKind is the stable wire id for a registered component type.
type ComponentKind uint16

// Component is a replicated ECS component. PropertyCount is how many
// independently-diffed properties it has (the width of its DiffMask).
// WriteFull serializes every property; ComponentRegistry.WriteInsert
// writes it after the kind id. WriteDiff serializes only the properties whose bit
// is set in mask, in ascending property-index order. ReadDiff decodes
// that same subset and applies it in place — components are always
// updated in place on the receiving side, never replaced wholesale,
// so object identity survives a partial update.
type Component interface {
	PropertyCount() int
	WriteFull(w bitio.BitSink) error
	WriteDiff(w bitio.BitSink, mask diffmask.Mask) error
	ReadDiff(r *bitio.Reader, mask diffmask.Mask) error
}

// ComponentReader constructs a fresh zero-value component and fully
// decodes it; ComponentRegistry.ReadInsert calls it after the kind id.
type ComponentReader func(r *bitio.Reader) (Component, error)

// ComponentRegistry is the component-side counterpart to MessageRegistry.
type ComponentRegistry struct {
	readers        map[ComponentKind]ComponentReader
	kindOf         map[reflect.Type]ComponentKind
	propertyCounts map[ComponentKind]int
	zeroType       map[ComponentKind]reflect.Type
}

// NewComponentRegistry returns an empty registry.
func NewComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{
		readers:        make(map[ComponentKind]ComponentReader),
		kindOf:         make(map[reflect.Type]ComponentKind),
		propertyCounts: make(map[ComponentKind]int),
		zeroType:       make(map[ComponentKind]reflect.Type),
	}
}

// Register associates kind with reader and sample's concrete Go type.
// sample's PropertyCount is recorded too, so PropertyCountOf can size a
// DiffMask for kind before any instance of the component exists locally
// (e.g. while decoding an update for an entity not yet in scope).
func (r *ComponentRegistry) Register(kind ComponentKind, sample Component, reader ComponentReader) {
	r.readers[kind] = reader
	t := reflect.TypeOf(sample)
	r.kindOf[t] = kind
	r.propertyCounts[kind] = sample.PropertyCount()
	r.zeroType[kind] = t
}

// Kinds returns every component kind currently registered, in no
// particular order — used to seed a fresh connection's diff-mask sizing
// for every kind the application knows about, without the caller having
// to enumerate them separately.
func (r *ComponentRegistry) Kinds() []ComponentKind {
	kinds := make([]ComponentKind, 0, len(r.propertyCounts))
	for k := range r.propertyCounts {
		kinds = append(kinds, k)
	}
	return kinds
}

// PropertyCountOf returns the property count registered for kind.
func (r *ComponentRegistry) PropertyCountOf(kind ComponentKind) (int, bool) {
	n, ok := r.propertyCounts[kind]
	return n, ok
}

// NewZero constructs a fresh zero-value instance of kind's registered
// type, for decoding a diff into a scratch value (e.g. to advance a
// reader correctly past an update for an entity not currently in scope,
// without committing the result anywhere).
func (r *ComponentRegistry) NewZero(kind ComponentKind) (Component, bool) {
	t, ok := r.zeroType[kind]
	if !ok {
		return nil, false
	}
	if t.Kind() == reflect.Ptr {
		return reflect.New(t.Elem()).Interface().(Component), true
	}
	return reflect.New(t).Elem().Interface().(Component), true
}

// KindOf returns the registered kind for c's concrete type.
func (r *ComponentRegistry) KindOf(c Component) (ComponentKind, bool) {
	kind, ok := r.kindOf[reflect.TypeOf(c)]
	return kind, ok
}

// WriteInsert writes a component's kind id followed by its full state.
// The engine's SpawnEntity/InsertComponent actions do not use it: they
// carry only component kinds, and the component's state follows as an
// update with every property bit set.
func (r *ComponentRegistry) WriteInsert(w bitio.BitSink, c Component) error {
	kind, ok := r.KindOf(c)
	if !ok {
		return fmt.Errorf("protocol: component type %T is not registered", c)
	}
	if err := bitio.WriteU16(w, uint16(kind)); err != nil {
		return err
	}
	return c.WriteFull(w)
}

// ReadInsert reads a kind id and fully decodes a fresh component.
func (r *ComponentRegistry) ReadInsert(rd *bitio.Reader) (ComponentKind, Component, error) {
	kind, err := bitio.ReadU16(rd)
	if err != nil {
		return 0, nil, err
	}
	reader, ok := r.readers[ComponentKind(kind)]
	if !ok {
		return 0, nil, bitio.ErrInvalidDiscriminant
	}
	c, err := reader(rd)
	return ComponentKind(kind), c, err
}
