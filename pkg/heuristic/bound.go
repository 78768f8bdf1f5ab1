package heuristic

import (
	"fmt"
	"sync"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/codec"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/geom"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

// BoundKind tags a bound's shape in its serialized form.
type BoundKind uint32

const (
	BoundKindInvalid BoundKind = iota
	BoundKindGrid
)

// Bound is a region of world space, the unit of spatial authority. Shapes
// are opaque to the core: only containment, identity, and codec matter.
type Bound interface {
	ID() types.BoundsID
	Kind() BoundKind
	// Contains is half-open: closed on the -axis edges, open on the +axis
	// edges, so adjacent bounds never both contain a shared edge point.
	Contains(p geom.Vec3) bool
	Serialize(w *codec.Writer)
	Deserialize(r *codec.Reader) error
}

var (
	boundFactoriesMu sync.RWMutex
	boundFactories   = map[BoundKind]func() Bound{
		BoundKindGrid: func() Bound { return &GridBound{} },
	}
)

// RegisterBoundKind adds a shape factory for an extension kind.
func RegisterBoundKind(kind BoundKind, factory func() Bound) {
	boundFactoriesMu.Lock()
	defer boundFactoriesMu.Unlock()
	boundFactories[kind] = factory
}

// EncodeBound renders a bound as a self-describing blob: u32 kind tag then
// the shape fields. These blobs are the values stored in the pending set
// and the claimed hash.
func EncodeBound(b Bound) []byte {
	w := codec.NewWriter()
	w.U32(uint32(b.Kind()))
	b.Serialize(w)
	return w.Bytes()
}

// DecodeBound parses a blob produced by EncodeBound.
func DecodeBound(blob []byte) (Bound, error) {
	r := codec.NewReader(blob)
	kind := BoundKind(r.U32())
	if err := r.Err(); err != nil {
		return nil, err
	}
	boundFactoriesMu.RLock()
	factory, ok := boundFactories[kind]
	boundFactoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("heuristic: unknown bound kind %d", kind)
	}
	b := factory()
	if err := b.Deserialize(r); err != nil {
		return nil, err
	}
	return b, nil
}

// GridBound is an axis-aligned rectangle on the XY plane, the canonical
// bound shape produced by the grid heuristic.
type GridBound struct {
	BoundsID types.BoundsID
	Min      geom.Vec2
	Max      geom.Vec2
}

func (b *GridBound) ID() types.BoundsID {
	return b.BoundsID
}

func (b *GridBound) Kind() BoundKind {
	return BoundKindGrid
}

func (b *GridBound) Contains(p geom.Vec3) bool {
	return p.X >= b.Min.X && p.X < b.Max.X &&
		p.Y >= b.Min.Y && p.Y < b.Max.Y
}

func (b *GridBound) Serialize(w *codec.Writer) {
	w.U32(uint32(b.BoundsID))
	w.Vec2(b.Min)
	w.Vec2(b.Max)
}

func (b *GridBound) Deserialize(r *codec.Reader) error {
	b.BoundsID = types.BoundsID(r.U32())
	b.Min = r.Vec2()
	b.Max = r.Vec2()
	return r.Err()
}

func (b *GridBound) String() string {
	return fmt.Sprintf("grid[%d] %s->%s", b.BoundsID, b.Min, b.Max)
}
