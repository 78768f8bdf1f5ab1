package types

import (
	"github.com/google/uuid"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/codec"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/geom"
)

// AtlasEntityID is the globally-unique id of an entity. An entity keeps its
// id through any number of handoffs.
type AtlasEntityID = uuid.UUID

// ClientID identifies a connected game client.
type ClientID = uuid.UUID

// TransferID identifies one outstanding entity transfer, minted by the
// sender at transfer start.
type TransferID = uuid.UUID

// BoundsID is the cluster-stable handle of a spatial bound.
type BoundsID uint32

// Transform is the spatial placement of an entity.
type Transform struct {
	World       uint32
	Position    geom.Vec3
	BoundingBox geom.AABB
}

func (t Transform) Serialize(w *codec.Writer) {
	w.U32(t.World)
	w.Vec3(t.Position)
	w.Vec3(t.BoundingBox.Min)
	w.Vec3(t.BoundingBox.Max)
}

func (t *Transform) Deserialize(r *codec.Reader) {
	t.World = r.U32()
	t.Position = r.Vec3()
	t.BoundingBox.Min = r.Vec3()
	t.BoundingBox.Max = r.Vec3()
}

// AtlasEntityMinimal is the projection of an entity without its opaque
// metadata payload. Used where only placement and ownership matter, such as
// entity-list responses for dashboards.
type AtlasEntityMinimal struct {
	EntityID  AtlasEntityID
	Transform Transform
	IsClient  bool
	ClientID  ClientID
}

func (e AtlasEntityMinimal) Serialize(w *codec.Writer) {
	w.UUID(e.EntityID)
	e.Transform.Serialize(w)
	w.Bool(e.IsClient)
	w.UUID(e.ClientID)
}

func (e *AtlasEntityMinimal) Deserialize(r *codec.Reader) error {
	e.EntityID = r.UUID()
	e.Transform.Deserialize(r)
	e.IsClient = r.Bool()
	e.ClientID = r.UUID()
	return r.Err()
}

// AtlasEntity is the ownership-indivisible unit of simulation. Metadata is
// an opaque payload preserved bit-exact across transfers.
type AtlasEntity struct {
	AtlasEntityMinimal
	Metadata []byte
}

func (e AtlasEntity) Serialize(w *codec.Writer) {
	e.AtlasEntityMinimal.Serialize(w)
	w.Blob(e.Metadata)
}

func (e *AtlasEntity) Deserialize(r *codec.Reader) error {
	if err := e.AtlasEntityMinimal.Deserialize(r); err != nil {
		return err
	}
	e.Metadata = r.Blob()
	return r.Err()
}

// Minimal returns the metadata-free projection of the entity.
func (e AtlasEntity) Minimal() AtlasEntityMinimal {
	return e.AtlasEntityMinimal
}
