package heuristic

import (
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/geom"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

// Type names the partitioning heuristic in effect. The value is recorded
// cluster-wide in the manifest store; every shard must agree on it before
// bounds are seeded.
type Type string

const (
	TypeNone     Type = "none"
	TypeGridCell Type = "grid_cell"
	TypeQuadtree Type = "quadtree"
	TypeOctree   Type = "octree"
)

// Heuristic carves world space into bounds and answers point queries. Only
// the grid-cell heuristic is implemented; quadtree and octree are
// extension points behind the same interface.
type Heuristic interface {
	Type() Type
	// Compute derives the bound set from an entity population snapshot.
	// Static heuristics ignore the snapshot.
	Compute(entities []types.AtlasEntityMinimal)
	Bounds() []Bound
	// QueryPosition maps a world point to the bound containing it, or
	// false when the point lies outside every bound.
	QueryPosition(p geom.Vec3) (types.BoundsID, bool)
}

// GridHeuristic splits a rectangle of world space into Cols×Rows equal
// cells. BoundsIDs are assigned row-major, stable across the cluster.
type GridHeuristic struct {
	Origin   geom.Vec2
	CellSize geom.Vec2
	Cols     int
	Rows     int
}

func (g *GridHeuristic) Type() Type {
	return TypeGridCell
}

func (g *GridHeuristic) Compute([]types.AtlasEntityMinimal) {}

func (g *GridHeuristic) Bounds() []Bound {
	bounds := make([]Bound, 0, g.Cols*g.Rows)
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			min := geom.Vec2{
				X: g.Origin.X + float32(col)*g.CellSize.X,
				Y: g.Origin.Y + float32(row)*g.CellSize.Y,
			}
			bounds = append(bounds, &GridBound{
				BoundsID: types.BoundsID(row*g.Cols + col),
				Min:      min,
				Max:      geom.Vec2{X: min.X + g.CellSize.X, Y: min.Y + g.CellSize.Y},
			})
		}
	}
	return bounds
}

func (g *GridHeuristic) QueryPosition(p geom.Vec3) (types.BoundsID, bool) {
	dx := p.X - g.Origin.X
	dy := p.Y - g.Origin.Y
	if dx < 0 || dy < 0 {
		return 0, false
	}
	col := int(dx / g.CellSize.X)
	row := int(dy / g.CellSize.Y)
	if col >= g.Cols || row >= g.Rows {
		return 0, false
	}
	return types.BoundsID(row*g.Cols + col), true
}
