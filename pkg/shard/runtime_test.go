package shard

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/config"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/geom"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/heuristic"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/manifest"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/registry"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/transport"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.LedgerScanPeriod = 10 * time.Millisecond
	cfg.BoundClaimPeriod = 10 * time.Millisecond
	cfg.TelemetryPeriod = 50 * time.Millisecond
	cfg.ProbeInterval = 50 * time.Millisecond
	cfg.PrepareTimeout = 50 * time.Millisecond
	cfg.CommitTimeout = 500 * time.Millisecond
	cfg.InactivityTimeout = time.Hour
	return cfg
}

// cluster is an in-process fleet sharing one store and loopback network,
// the way a deployed fleet shares a redis endpoint and the real network.
type cluster struct {
	store    *manifest.MemoryStore
	net      *transport.MemNetwork
	runtimes []*Runtime
	cancels  []context.CancelFunc
	done     []chan struct{}
}

func newCluster(t *testing.T, shards, cols, rows int) *cluster {
	t.Helper()
	c := &cluster{
		store: manifest.NewMemoryStore(),
		net:   transport.NewMemNetwork(),
	}

	g := &heuristic.GridHeuristic{
		CellSize: geom.Vec2{X: 10, Y: 10},
		Cols:     cols,
		Rows:     rows,
	}
	require.NoError(t, heuristic.NewManifest(c.store).SeedPending(context.Background(), g.Bounds()))

	for i := 0; i < shards; i++ {
		self := types.NewShardIdentity()
		tr := c.net.Register(self, transport.Callbacks{})
		rt := New(Options{
			Identity:      self,
			AdvertiseAddr: "mem://" + self.UUID.String(),
			Config:        testConfig(),
			Store:         c.store,
			Transport:     tr,
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = rt.Run(ctx)
		}()
		c.runtimes = append(c.runtimes, rt)
		c.cancels = append(c.cancels, cancel)
		c.done = append(c.done, done)
	}

	t.Cleanup(func() {
		for i, cancel := range c.cancels {
			cancel()
			select {
			case <-c.done[i]:
			case <-time.After(5 * time.Second):
				t.Error("runtime did not stop")
			}
		}
	})
	return c
}

func (c *cluster) waitAllBound(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, rt := range c.runtimes {
			if !rt.Leaser().HasBound() {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond, "not every shard claimed a bound")
}

// ownerOf finds the runtime holding the bound that contains p.
func (c *cluster) ownerOf(p geom.Vec3) *Runtime {
	for _, rt := range c.runtimes {
		if rt.Leaser().HasBound() && rt.Leaser().Bound().Contains(p) {
			return rt
		}
	}
	return nil
}

func (c *cluster) totalEntities() int {
	total := 0
	for _, rt := range c.runtimes {
		total += rt.Ledger().Len()
	}
	return total
}

func makeEntityAt(p geom.Vec3) types.AtlasEntity {
	e := types.AtlasEntity{}
	e.EntityID = uuid.New()
	e.Transform.Position = p
	e.Metadata = []byte{0xBE, 0xEF}
	return e
}

// An entity crossing a bound edge migrates between full runtimes via the
// scanner → coordinator → adoption pipeline, keeping id and metadata.
func TestRuntimeHandoffAcrossBounds(t *testing.T) {
	c := newCluster(t, 2, 2, 1)
	c.waitAllBound(t)

	spawnPos := geom.Vec3{X: 5, Y: 5}
	a := c.ownerOf(spawnPos)
	b := c.ownerOf(geom.Vec3{X: 15, Y: 5})
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotEqual(t, a.Identity(), b.Identity())

	e := makeEntityAt(spawnPos)
	a.Ledger().RegisterNew(e)

	// Walk the entity across the shared edge.
	moved := e
	moved.Transform.Position = geom.Vec3{X: 12, Y: 5}
	a.Ledger().Upsert(moved)

	require.Eventually(t, func() bool {
		return b.Ledger().Has(e.EntityID) && !a.Ledger().Has(e.EntityID)
	}, 10*time.Second, 10*time.Millisecond)

	got, ok := b.Ledger().Get(e.EntityID)
	require.True(t, ok)
	assert.Equal(t, []byte{0xBE, 0xEF}, got.Metadata)
	assert.Equal(t, 1, c.totalEntities())
}

// A small population rotating through every bound ends the run intact: the
// union of the ledgers holds each entity exactly once.
func TestRuntimeRingMigrationPreservesPopulation(t *testing.T) {
	if testing.Short() {
		t.Skip("multi-second soak")
	}

	const (
		shards   = 3
		entities = 30
		worldX   = 30.0
	)
	c := newCluster(t, shards, shards, 1)
	c.waitAllBound(t)

	ids := make(map[types.AtlasEntityID]bool, entities)
	for i := 0; i < entities; i++ {
		p := geom.Vec3{X: float32(i), Y: 5}
		owner := c.ownerOf(p)
		require.NotNil(t, owner, "position %v has no owner", p)
		e := makeEntityAt(p)
		ids[e.EntityID] = true
		owner.Ledger().RegisterNew(e)
	}

	// Rotate: every pulse each shard pushes its entities +2 along X,
	// wrapping at the world edge. The scanners pick up the crossings.
	rotate := time.NewTicker(50 * time.Millisecond)
	defer rotate.Stop()
	deadline := time.After(3 * time.Second)
rotation:
	for {
		select {
		case <-rotate.C:
			for _, rt := range c.runtimes {
				for _, e := range rt.Ledger().Snapshot() {
					if rt.Coordinator().IsEntityInTransfer(e.EntityID) {
						continue
					}
					rt.Ledger().Mutate(e.EntityID, func(e *types.AtlasEntity) {
						e.Transform.Position.X += 2
						if e.Transform.Position.X >= worldX {
							e.Transform.Position.X -= worldX
						}
					})
				}
			}
		case <-deadline:
			break rotation
		}
	}

	// Quiesce: all transfers drained, population stable.
	require.Eventually(t, func() bool {
		for _, rt := range c.runtimes {
			if rt.Coordinator().PendingIncomingCount() > 0 {
				return false
			}
		}
		return c.totalEntities() == entities
	}, 15*time.Second, 20*time.Millisecond, "population not conserved: %d", c.totalEntities())

	// Each original id exists exactly once across the fleet.
	seen := make(map[types.AtlasEntityID]int)
	for _, rt := range c.runtimes {
		for _, e := range rt.Ledger().Snapshot() {
			seen[e.EntityID]++
		}
	}
	assert.Len(t, seen, entities)
	for id, count := range seen {
		assert.Equal(t, 1, count, "entity %s appears %d times", id, count)
		assert.True(t, ids[id], "unknown entity %s appeared", id)
	}
}

// Graceful shutdown returns the bound to the pending set and clears the
// registry rows.
func TestRuntimeShutdownReturnsBound(t *testing.T) {
	ctx := context.Background()
	store := manifest.NewMemoryStore()
	net := transport.NewMemNetwork()

	g := &heuristic.GridHeuristic{CellSize: geom.Vec2{X: 10, Y: 10}, Cols: 1, Rows: 1}
	heurManifest := heuristic.NewManifest(store)
	require.NoError(t, heurManifest.SeedPending(ctx, g.Bounds()))

	self := types.NewShardIdentity()
	tr := net.Register(self, transport.Callbacks{})
	rt := New(Options{
		Identity:      self,
		AdvertiseAddr: "mem://solo",
		Config:        testConfig(),
		Store:         store,
		Transport:     tr,
		NodeEntry:     registry.NodeManifestEntry{NodeName: "test-node"},
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rt.Run(runCtx)
	}()

	require.Eventually(t, rt.Leaser().HasBound, 5*time.Second, 10*time.Millisecond)

	// Registered while running.
	addr, ok, err := registry.NewServerRegistry(store).Lookup(ctx, self)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "mem://solo", addr)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop")
	}

	pending, err := heurManifest.AllPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "bound was not returned to pending")

	_, ok, err = registry.NewServerRegistry(store).Lookup(ctx, self)
	require.NoError(t, err)
	assert.False(t, ok, "registry row not cleaned up")
}
