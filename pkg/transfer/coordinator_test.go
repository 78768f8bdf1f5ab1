package transfer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/config"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/entity"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/geom"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/heuristic"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/manifest"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/packet"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/transport"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.PrepareTimeout = 50 * time.Millisecond
	cfg.MaxPrepareRetries = 3
	cfg.CommitTimeout = 400 * time.Millisecond
	return cfg
}

// testShard is one simulated shard: ledger, coordinator, and a manually or
// automatically advanced authority tick.
type testShard struct {
	self   types.NetworkIdentity
	tr     *transport.MemTransport
	ledger *entity.Ledger
	coord  *Coordinator
	tick   atomic.Uint64
	cancel context.CancelFunc
}

func (s *testShard) stop() {
	s.cancel()
	_ = s.tr.Close()
}

// newTestShard assembles a shard over the shared network and store and
// starts its coordinator. With autoTick the authority tick advances every
// 5ms.
func newTestShard(t *testing.T, net *transport.MemNetwork, store manifest.Store,
	cfg config.Config, autoTick bool) *testShard {
	t.Helper()
	s := &testShard{self: types.NewShardIdentity()}
	s.tr = net.Register(s.self, transport.Callbacks{})
	s.ledger = entity.NewLedger()

	heur := heuristic.NewManifest(store)
	tman := NewManifest(store)
	s.coord = NewCoordinator(s.self, s.tr, heur, s.ledger, tman, cfg,
		s.tick.Load, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() { _ = s.coord.Run(ctx) }()
	if autoTick {
		go func() {
			ticker := time.NewTicker(5 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.tick.Add(1)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	t.Cleanup(s.stop)
	return s
}

// claimBound pops one pending bound for the shard and returns it.
func claimBound(t *testing.T, store manifest.Store, s *testShard) heuristic.Bound {
	t.Helper()
	b, err := heuristic.NewManifest(store).ClaimNextPending(context.Background(), s.self.String())
	require.NoError(t, err)
	require.NotNil(t, b)
	return b
}

func seedTwoBounds(t *testing.T, store manifest.Store) {
	t.Helper()
	g := &heuristic.GridHeuristic{CellSize: geom.Vec2{X: 10, Y: 10}, Cols: 2, Rows: 1}
	require.NoError(t, heuristic.NewManifest(store).SeedPending(context.Background(), g.Bounds()))
}

func center(b heuristic.Bound) geom.Vec3 {
	gb := b.(*heuristic.GridBound)
	return geom.Vec3{X: (gb.Min.X + gb.Max.X) / 2, Y: (gb.Min.Y + gb.Max.Y) / 2}
}

func entityAt(p geom.Vec3) types.AtlasEntity {
	e := types.AtlasEntity{}
	e.EntityID = uuid.New()
	e.Transform.Position = p
	e.Metadata = []byte{0xCA, 0xFE}
	return e
}

// Full handoff: an entity on shard A moves into shard B's bound and ends
// up in B's ledger — same id, same metadata — and gone from A's.
func TestHandoffEndToEnd(t *testing.T) {
	net := transport.NewMemNetwork()
	store := manifest.NewMemoryStore()
	seedTwoBounds(t, store)

	a := newTestShard(t, net, store, testConfig(), true)
	b := newTestShard(t, net, store, testConfig(), true)
	boundA := claimBound(t, store, a)
	boundB := claimBound(t, store, b)

	e := entityAt(center(boundA))
	a.ledger.RegisterNew(e)

	// The entity walks across the edge into B's bound.
	moved := e
	moved.Transform.Position = center(boundB)
	a.ledger.Upsert(moved)
	a.coord.MarkEntitiesForTransfer([]types.AtlasEntityID{e.EntityID})

	require.Eventually(t, func() bool {
		return b.ledger.Has(e.EntityID) && !a.ledger.Has(e.EntityID)
	}, 5*time.Second, 10*time.Millisecond, "entity never arrived on the receiver")

	got, ok := b.ledger.Get(e.EntityID)
	require.True(t, ok)
	assert.Equal(t, e.EntityID, got.EntityID)
	assert.Equal(t, []byte{0xCA, 0xFE}, got.Metadata)

	// The transfer record cleans up after Complete.
	require.Eventually(t, func() bool {
		return !a.coord.IsEntityInTransfer(e.EntityID)
	}, 5*time.Second, 10*time.Millisecond)
}

// An entity already in transfer is not scheduled twice.
func TestMarkTwiceSchedulesOnce(t *testing.T) {
	net := transport.NewMemNetwork()
	store := manifest.NewMemoryStore()
	seedTwoBounds(t, store)

	// Receiver exists but never acks: records park in Prepare.
	cfg := testConfig()
	cfg.PrepareTimeout = time.Hour

	a := newTestShard(t, net, store, cfg, true)
	claimBound(t, store, a)

	// Second bound claimed by a silent identity with a transport that
	// ignores everything (no coordinator).
	silent := types.NewShardIdentity()
	_ = net.Register(silent, transport.Callbacks{})
	silentBound, err := heuristic.NewManifest(store).ClaimNextPending(context.Background(), silent.String())
	require.NoError(t, err)
	require.NotNil(t, silentBound)

	e := entityAt(center(silentBound))
	a.ledger.RegisterNew(e)

	a.coord.MarkEntitiesForTransfer([]types.AtlasEntityID{e.EntityID})
	require.Eventually(t, func() bool {
		return a.coord.IsEntityInTransfer(e.EntityID)
	}, 2*time.Second, 5*time.Millisecond)

	a.coord.MarkEntitiesForTransfer([]types.AtlasEntityID{e.EntityID})
	time.Sleep(200 * time.Millisecond)

	a.coord.mu.Lock()
	records := len(a.coord.transfers.byID)
	a.coord.mu.Unlock()
	assert.Equal(t, 1, records)
}

// Client entities are refused at target resolution.
func TestClientEntityRejected(t *testing.T) {
	net := transport.NewMemNetwork()
	store := manifest.NewMemoryStore()
	seedTwoBounds(t, store)

	a := newTestShard(t, net, store, testConfig(), true)
	claimBound(t, store, a)

	e := entityAt(geom.Vec3{X: 200, Y: 200})
	e.IsClient = true
	e.ClientID = uuid.New()
	a.ledger.RegisterNew(e)

	a.coord.MarkEntitiesForTransfer([]types.AtlasEntityID{e.EntityID})
	time.Sleep(200 * time.Millisecond)

	assert.False(t, a.coord.IsEntityInTransfer(e.EntityID))
	assert.True(t, a.ledger.Has(e.EntityID))
}

// Prepare is retried a bounded number of times against a dead receiver,
// then the transfer aborts and the entities stay local.
func TestPrepareRetriesThenAborts(t *testing.T) {
	net := transport.NewMemNetwork()
	store := manifest.NewMemoryStore()
	seedTwoBounds(t, store)

	a := newTestShard(t, net, store, testConfig(), true)
	claimBound(t, store, a)

	// The second bound's claimer never registers a transport: every
	// Prepare send fails.
	ghost := types.NewShardIdentity()
	ghostBound, err := heuristic.NewManifest(store).ClaimNextPending(context.Background(), ghost.String())
	require.NoError(t, err)
	require.NotNil(t, ghostBound)

	e := entityAt(center(ghostBound))
	a.ledger.RegisterNew(e)
	a.coord.MarkEntitiesForTransfer([]types.AtlasEntityID{e.EntityID})

	require.Eventually(t, func() bool {
		return a.coord.IsEntityInTransfer(e.EntityID)
	}, 2*time.Second, 5*time.Millisecond)

	// Abort: the in-transfer mark clears and the entity never left.
	require.Eventually(t, func() bool {
		return !a.coord.IsEntityInTransfer(e.EntityID)
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, a.ledger.Has(e.EntityID))
}

// Duplicate Commit delivery: one adoption, two Complete acks.
func TestDuplicateCommitIsIdempotent(t *testing.T) {
	net := transport.NewMemNetwork()
	store := manifest.NewMemoryStore()

	b := newTestShard(t, net, store, testConfig(), true)

	// A bare fake sender: transport only, no coordinator.
	sender := types.NewShardIdentity()
	senderTr := net.Register(sender, transport.Callbacks{})
	t.Cleanup(func() { _ = senderTr.Close() })

	var mu sync.Mutex
	var completes int
	sub := packet.Subscribe(senderTr.Bus(), func(p *packet.EntityTransferPacket, _ packet.Meta) {
		if p.Stage == types.TransferStageComplete {
			mu.Lock()
			completes++
			mu.Unlock()
		}
	})
	defer sub.Cancel()

	e := entityAt(geom.Vec3{X: 1, Y: 1})
	commit := &packet.EntityTransferPacket{
		TransferID: uuid.New(),
		Stage:      types.TransferStageCommit,
		Commits:    []packet.CommitEntry{{Snapshot: e, Generation: 1}},
	}
	require.NoError(t, senderTr.Send(b.self, commit, transport.ReliableNow))
	require.NoError(t, senderTr.Send(b.self, commit, transport.ReliableNow))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return completes == 2
	}, 5*time.Second, 10*time.Millisecond, "both Commits must be acked")

	require.Eventually(t, func() bool {
		return b.ledger.Has(e.EntityID)
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, b.ledger.Len(), "duplicate Commit adopted twice")
}

// Adoption waits for the transfer tick: no adoption while the receiver's
// tick is frozen short of it, adoption once it passes.
func TestAdoptionIsTickAligned(t *testing.T) {
	net := transport.NewMemNetwork()
	store := manifest.NewMemoryStore()

	cfg := testConfig()
	b := newTestShard(t, net, store, cfg, false) // manual tick
	b.tick.Store(100)

	sender := types.NewShardIdentity()
	senderTr := net.Register(sender, transport.Callbacks{})
	t.Cleanup(func() { _ = senderTr.Close() })

	e := entityAt(geom.Vec3{X: 1, Y: 1})
	require.NoError(t, senderTr.Send(b.self, &packet.EntityTransferPacket{
		TransferID: uuid.New(),
		Stage:      types.TransferStageCommit,
		Commits:    []packet.CommitEntry{{Snapshot: e, Generation: 1}},
	}, transport.ReliableNow))

	require.Eventually(t, func() bool {
		return b.coord.PendingIncomingCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// transfer_tick = 100 + lead. One short of it: still pending.
	b.tick.Store(100 + cfg.HandoffLeadTicks - 1)
	time.Sleep(200 * time.Millisecond)
	assert.False(t, b.ledger.Has(e.EntityID), "adopted before the transfer tick")

	b.tick.Store(100 + cfg.HandoffLeadTicks)
	require.Eventually(t, func() bool {
		return b.ledger.Has(e.EntityID)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, b.coord.PendingIncomingCount())
}

// A delayed Complete ack: the receiver commits and owns the entity; the
// sender gives up on the record after the commit timeout. No duplication.
func TestDelayedCompleteAck(t *testing.T) {
	net := transport.NewMemNetwork()
	store := manifest.NewMemoryStore()
	seedTwoBounds(t, store)

	cfg := testConfig()
	cfg.CommitTimeout = 200 * time.Millisecond

	a := newTestShard(t, net, store, cfg, true)
	b := newTestShard(t, net, store, cfg, true)
	claimBound(t, store, a)
	boundB := claimBound(t, store, b)

	// Complete frames from B to A arrive one second late.
	net.SetLatency(func(src, dst types.NetworkIdentity, p packet.Packet) time.Duration {
		tp, ok := p.(*packet.EntityTransferPacket)
		if ok && tp.Stage == types.TransferStageComplete && src == b.self && dst == a.self {
			return time.Second
		}
		return 0
	})

	e := entityAt(center(boundB))
	a.ledger.RegisterNew(e)
	a.coord.MarkEntitiesForTransfer([]types.AtlasEntityID{e.EntityID})

	// B adopts regardless of the ack fate.
	require.Eventually(t, func() bool {
		return b.ledger.Has(e.EntityID)
	}, 5*time.Second, 10*time.Millisecond)

	// A abandons the record after the commit timeout without resurrecting
	// the entity.
	require.Eventually(t, func() bool {
		return !a.coord.IsEntityInTransfer(e.EntityID)
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, a.ledger.Has(e.EntityID))
	assert.Equal(t, 1, b.ledger.Len())
	assert.Zero(t, a.ledger.Len())
}

// Complete for an unknown transfer id (e.g. after a sender restart) is
// dropped without effect.
func TestStrayCompleteIsDropped(t *testing.T) {
	net := transport.NewMemNetwork()
	store := manifest.NewMemoryStore()

	a := newTestShard(t, net, store, testConfig(), true)

	stranger := types.NewShardIdentity()
	strangerTr := net.Register(stranger, transport.Callbacks{})
	t.Cleanup(func() { _ = strangerTr.Close() })

	require.NoError(t, strangerTr.Send(a.self, &packet.EntityTransferPacket{
		TransferID: uuid.New(),
		Stage:      types.TransferStageComplete,
	}, transport.ReliableNow))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, a.ledger.Len())
	a.coord.mu.Lock()
	assert.Empty(t, a.coord.transfers.byID)
	a.coord.mu.Unlock()
}

// The transfer manifest mirrors a record's life: present while in flight,
// deleted after Complete.
func TestTransferManifestLifecycle(t *testing.T) {
	net := transport.NewMemNetwork()
	store := manifest.NewMemoryStore()
	seedTwoBounds(t, store)

	a := newTestShard(t, net, store, testConfig(), true)
	b := newTestShard(t, net, store, testConfig(), true)
	claimBound(t, store, a)
	boundB := claimBound(t, store, b)

	e := entityAt(center(boundB))
	a.ledger.RegisterNew(e)
	a.coord.MarkEntitiesForTransfer([]types.AtlasEntityID{e.EntityID})

	require.Eventually(t, func() bool {
		return b.ledger.Has(e.EntityID) && !a.coord.IsEntityInTransfer(e.EntityID)
	}, 5*time.Second, 10*time.Millisecond)

	raw, ok, err := store.JSONGet(context.Background(), "Transfer::TransferManifest", ".EntityTransfers")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{}`, raw, "completed transfer left a stale manifest row")
}
