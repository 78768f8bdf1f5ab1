package handoff

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/manifest"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/packet"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/registry"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/transport"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

func newManager(t *testing.T, store manifest.Store, net *transport.MemNetwork,
	self types.NetworkIdentity) (*ConnectionManager, *transport.MemTransport) {
	t.Helper()
	tr := net.Register(self, transport.Callbacks{})
	t.Cleanup(func() { _ = tr.Close() })
	leases := NewLeaseCoordinator(self, store, leaseOpts())
	m := NewConnectionManager(self, tr, registry.NewServerRegistry(store), leases, nil,
		ManagerOptions{
			ProbeInterval: 20 * time.Millisecond,
			ReapInterval:  20 * time.Millisecond,
			Lease:         leaseOpts(),
		})
	return m, tr
}

func TestProbePingsDiscoveredPeer(t *testing.T) {
	ctx := context.Background()
	store := manifest.NewMemoryStore()
	net := transport.NewMemNetwork()
	reg := registry.NewServerRegistry(store)

	x := types.NewShardIdentity()
	y := types.NewShardIdentity()
	mx, _ := newManager(t, store, net, x)
	_, trY := newManager(t, store, net, y)

	require.NoError(t, reg.RegisterSelf(ctx, x, "mem://x"))
	require.NoError(t, reg.RegisterSelf(ctx, y, "mem://y"))

	var mu sync.Mutex
	var pings []*packet.HandoffPingPacket
	sub := packet.Subscribe(trY.Bus(), func(p *packet.HandoffPingPacket, _ packet.Meta) {
		mu.Lock()
		pings = append(pings, p)
		mu.Unlock()
	})
	defer sub.Cancel()

	mx.probeOnce(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(pings) == 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, x, pings[0].Sender)
	mu.Unlock()
}

func TestProbeSkipsWhenPeerHoldsLease(t *testing.T) {
	ctx := context.Background()
	store := manifest.NewMemoryStore()
	net := transport.NewMemNetwork()
	reg := registry.NewServerRegistry(store)

	x := types.NewShardIdentity()
	y := types.NewShardIdentity()
	mx, _ := newManager(t, store, net, x)
	my, trY := newManager(t, store, net, y)

	require.NoError(t, reg.RegisterSelf(ctx, x, "mem://x"))
	require.NoError(t, reg.RegisterSelf(ctx, y, "mem://y"))

	// y grabs the pair lease first; x's probe must not dial or ping.
	require.True(t, my.leases.TryAcquireOrRefreshLease(ctx, x))

	var mu sync.Mutex
	pinged := false
	sub := packet.Subscribe(trY.Bus(), func(*packet.HandoffPingPacket, packet.Meta) {
		mu.Lock()
		pinged = true
		mu.Unlock()
	})
	defer sub.Cancel()

	mx.probeOnce(ctx)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	assert.False(t, pinged, "probe ignored the peer's lease")
	mu.Unlock()
}

func TestPingReceiverMarksActivity(t *testing.T) {
	store := manifest.NewMemoryStore()
	net := transport.NewMemNetwork()

	x := types.NewShardIdentity()
	y := types.NewShardIdentity()
	_, trX := newManager(t, store, net, x)
	my, _ := newManager(t, store, net, y)

	require.NoError(t, trX.Send(y, &packet.HandoffPingPacket{
		Sender:   x,
		SentAtMs: uint64(time.Now().UnixMilli()),
	}, transport.ReliableNow))

	require.Eventually(t, func() bool {
		my.leases.mu.Lock()
		defer my.leases.mu.Unlock()
		_, ok := my.leases.lastActivity[x]
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}
