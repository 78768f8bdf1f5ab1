package transport

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
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

func TestWSTransportRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := manifest.NewMemoryStore()
	reg := registry.NewServerRegistry(store)

	a := types.NewShardIdentity()
	b := types.NewShardIdentity()

	trA, err := NewWSTransport(a, "127.0.0.1:0", reg, Callbacks{})
	require.NoError(t, err)
	defer trA.Close()
	trB, err := NewWSTransport(b, "127.0.0.1:0", reg, Callbacks{})
	require.NoError(t, err)
	defer trB.Close()

	require.NoError(t, reg.RegisterSelf(ctx, a, trA.Addr()))
	require.NoError(t, reg.RegisterSelf(ctx, b, trB.Addr()))

	var mu sync.Mutex
	var got []*packet.HandoffPingPacket
	sub := packet.Subscribe(trB.Bus(), func(p *packet.HandoffPingPacket, meta packet.Meta) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, a, meta.Sender)
		got = append(got, p)
	})
	defer sub.Cancel()

	require.NoError(t, trA.EstablishConnectionTo(ctx, b))
	require.NoError(t, trA.Send(b, &packet.HandoffPingPacket{Sender: a, SentAtMs: 77}, ReliableNow))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, uint64(77), got[0].SentAtMs)
	mu.Unlock()

	rows := trA.ConnectionTelemetry()
	require.Len(t, rows, 1)
	assert.Equal(t, b.String(), rows[0].TargetID)
}

func TestWSTransportRejectsUnregisteredPeer(t *testing.T) {
	ctx := context.Background()
	store := manifest.NewMemoryStore()
	reg := registry.NewServerRegistry(store)

	a := types.NewShardIdentity()
	b := types.NewShardIdentity()

	trA, err := NewWSTransport(a, "127.0.0.1:0", reg, Callbacks{})
	require.NoError(t, err)
	defer trA.Close()
	trB, err := NewWSTransport(b, "127.0.0.1:0", reg, Callbacks{})
	require.NoError(t, err)
	defer trB.Close()

	// Only B is registered: A can resolve B, but B's acceptor must refuse
	// the unregistered initiator.
	require.NoError(t, reg.RegisterSelf(ctx, b, trB.Addr()))
	err = trA.EstablishConnectionTo(ctx, b)
	require.Error(t, err)
}

func TestWSTransportBatchedDelivery(t *testing.T) {
	ctx := context.Background()
	store := manifest.NewMemoryStore()
	reg := registry.NewServerRegistry(store)

	a := types.NewShardIdentity()
	b := types.NewShardIdentity()
	trA, err := NewWSTransport(a, "127.0.0.1:0", reg, Callbacks{})
	require.NoError(t, err)
	defer trA.Close()
	trB, err := NewWSTransport(b, "127.0.0.1:0", reg, Callbacks{})
	require.NoError(t, err)
	defer trB.Close()
	require.NoError(t, reg.RegisterSelf(ctx, a, trA.Addr()))
	require.NoError(t, reg.RegisterSelf(ctx, b, trB.Addr()))

	var mu sync.Mutex
	var seen []uint64
	sub := packet.Subscribe(trB.Bus(), func(p *packet.HandoffPingPacket, _ packet.Meta) {
		mu.Lock()
		seen = append(seen, p.SentAtMs)
		mu.Unlock()
	})
	defer sub.Cancel()

	require.NoError(t, trA.EstablishConnectionTo(ctx, b))
	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, trA.Send(b, &packet.HandoffPingPacket{Sender: a, SentAtMs: i}, ReliableBatched))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 10
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i-1], seen[i], "batched frames reordered")
	}
}
