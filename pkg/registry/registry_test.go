package registry

import (
	"context"
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/manifest"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

func TestServerRegistryRoundTrip(t *testing.T) {
	ctx := context.Background()
	reg := NewServerRegistry(manifest.NewMemoryStore())

	self := types.NewShardIdentity()
	require.NoError(t, reg.RegisterSelf(ctx, self, "10.0.0.1:7777"))

	addr, ok, err := reg.Lookup(ctx, self)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1:7777", addr)

	// Re-registration overwrites.
	require.NoError(t, reg.RegisterSelf(ctx, self, "10.0.0.2:7777"))
	addr, _, err = reg.Lookup(ctx, self)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:7777", addr)

	all, err := reg.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, reg.DeregisterSelf(ctx, self))
	_, ok, err = reg.Lookup(ctx, self)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListShardsExcludesSelfAndOtherRoles(t *testing.T) {
	ctx := context.Background()
	reg := NewServerRegistry(manifest.NewMemoryStore())

	self := types.NewShardIdentity()
	peer := types.NewShardIdentity()
	coordinator := types.NewCoordinatorIdentity()
	require.NoError(t, reg.RegisterSelf(ctx, self, "a:1"))
	require.NoError(t, reg.RegisterSelf(ctx, peer, "b:1"))
	require.NoError(t, reg.RegisterSelf(ctx, coordinator, "c:1"))

	shards, err := reg.ListShards(ctx, self)
	require.NoError(t, err)
	assert.Equal(t, []types.NetworkIdentity{peer}, shards)
}

func TestRoutingManifestKeepsBothDirections(t *testing.T) {
	ctx := context.Background()
	routing := NewRoutingManifest(manifest.NewMemoryStore())

	proxy := types.NewProxyIdentity(uuid.New())
	client := uuid.New()
	require.NoError(t, routing.AssignProxyClient(ctx, client, proxy))

	got, ok, err := routing.GetClientProxy(ctx, client)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, proxy, got)

	clients, err := routing.GetProxyClients(ctx, proxy)
	require.NoError(t, err)
	assert.Equal(t, []types.ClientID{client}, clients)

	require.NoError(t, routing.RemoveProxyClient(ctx, client, proxy))
	_, ok, err = routing.GetClientProxy(ctx, client)
	require.NoError(t, err)
	assert.False(t, ok)
	clients, err = routing.GetProxyClients(ctx, proxy)
	require.NoError(t, err)
	assert.Empty(t, clients)
}

func TestClientManifest(t *testing.T) {
	ctx := context.Background()
	clients := NewClientManifest(manifest.NewMemoryStore())

	client := uuid.New()
	entityID := uuid.New()
	ip := net.ParseIP("192.168.1.50")

	require.NoError(t, clients.InsertClient(ctx, client, ip))
	require.NoError(t, clients.AssignClientEntity(ctx, client, entityID))

	gotIP, ok, err := clients.GetClientIP(ctx, client)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ip.Equal(gotIP))

	gotEntity, ok, err := clients.GetClientEntityID(ctx, client)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entityID, gotEntity)

	require.NoError(t, clients.RemoveClient(ctx, client))
	_, ok, err = clients.GetClientIP(ctx, client)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = clients.GetClientEntityID(ctx, client)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNodeManifest(t *testing.T) {
	ctx := context.Background()
	nodes := NewNodeManifest(manifest.NewMemoryStore())

	shard := types.NewShardIdentity()
	entry := NodeManifestEntry{NodeName: "node-1", PodName: "shard-abc", PodIP: "10.1.2.3"}
	require.NoError(t, nodes.RegisterShardNode(ctx, shard, entry))

	got, ok, err := nodes.GetShardNode(ctx, shard)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry, got)

	// Non-shard rows are ignored by the bulk read.
	other := types.NewCoordinatorIdentity()
	require.NoError(t, nodes.RegisterShardNode(ctx, other, NodeManifestEntry{NodeName: "x"}))

	all, err := nodes.GetAllShardNodes(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, entry, all[shard])

	require.NoError(t, nodes.DeregisterShard(ctx, shard))
	_, ok, err = nodes.GetShardNode(ctx, shard)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, nodes.ClearAll(ctx))
}
