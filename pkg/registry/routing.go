package registry

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/codec"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/manifest"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

const clientToProxyTable = "Routing::ClientID2Proxy"

func proxyClientListKey(proxy types.NetworkIdentity) string {
	return "Routing::Proxy::" + proxy.UUID.String() + "_Clients"
}

func encodeUUID(id uuid.UUID) string {
	w := codec.NewWriter()
	w.UUID(id)
	return string(w.Bytes())
}

func decodeUUID(raw string) (uuid.UUID, error) {
	r := codec.NewReader([]byte(raw))
	id := r.UUID()
	return id, r.Err()
}

// RoutingManifest tracks which proxy fronts which clients. Both directions
// (client→proxy hash and per-proxy client set) are written on every
// assignment so reverse lookups stay consistent.
type RoutingManifest struct {
	store manifest.Store
}

// NewRoutingManifest wraps a manifest store.
func NewRoutingManifest(store manifest.Store) *RoutingManifest {
	return &RoutingManifest{store: store}
}

// AssignProxyClient records that proxy fronts client.
func (m *RoutingManifest) AssignProxyClient(ctx context.Context, client types.ClientID, proxy types.NetworkIdentity) error {
	if _, err := m.store.SAdd(ctx, proxyClientListKey(proxy), encodeUUID(client)); err != nil {
		return fmt.Errorf("assign proxy client: %w", err)
	}
	if err := m.store.HSet(ctx, clientToProxyTable, encodeUUID(client), encodeUUID(proxy.UUID)); err != nil {
		return fmt.Errorf("assign proxy client: %w", err)
	}
	return nil
}

// RemoveProxyClient drops the client from both directions of the mapping.
func (m *RoutingManifest) RemoveProxyClient(ctx context.Context, client types.ClientID, proxy types.NetworkIdentity) error {
	if _, err := m.store.SRem(ctx, proxyClientListKey(proxy), encodeUUID(client)); err != nil {
		return fmt.Errorf("remove proxy client: %w", err)
	}
	if _, err := m.store.HDel(ctx, clientToProxyTable, encodeUUID(client)); err != nil {
		return fmt.Errorf("remove proxy client: %w", err)
	}
	return nil
}

// GetClientProxy resolves the proxy identity fronting a client.
func (m *RoutingManifest) GetClientProxy(ctx context.Context, client types.ClientID) (types.NetworkIdentity, bool, error) {
	raw, ok, err := m.store.HGet(ctx, clientToProxyTable, encodeUUID(client))
	if err != nil || !ok {
		return types.NetworkIdentity{}, false, err
	}
	proxyUUID, err := decodeUUID(raw)
	if err != nil {
		return types.NetworkIdentity{}, false, fmt.Errorf("decode proxy uuid: %w", err)
	}
	return types.NewProxyIdentity(proxyUUID), true, nil
}

// GetProxyClients lists the clients fronted by a proxy.
func (m *RoutingManifest) GetProxyClients(ctx context.Context, proxy types.NetworkIdentity) ([]types.ClientID, error) {
	members, err := m.store.SMembers(ctx, proxyClientListKey(proxy))
	if err != nil {
		return nil, err
	}
	clients := make([]types.ClientID, 0, len(members))
	for _, raw := range members {
		id, err := decodeUUID(raw)
		if err != nil {
			continue
		}
		clients = append(clients, id)
	}
	return clients, nil
}
