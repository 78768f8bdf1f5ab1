package registry

import (
	"context"
	"fmt"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/manifest"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

const serverRegistryTable = "ServerRegistry"

// ServerRegistry maps process identities to reachable addresses. Every
// process registers itself on start and deregisters on graceful shutdown;
// re-registration overwrites.
type ServerRegistry struct {
	store manifest.Store
}

// NewServerRegistry wraps a manifest store.
func NewServerRegistry(store manifest.Store) *ServerRegistry {
	return &ServerRegistry{store: store}
}

// RegisterSelf records identity → addr.
func (r *ServerRegistry) RegisterSelf(ctx context.Context, id types.NetworkIdentity, addr string) error {
	if err := r.store.HSet(ctx, serverRegistryTable, string(types.EncodeIdentity(id)), addr); err != nil {
		return fmt.Errorf("register %s: %w", id, err)
	}
	return nil
}

// DeregisterSelf removes the identity's row.
func (r *ServerRegistry) DeregisterSelf(ctx context.Context, id types.NetworkIdentity) error {
	if _, err := r.store.HDel(ctx, serverRegistryTable, string(types.EncodeIdentity(id))); err != nil {
		return fmt.Errorf("deregister %s: %w", id, err)
	}
	return nil
}

// Lookup resolves an identity to its address.
func (r *ServerRegistry) Lookup(ctx context.Context, id types.NetworkIdentity) (string, bool, error) {
	return r.store.HGet(ctx, serverRegistryTable, string(types.EncodeIdentity(id)))
}

// ListAll snapshots the whole registry. Rows whose identity bytes fail to
// decode are skipped.
func (r *ServerRegistry) ListAll(ctx context.Context) (map[types.NetworkIdentity]string, error) {
	raw, err := r.store.HGetAll(ctx, serverRegistryTable)
	if err != nil {
		return nil, err
	}
	out := make(map[types.NetworkIdentity]string, len(raw))
	for field, addr := range raw {
		id, err := types.DecodeIdentity([]byte(field))
		if err != nil {
			continue
		}
		out[id] = addr
	}
	return out, nil
}

// ListShards returns the registered shard identities, excluding self.
func (r *ServerRegistry) ListShards(ctx context.Context, self types.NetworkIdentity) ([]types.NetworkIdentity, error) {
	all, err := r.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var shards []types.NetworkIdentity
	for id := range all {
		if id.Role == types.RoleShard && id != self {
			shards = append(shards, id)
		}
	}
	return shards, nil
}
