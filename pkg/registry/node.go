package registry

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/manifest"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

const shardNodeTable = "Node Manifest Shard_Node"

// NodeManifestEntry describes where a shard pod runs, for dashboards and
// orchestration debugging.
type NodeManifestEntry struct {
	NodeName string `json:"nodeName"`
	PodName  string `json:"podName"`
	PodIP    string `json:"podIp"`
}

// NodeManifest records which cluster node and pod hosts each shard.
type NodeManifest struct {
	store manifest.Store
}

// NewNodeManifest wraps a manifest store.
func NewNodeManifest(store manifest.Store) *NodeManifest {
	return &NodeManifest{store: store}
}

// RegisterShardNode records the entry for a shard.
func (m *NodeManifest) RegisterShardNode(ctx context.Context, shard types.NetworkIdentity, entry NodeManifestEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode node entry: %w", err)
	}
	if err := m.store.HSet(ctx, shardNodeTable, string(types.EncodeIdentity(shard)), string(raw)); err != nil {
		return fmt.Errorf("register shard node: %w", err)
	}
	return nil
}

// DeregisterShard removes a shard's row.
func (m *NodeManifest) DeregisterShard(ctx context.Context, shard types.NetworkIdentity) error {
	if _, err := m.store.HDel(ctx, shardNodeTable, string(types.EncodeIdentity(shard))); err != nil {
		return fmt.Errorf("deregister shard node: %w", err)
	}
	return nil
}

// GetShardNode resolves a shard's node entry.
func (m *NodeManifest) GetShardNode(ctx context.Context, shard types.NetworkIdentity) (NodeManifestEntry, bool, error) {
	raw, ok, err := m.store.HGet(ctx, shardNodeTable, string(types.EncodeIdentity(shard)))
	if err != nil || !ok {
		return NodeManifestEntry{}, false, err
	}
	var entry NodeManifestEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return NodeManifestEntry{}, false, fmt.Errorf("decode node entry: %w", err)
	}
	return entry, true, nil
}

// GetAllShardNodes snapshots every shard's node entry. Rows that fail to
// decode or belong to non-shard identities are skipped.
func (m *NodeManifest) GetAllShardNodes(ctx context.Context) (map[types.NetworkIdentity]NodeManifestEntry, error) {
	raw, err := m.store.HGetAll(ctx, shardNodeTable)
	if err != nil {
		return nil, err
	}
	out := make(map[types.NetworkIdentity]NodeManifestEntry, len(raw))
	for field, value := range raw {
		id, err := types.DecodeIdentity([]byte(field))
		if err != nil || id.Role != types.RoleShard {
			continue
		}
		var entry NodeManifestEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			continue
		}
		out[id] = entry
	}
	return out, nil
}

// ClearAll removes the whole table.
func (m *NodeManifest) ClearAll(ctx context.Context) error {
	_, err := m.store.Del(ctx, shardNodeTable)
	return err
}
