package registry

import (
	"context"
	"fmt"
	"net"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/manifest"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

const (
	clientToIPTable     = "Client::ClientID2IP"
	clientToEntityTable = "Client::ClientID2EntityID"
)

// ClientManifest tracks per-client facts: the client's address and the
// entity it controls.
type ClientManifest struct {
	store manifest.Store
}

// NewClientManifest wraps a manifest store.
func NewClientManifest(store manifest.Store) *ClientManifest {
	return &ClientManifest{store: store}
}

// InsertClient records the client's address.
func (m *ClientManifest) InsertClient(ctx context.Context, client types.ClientID, ip net.IP) error {
	if err := m.store.HSet(ctx, clientToIPTable, encodeUUID(client), string(ip)); err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

// RemoveClient drops the client from both tables.
func (m *ClientManifest) RemoveClient(ctx context.Context, client types.ClientID) error {
	if _, err := m.store.HDel(ctx, clientToIPTable, encodeUUID(client)); err != nil {
		return fmt.Errorf("remove client: %w", err)
	}
	if _, err := m.store.HDel(ctx, clientToEntityTable, encodeUUID(client)); err != nil {
		return fmt.Errorf("remove client: %w", err)
	}
	return nil
}

// GetClientIP resolves the client's recorded address.
func (m *ClientManifest) GetClientIP(ctx context.Context, client types.ClientID) (net.IP, bool, error) {
	raw, ok, err := m.store.HGet(ctx, clientToIPTable, encodeUUID(client))
	if err != nil || !ok {
		return nil, false, err
	}
	return net.IP(raw), true, nil
}

// AssignClientEntity records which entity the client controls.
func (m *ClientManifest) AssignClientEntity(ctx context.Context, client types.ClientID, entity types.AtlasEntityID) error {
	if err := m.store.HSet(ctx, clientToEntityTable, encodeUUID(client), encodeUUID(entity)); err != nil {
		return fmt.Errorf("assign client entity: %w", err)
	}
	return nil
}

// GetClientEntityID resolves the entity controlled by the client.
func (m *ClientManifest) GetClientEntityID(ctx context.Context, client types.ClientID) (types.AtlasEntityID, bool, error) {
	raw, ok, err := m.store.HGet(ctx, clientToEntityTable, encodeUUID(client))
	if err != nil || !ok {
		return types.AtlasEntityID{}, false, err
	}
	id, err := decodeUUID(raw)
	if err != nil {
		return types.AtlasEntityID{}, false, fmt.Errorf("decode entity uuid: %w", err)
	}
	return id, true, nil
}
