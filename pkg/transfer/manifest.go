package transfer

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/manifest"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/metrics"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

const transferManifestKey = "Transfer::TransferManifest"

// Manifest mirrors in-flight transfers into a JSON document in the
// manifest store so dashboards can watch handoffs live. The document root
// is {"EntityTransfers": {...}, "ClientTransfers": {...}}; each transfer is
// a subdocument keyed by its id.
type Manifest struct {
	store manifest.Store
}

// NewManifest wraps a manifest store.
func NewManifest(store manifest.Store) *Manifest {
	return &Manifest{store: store}
}

func (m *Manifest) ensureRoot(ctx context.Context) error {
	_, err := m.store.JSONSet(ctx, transferManifestKey, ".",
		`{"EntityTransfers": {}, "ClientTransfers": {}}`, true)
	return err
}

type transferDoc struct {
	From      string   `json:"From"`
	From64    string   `json:"From(64)"`
	To        string   `json:"To"`
	To64      string   `json:"To(64)"`
	Stage     string   `json:"stage"`
	EntityIDs []string `json:"EntityIDs"`
}

// Push writes (or overwrites) the subdocument for a transfer record.
func (m *Manifest) Push(ctx context.Context, from types.NetworkIdentity, r *Record) error {
	if err := m.ensureRoot(ctx); err != nil {
		return fmt.Errorf("transfer manifest root: %w", err)
	}

	doc := transferDoc{
		From:   from.String(),
		From64: base64.StdEncoding.EncodeToString(types.EncodeIdentity(from)),
		To:     r.Receiver.String(),
		To64:   base64.StdEncoding.EncodeToString(types.EncodeIdentity(r.Receiver)),
		Stage:  r.Stage.String(),
	}
	doc.EntityIDs = make([]string, len(r.EntityIDs))
	for i, id := range r.EntityIDs {
		doc.EntityIDs[i] = id.String()
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode transfer doc: %w", err)
	}
	path := ".EntityTransfers." + r.ID.String()
	if _, err := m.store.JSONSet(ctx, transferManifestKey, path, string(raw), false); err != nil {
		return fmt.Errorf("push transfer doc: %w", err)
	}
	metrics.StoreRoundTrips.WithLabelValues("transfer_manifest").Inc()
	return nil
}

// Remove deletes a transfer's subdocument.
func (m *Manifest) Remove(ctx context.Context, id types.TransferID) error {
	metrics.StoreRoundTrips.WithLabelValues("transfer_manifest").Inc()
	return m.store.JSONDel(ctx, transferManifestKey, ".EntityTransfers."+id.String())
}
