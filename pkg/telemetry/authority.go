package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/codec"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/entity"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/log"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/manifest"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

const entityAuthorityTable = "Entity_Authority"

// AuthorityRow is one entry of the published entity → owner table.
type AuthorityRow struct {
	EntityID types.AtlasEntityID
	Owner    types.NetworkIdentity
	Minimal  types.AtlasEntityMinimal
}

func (r AuthorityRow) serialize(w *codec.Writer) {
	w.UUID(r.EntityID)
	r.Owner.Serialize(w)
	r.Minimal.Serialize(w)
}

func (r *AuthorityRow) deserialize(rd *codec.Reader) error {
	r.EntityID = rd.UUID()
	if err := r.Owner.Deserialize(rd); err != nil {
		return err
	}
	return r.Minimal.Deserialize(rd)
}

// DecodeAuthorityRow parses one published row.
func DecodeAuthorityRow(blob []byte) (AuthorityRow, error) {
	var row AuthorityRow
	rd := codec.NewReader(blob)
	if err := row.deserialize(rd); err != nil {
		return AuthorityRow{}, err
	}
	return row, nil
}

// AuthorityPublisher mirrors this shard's ledger into the Entity_Authority
// hash (entity uuid bytes → row blob) so dashboards can render ownership.
// Rows this shard published for entities it no longer owns are deleted on
// each cycle.
type AuthorityPublisher struct {
	self   types.NetworkIdentity
	ledger *entity.Ledger
	store  manifest.Store
	period time.Duration
	logger zerolog.Logger

	published map[types.AtlasEntityID]struct{}
}

// NewAuthorityPublisher wires an authority publisher.
func NewAuthorityPublisher(self types.NetworkIdentity, ledger *entity.Ledger,
	store manifest.Store, period time.Duration) *AuthorityPublisher {
	return &AuthorityPublisher{
		self:      self,
		ledger:    ledger,
		store:     store,
		period:    period,
		logger:    log.WithComponent("authority-telemetry"),
		published: make(map[types.AtlasEntityID]struct{}),
	}
}

// Run publishes until ctx is cancelled.
func (p *AuthorityPublisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.publishOnce(ctx); err != nil {
				p.logger.Warn().Err(err).Msg("Authority publish failed")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *AuthorityPublisher) publishOnce(ctx context.Context) error {
	snapshot := p.ledger.SnapshotMinimal()

	current := make(map[types.AtlasEntityID]struct{}, len(snapshot))
	for _, e := range snapshot {
		current[e.EntityID] = struct{}{}
		w := codec.NewWriter()
		AuthorityRow{EntityID: e.EntityID, Owner: p.self, Minimal: e}.serialize(w)
		field := string(encodeEntityKey(e.EntityID))
		if err := p.store.HSet(ctx, entityAuthorityTable, field, string(w.Bytes())); err != nil {
			return err
		}
	}

	// Delete rows for entities that left this ledger since last cycle.
	for id := range p.published {
		if _, still := current[id]; still {
			continue
		}
		if _, err := p.store.HDel(ctx, entityAuthorityTable, string(encodeEntityKey(id))); err != nil {
			return err
		}
	}
	p.published = current
	return nil
}

func encodeEntityKey(id types.AtlasEntityID) []byte {
	w := codec.NewWriter()
	w.UUID(id)
	return w.Bytes()
}
