package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/codec"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/log"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/manifest"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/transport"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

const networkTelemetryTable = "Network_Telemetry"

// Publisher periodically writes this process's per-connection link stats
// into the Network_Telemetry hash, keyed by identity bytes.
type Publisher struct {
	self   types.NetworkIdentity
	tr     transport.Transport
	store  manifest.Store
	period time.Duration
	logger zerolog.Logger
}

// NewPublisher wires a telemetry publisher.
func NewPublisher(self types.NetworkIdentity, tr transport.Transport,
	store manifest.Store, period time.Duration) *Publisher {
	return &Publisher{
		self:   self,
		tr:     tr,
		store:  store,
		period: period,
		logger: log.WithComponent("telemetry"),
	}
}

// Run publishes until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.publishOnce(ctx); err != nil {
				p.logger.Warn().Err(err).Msg("Telemetry publish failed")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// EncodeRows renders telemetry rows as one blob: u64 count then entries.
func EncodeRows(rows []types.ConnectionTelemetry) []byte {
	w := codec.NewWriter()
	w.Count(len(rows))
	for _, row := range rows {
		row.Serialize(w)
	}
	return w.Bytes()
}

// DecodeRows parses a blob produced by EncodeRows.
func DecodeRows(blob []byte) ([]types.ConnectionTelemetry, error) {
	r := codec.NewReader(blob)
	n := r.Count()
	if err := r.Err(); err != nil {
		return nil, err
	}
	rows := make([]types.ConnectionTelemetry, n)
	for i := 0; i < n; i++ {
		if err := rows[i].Deserialize(r); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (p *Publisher) publishOnce(ctx context.Context) error {
	rows := p.tr.ConnectionTelemetry()
	return p.store.HSet(ctx, networkTelemetryTable,
		string(types.EncodeIdentity(p.self)), string(EncodeRows(rows)))
}
