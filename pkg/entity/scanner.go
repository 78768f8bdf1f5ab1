package entity

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/heuristic"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/log"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/metrics"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/packet"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/transport"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

// BoundSource exposes the shard's current authority region.
type BoundSource interface {
	HasBound() bool
	Bound() heuristic.Bound
}

// Scanner is the ledger's background loop: it finds entities whose position
// has left the local bound and feeds them to the transfer coordinator. The
// out-of-bound list is copied out under the ledger lock, then handed over
// with the lock released.
type Scanner struct {
	ledger *Ledger
	bounds BoundSource
	// inTransfer filters ids the coordinator already tracks.
	inTransfer func(types.AtlasEntityID) bool
	// enqueue feeds the coordinator's parse queue.
	enqueue func([]types.AtlasEntityID)
	period  time.Duration
	logger  zerolog.Logger
}

// NewScanner wires the scan loop.
func NewScanner(ledger *Ledger, bounds BoundSource, inTransfer func(types.AtlasEntityID) bool,
	enqueue func([]types.AtlasEntityID), period time.Duration) *Scanner {
	return &Scanner{
		ledger:     ledger,
		bounds:     bounds,
		inTransfer: inTransfer,
		enqueue:    enqueue,
		period:     period,
		logger:     log.WithComponent("ledger-scanner"),
	}
}

// Run scans until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	s.logger.Info().Msg("Ledger scanner started")
	for {
		select {
		case <-ticker.C:
			s.scan()
		case <-ctx.Done():
			s.logger.Info().Msg("Ledger scanner stopped")
			return nil
		}
	}
}

func (s *Scanner) scan() {
	if !s.bounds.HasBound() {
		return
	}
	bound := s.bounds.Bound()

	var out []types.AtlasEntityID
	s.ledger.ForEach(func(e types.AtlasEntity) {
		if bound.Contains(e.Transform.Position) {
			return
		}
		if s.inTransfer(e.EntityID) {
			return
		}
		out = append(out, e.EntityID)
	})

	if len(out) == 0 {
		return
	}
	metrics.EntitiesOutOfBounds.Add(float64(len(out)))
	s.logger.Debug().Int("count", len(out)).Msg("Entities out of bounds")
	s.enqueue(out)
}

// AttachListHandler subscribes the ledger to entity-list requests on the
// transport, replying with a full or minimal snapshot.
func AttachListHandler(ledger *Ledger, tr transport.Transport) packet.Subscription {
	logger := log.WithComponent("entity-ledger")
	return packet.Subscribe(tr.Bus(), func(p *packet.LocalEntityListRequestPacket, meta packet.Meta) {
		if p.Status != packet.EntityListQuery {
			return
		}
		resp := &packet.LocalEntityListRequestPacket{
			Status:          packet.EntityListResponse,
			IncludeMetadata: p.IncludeMetadata,
		}
		if p.IncludeMetadata {
			resp.Full = ledger.Snapshot()
		} else {
			resp.Minimal = ledger.SnapshotMinimal()
		}
		if err := tr.Send(meta.Sender, resp, transport.ReliableNow); err != nil {
			logger.Warn().Err(err).Str("peer", meta.Sender.String()).Msg("Entity list reply failed")
		}
	})
}

// AttachGenericEntityHandler lets debug tooling spawn or overwrite entities
// on this shard.
func AttachGenericEntityHandler(ledger *Ledger, tr transport.Transport) packet.Subscription {
	return packet.Subscribe(tr.Bus(), func(p *packet.GenericEntityPacket, _ packet.Meta) {
		ledger.Upsert(p.Entity)
	})
}
