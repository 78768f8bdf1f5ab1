package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/config"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/entity"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/events"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/heuristic"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/log"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/metrics"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/packet"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/transport"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

// ErrProtocol is the error kind for transfer packets that do not fit the
// state machine: unknown stages, acks for unknown transfer ids. The
// coordinator logs and drops such packets without returning it; peers may
// restart mid-flight.
var ErrProtocol = errors.New("transfer: protocol error")

const tickPeriod = 50 * time.Millisecond

// PendingIncomingHandoff is one entity awaiting tick-aligned adoption on
// the receiver.
type PendingIncomingHandoff struct {
	Entity       types.AtlasEntity
	Sender       types.NetworkIdentity
	TransferTick uint64
	Generation   uint64
}

// Coordinator drives the handoff state machine: outgoing transfers for
// entities that left the local bound, and tick-deferred adoption of
// incoming transfers. A single goroutine owns both directions; received
// packets funnel through an inbox so per-transfer handling is serialized.
type Coordinator struct {
	self        types.NetworkIdentity
	tr          transport.Transport
	heur        *heuristic.Manifest
	ledger      *entity.Ledger
	tman        *Manifest
	cfg         config.Config
	currentTick func() uint64
	broker      *events.Broker
	logger      zerolog.Logger

	// mu guards transfers, entitiesInTransfer, toParse, and
	// pendingIncoming. It is held only while touching these, never across
	// sends or store I/O.
	mu                 sync.Mutex
	transfers          *recordSet
	entitiesInTransfer map[types.AtlasEntityID]types.TransferID
	toParse            []types.AtlasEntityID

	// pendingIncoming is the receiver-side mailbox, keyed by entity id.
	// Only the coordinator goroutine mutates it; PendingIncomingCount reads
	// it from any goroutine.
	pendingIncoming map[types.AtlasEntityID]PendingIncomingHandoff

	generation atomic.Uint64
	inbox      chan inboundPacket
	sub        packet.Subscription
}

type inboundPacket struct {
	pkt    *packet.EntityTransferPacket
	sender types.NetworkIdentity
}

// NewCoordinator wires a coordinator. currentTick must be monotonic and
// shared with the shard's simulation loop.
func NewCoordinator(self types.NetworkIdentity, tr transport.Transport, heur *heuristic.Manifest,
	ledger *entity.Ledger, tman *Manifest, cfg config.Config,
	currentTick func() uint64, broker *events.Broker) *Coordinator {
	c := &Coordinator{
		self:               self,
		tr:                 tr,
		heur:               heur,
		ledger:             ledger,
		tman:               tman,
		cfg:                cfg,
		currentTick:        currentTick,
		broker:             broker,
		logger:             log.WithComponent("transfer-coordinator"),
		transfers:          newRecordSet(),
		entitiesInTransfer: make(map[types.AtlasEntityID]types.TransferID),
		pendingIncoming:    make(map[types.AtlasEntityID]PendingIncomingHandoff),
		inbox:              make(chan inboundPacket, 4096),
	}
	c.sub = packet.Subscribe(tr.Bus(), func(p *packet.EntityTransferPacket, meta packet.Meta) {
		select {
		case c.inbox <- inboundPacket{pkt: p, sender: meta.Sender}:
		default:
			c.logger.Warn().Str("sender", meta.Sender.String()).Msg("Transfer inbox full, dropping packet")
		}
	})
	return c
}

// MarkEntitiesForTransfer queues entity ids for target resolution. Called
// by the ledger scanner.
func (c *Coordinator) MarkEntitiesForTransfer(ids []types.AtlasEntityID) {
	c.mu.Lock()
	c.toParse = append(c.toParse, ids...)
	c.mu.Unlock()
}

// IsEntityInTransfer reports whether the id already belongs to an
// outstanding transfer.
func (c *Coordinator) IsEntityInTransfer(id types.AtlasEntityID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entitiesInTransfer[id]
	return ok
}

// PendingIncomingCount reports the mailbox size; used by telemetry and
// tests.
func (c *Coordinator) PendingIncomingCount() int {
	// Only the coordinator goroutine mutates the mailbox, but counting is
	// allowed from anywhere.
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pendingIncoming)
}

// Run owns the coordinator until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()
	defer c.sub.Cancel()

	c.logger.Info().Str("identity", c.self.String()).Msg("Transfer coordinator started")
	for {
		select {
		case <-ticker.C:
			c.parseEntitiesForTargets(ctx)
			c.transferTick(ctx)
			c.adoptDueIncoming()
		case in := <-c.inbox:
			c.handlePacket(ctx, in)
		case <-ctx.Done():
			c.logger.Info().Msg("Transfer coordinator stopped")
			return nil
		}
	}
}

// parseEntitiesForTargets drains the parse queue, groups entities by the
// bound their position now falls in, and creates one transfer record per
// destination shard.
func (c *Coordinator) parseEntitiesForTargets(ctx context.Context) {
	c.mu.Lock()
	queue := c.toParse
	c.toParse = nil
	c.mu.Unlock()
	if len(queue) == 0 {
		return
	}

	batches := make(map[types.BoundsID][]types.AtlasEntityID)
	// The scanner may queue the same id on several scans before a parse.
	seen := make(map[types.AtlasEntityID]bool, len(queue))
	for _, id := range queue {
		if seen[id] || c.IsEntityInTransfer(id) {
			continue
		}
		seen[id] = true
		isClient, ok := c.ledger.IsClient(id)
		if !ok {
			// Entity vanished between scan and parse.
			continue
		}
		if isClient {
			c.logger.Warn().Str("entity_id", id.String()).Msg("Client transfer not implemented, dropping")
			continue
		}
		e, ok := c.ledger.Get(id)
		if !ok {
			continue
		}
		boundID, found, err := c.heur.QueryPosition(ctx, e.Transform.Position)
		if err != nil {
			c.logger.Error().Err(err).Msg("Position query failed")
			continue
		}
		if !found {
			// Outside every bound; nobody is authoritative, keep it.
			continue
		}
		batches[boundID] = append(batches[boundID], id)
	}

	for boundID, ids := range batches {
		receiver, ok, err := c.heur.ClaimerFromBound(ctx, boundID)
		if err != nil {
			c.logger.Error().Err(err).Uint32("bound_id", uint32(boundID)).Msg("Claimer lookup failed")
			continue
		}
		if !ok || receiver == c.self {
			continue
		}

		rec := &Record{
			ID:        uuid.New(),
			Receiver:  receiver,
			EntityIDs: ids,
			Stage:     types.TransferStageNone,
		}
		c.mu.Lock()
		c.transfers.insert(rec)
		for _, id := range ids {
			c.entitiesInTransfer[id] = rec.ID
		}
		c.mu.Unlock()
		c.updateStageMetrics()

		if err := c.tman.Push(ctx, c.self, rec); err != nil {
			c.logger.Warn().Err(err).Msg("Transfer manifest push failed")
		}
		c.publish(events.EventTransferScheduled, rec.ID.String(),
			fmt.Sprintf("%d entities to %s", len(ids), receiver))
		c.logger.Debug().
			Str("transfer_id", rec.ID.String()).
			Int("entities", len(ids)).
			Str("receiver", receiver.String()).
			Msg("Scheduled entity transfer")
	}
}

// transferTick advances every outgoing record through the sender state
// machine.
func (c *Coordinator) transferTick(ctx context.Context) {
	now := time.Now()

	// Stage None: send the initial Prepare.
	c.mu.Lock()
	fresh := c.transfers.inStage(types.TransferStageNone)
	c.mu.Unlock()
	for _, rec := range fresh {
		c.sendPrepare(rec)
		c.mu.Lock()
		c.transfers.setStage(rec, types.TransferStagePrepare)
		rec.WaitingOnResponse = true
		rec.SentAt = now
		c.mu.Unlock()
		if err := c.tman.Push(ctx, c.self, rec); err != nil {
			c.logger.Warn().Err(err).Msg("Transfer manifest push failed")
		}
		c.publish(events.EventTransferPrepared, rec.ID.String(), rec.Receiver.String())
	}

	// Stage Prepare: resend on timeout, abort after max retries.
	c.mu.Lock()
	preparing := c.transfers.inStage(types.TransferStagePrepare)
	c.mu.Unlock()
	for _, rec := range preparing {
		if now.Sub(rec.SentAt) < c.cfg.PrepareTimeout {
			continue
		}
		if rec.Retries >= c.cfg.MaxPrepareRetries {
			c.abort(ctx, rec, "prepare retries exhausted")
			continue
		}
		rec.Retries++
		rec.SentAt = now
		c.sendPrepare(rec)
	}

	// Stage Ready: snapshot, erase, commit. Commit is the canonical
	// handoff point; from the erase onward this shard is no longer
	// authoritative for the batch.
	c.mu.Lock()
	ready := c.transfers.inStage(types.TransferStageReady)
	c.mu.Unlock()
	for _, rec := range ready {
		commits := make([]packet.CommitEntry, 0, len(rec.EntityIDs))
		for _, id := range rec.EntityIDs {
			e, ok := c.ledger.GetAndErase(id)
			if !ok {
				// Should have been protected by entitiesInTransfer.
				log.Fatal(fmt.Sprintf("entity %s missing from ledger at commit", id))
			}
			commits = append(commits, packet.CommitEntry{
				Snapshot:   e,
				Generation: c.generation.Add(1),
			})
		}

		c.mu.Lock()
		c.transfers.setStage(rec, types.TransferStageCommit)
		rec.LocalCommitTick = c.currentTick()
		rec.CommitAt = now
		c.mu.Unlock()
		c.updateStageMetrics()

		err := c.tr.Send(rec.Receiver, &packet.EntityTransferPacket{
			TransferID: rec.ID,
			Stage:      types.TransferStageCommit,
			Commits:    commits,
		}, transport.ReliableNow)
		if err != nil {
			// No rollback: the entities are committed-away. The commit
			// timeout below disposes of the record.
			c.logger.Error().Err(err).Str("transfer_id", rec.ID.String()).Msg("Commit send failed")
		}
		if err := c.tman.Push(ctx, c.self, rec); err != nil {
			c.logger.Warn().Err(err).Msg("Transfer manifest push failed")
		}
		c.publish(events.EventTransferCommitted, rec.ID.String(), rec.Receiver.String())
	}

	// Stage Commit: waiting on Complete. On timeout the record is dropped
	// without re-creating the entities; unacknowledged entities belong to
	// the receiver.
	c.mu.Lock()
	committed := c.transfers.inStage(types.TransferStageCommit)
	c.mu.Unlock()
	for _, rec := range committed {
		if now.Sub(rec.CommitAt) < c.cfg.CommitTimeout {
			continue
		}
		c.logger.Warn().
			Str("transfer_id", rec.ID.String()).
			Str("receiver", rec.Receiver.String()).
			Msg("Complete ack never arrived, dropping record")
		c.removeRecord(ctx, rec)
		metrics.TransfersAborted.WithLabelValues("commit_timeout").Inc()
	}
}

func (c *Coordinator) sendPrepare(rec *Record) {
	err := c.tr.Send(rec.Receiver, &packet.EntityTransferPacket{
		TransferID: rec.ID,
		Stage:      types.TransferStagePrepare,
		PrepareIDs: rec.EntityIDs,
	}, transport.ReliableNow)
	if err != nil {
		c.logger.Warn().Err(err).Str("transfer_id", rec.ID.String()).Msg("Prepare send failed")
	}
}

// abort gives up on a transfer before Commit: the entities stay on this
// shard and leave the in-transfer index.
func (c *Coordinator) abort(ctx context.Context, rec *Record, reason string) {
	c.logger.Warn().
		Str("transfer_id", rec.ID.String()).
		Str("receiver", rec.Receiver.String()).
		Str("reason", reason).
		Msg("Aborting transfer")
	c.removeRecord(ctx, rec)
	metrics.TransfersAborted.WithLabelValues("prepare_timeout").Inc()
	c.publish(events.EventTransferAborted, rec.ID.String(), reason)
}

func (c *Coordinator) removeRecord(ctx context.Context, rec *Record) {
	c.mu.Lock()
	c.transfers.remove(rec.ID)
	for _, id := range rec.EntityIDs {
		delete(c.entitiesInTransfer, id)
	}
	c.mu.Unlock()
	c.updateStageMetrics()
	if err := c.tman.Remove(ctx, rec.ID); err != nil {
		c.logger.Warn().Err(err).Msg("Transfer manifest remove failed")
	}
}

func (c *Coordinator) updateStageMetrics() {
	c.mu.Lock()
	counts := c.transfers.stageCounts()
	c.mu.Unlock()
	for _, stage := range []types.EntityTransferStage{
		types.TransferStageNone, types.TransferStagePrepare,
		types.TransferStageReady, types.TransferStageCommit,
	} {
		metrics.TransfersByStage.WithLabelValues(stage.String()).Set(float64(counts[stage]))
	}
}

func (c *Coordinator) publish(kind events.EventType, id, msg string) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(&events.Event{
		ID:      id,
		Type:    kind,
		Message: msg,
	})
}
