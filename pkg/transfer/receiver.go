package transfer

import (
	"context"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/events"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/metrics"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/packet"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/transport"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

// handlePacket runs on the coordinator goroutine for every received
// transfer packet, covering both sides of the protocol.
func (c *Coordinator) handlePacket(ctx context.Context, in inboundPacket) {
	switch in.pkt.Stage {
	case types.TransferStagePrepare:
		c.onPrepare(in)
	case types.TransferStageReady:
		c.onReady(in)
	case types.TransferStageCommit:
		c.onCommit(in)
	case types.TransferStageComplete:
		c.onComplete(ctx, in)
	default:
		c.logger.Warn().
			Uint32("stage", uint32(in.pkt.Stage)).
			Str("sender", in.sender.String()).
			Msg("Transfer packet with unknown stage dropped")
	}
}

// onPrepare is the receiver's entry point. Acceptance is optimistic: the
// entity positions are unknown until Commit carries the snapshots, so no
// state is recorded yet; the sender just gets its Ready ack.
func (c *Coordinator) onPrepare(in inboundPacket) {
	c.logger.Debug().
		Str("transfer_id", in.pkt.TransferID.String()).
		Int("entities", len(in.pkt.PrepareIDs)).
		Str("sender", in.sender.String()).
		Msg("Prepare received")

	err := c.tr.Send(in.sender, &packet.EntityTransferPacket{
		TransferID: in.pkt.TransferID,
		Stage:      types.TransferStageReady,
	}, transport.ReliableNow)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Ready send failed")
	}
}

// onReady advances a sender-side record from Prepare to Ready.
func (c *Coordinator) onReady(in inboundPacket) {
	c.mu.Lock()
	rec := c.transfers.get(in.pkt.TransferID)
	if rec == nil || rec.Stage != types.TransferStagePrepare {
		// Unknown id or a duplicate Ready after the stage moved on.
		c.mu.Unlock()
		c.logger.Debug().
			Str("transfer_id", in.pkt.TransferID.String()).
			Msg("Ready for unknown or advanced transfer dropped")
		return
	}
	c.transfers.setStage(rec, types.TransferStageReady)
	rec.WaitingOnResponse = false
	c.mu.Unlock()
	c.updateStageMetrics()
}

// onCommit stores the carried snapshots in the incoming mailbox for
// tick-aligned adoption and always acks with Complete — a retransmitted
// Commit just overwrites the mailbox rows idempotently.
func (c *Coordinator) onCommit(in inboundPacket) {
	transferTick := c.currentTick() + c.cfg.HandoffLeadTicks

	c.mu.Lock()
	for _, entry := range in.pkt.Commits {
		c.pendingIncoming[entry.Snapshot.EntityID] = PendingIncomingHandoff{
			Entity:       entry.Snapshot,
			Sender:       in.sender,
			TransferTick: transferTick,
			Generation:   entry.Generation,
		}
	}
	c.mu.Unlock()

	c.logger.Debug().
		Str("transfer_id", in.pkt.TransferID.String()).
		Int("entities", len(in.pkt.Commits)).
		Uint64("transfer_tick", transferTick).
		Str("sender", in.sender.String()).
		Msg("Commit received, adoption scheduled")

	err := c.tr.Send(in.sender, &packet.EntityTransferPacket{
		TransferID: in.pkt.TransferID,
		Stage:      types.TransferStageComplete,
	}, transport.ReliableNow)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Complete send failed")
	}
}

// onComplete finishes a sender-side record: the receiver owns the batch.
func (c *Coordinator) onComplete(ctx context.Context, in inboundPacket) {
	c.mu.Lock()
	rec := c.transfers.get(in.pkt.TransferID)
	c.mu.Unlock()
	if rec == nil {
		// Either a duplicate Complete after cleanup or a transfer from
		// before a restart; both are dropped.
		c.logger.Debug().
			Str("transfer_id", in.pkt.TransferID.String()).
			Msg("Complete for unknown transfer dropped")
		return
	}
	if rec.Stage != types.TransferStageCommit {
		c.logger.Warn().
			Str("transfer_id", rec.ID.String()).
			Str("stage", rec.Stage.String()).
			Msg("Complete arrived before Commit, dropping")
		return
	}
	c.removeRecord(ctx, rec)
	metrics.TransfersCompleted.Inc()
	c.publish(events.EventTransferCompleted, rec.ID.String(), rec.Receiver.String())
	c.logger.Debug().
		Str("transfer_id", rec.ID.String()).
		Msg("Transfer complete")
}

// adoptDueIncoming drains every mailbox entry whose transfer tick has
// arrived, inserting the snapshots into the ledger. Adoption never happens
// before the transfer tick, which both sides computed from the commit
// exchange — that shared point keeps the simulation deterministic across
// the handoff.
func (c *Coordinator) adoptDueIncoming() {
	now := c.currentTick()

	c.mu.Lock()
	var due []PendingIncomingHandoff
	for id, p := range c.pendingIncoming {
		if p.TransferTick <= now {
			due = append(due, p)
			delete(c.pendingIncoming, id)
		}
	}
	c.mu.Unlock()

	for _, p := range due {
		if c.ledger.Has(p.Entity.EntityID) {
			// Re-adopting a formerly-owned id.
			c.ledger.Upsert(p.Entity)
		} else {
			c.ledger.RegisterNew(p.Entity)
		}
		metrics.EntitiesAdopted.Inc()
		c.publish(events.EventEntityAdopted, p.Entity.EntityID.String(), p.Sender.String())
		c.logger.Debug().
			Str("entity_id", p.Entity.EntityID.String()).
			Str("from", p.Sender.String()).
			Uint64("tick", now).
			Msg("Adopted entity")
	}
}
