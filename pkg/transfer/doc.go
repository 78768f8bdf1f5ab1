/*
Package transfer implements the entity handoff protocol between shards.

Sender side, per record: None → Prepare (retry with timeout, bounded, then
abort) → Ready (on the receiver's ack) → Commit → gone (on Complete or
commit timeout). Entering Commit is the canonical handoff point: the
entities are atomically erased from the ledger as the Commit snapshots are
taken, and are never re-created afterwards — a lost Complete ack means the
receiver owns them and the sender merely forgets the record.

Receiver side: Prepare is acknowledged optimistically with Ready (the
snapshots that bind ownership arrive only at Commit). Commit parks each
snapshot in a mailbox with transfer_tick = current + handoff lead, replies
Complete (idempotently, even for retransmits), and each subsequent tick
adopts every entry whose transfer tick has arrived.

The uniqueness of an entity across the cluster rests on two pieces: the
entitiesInTransfer index (one transfer per entity, sender-side) and the
commit-point erase (the entity exists either in the sender's ledger or in
the receiver's mailbox/ledger, never both).

One goroutine owns a coordinator's state machine; received packets are
funneled into it through an inbox channel, so all handling for a transfer
id is serialized without locks spanning network I/O.

In-flight transfers are mirrored to the Transfer::TransferManifest JSON
document for dashboards. Client-entity handoff is not implemented: client
entities are rejected at target resolution with a warning.
*/
package transfer
