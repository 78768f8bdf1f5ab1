/*
Package entity holds the authoritative entity ledger and its background
scan loop.

The Ledger is this shard's single source of entity ownership: an id-ordered
map behind one mutex. RegisterNew enforces that an id enters the ledger at
most once (a duplicate is fatal); GetAndErase is the commit-point primitive
the transfer coordinator uses when authority leaves this shard.

The Scanner wakes every scan period, and — when the shard holds a bound —
collects the ids whose position is no longer contained, skipping those
already in transfer, and enqueues them to the transfer coordinator. The
collection happens under the ledger lock; the handoff to the coordinator
does not.
*/
package entity
