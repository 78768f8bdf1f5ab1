/*
Package shard assembles one shard process: the bound leaser, entity ledger
and scanner, transfer coordinator, connection manager, and telemetry
publishers, all hanging off a single Runtime value.

The Runtime is deliberately singleton-free — store and transport are
injected — so integration tests run several shards inside one process
against a shared in-memory store and loopback network, exactly the way a
deployed cluster shares a redis endpoint and the real network.

Run blocks until the context is cancelled, then performs the graceful-exit
protocol: stop loops, release connection leases, deregister from the
server registry, and return the claimed bound to the pending set.
*/
package shard
