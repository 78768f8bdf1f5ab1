/*
Package handoff keeps the shard-to-shard connection fabric healthy.

Every probe interval the ConnectionManager picks a peer shard from the
ServerRegistry, acquires (or refreshes) the pair's connection lease,
establishes a transport connection, and sends a HandoffPingPacket. The
receiver logs the latency and marks activity. Peers with no activity past
the inactivity timeout are closed and their leases released.

The connection lease is a symmetric TTL'd key — prefix|min|max over the two
identity strings — acquired with SET-NX. Whoever holds it dials; the other
side waits to be dialed. It is purely an optimization against connection
flapping: transfer correctness never depends on it.
*/
package handoff
