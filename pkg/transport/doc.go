/*
Package transport moves packets between named peers.

The Transport interface promises reliable, per-peer-ordered delivery of
type_id||body frames, identity-authenticated connections, and per-link
telemetry. Two implementations ship:

  - WSTransport: websocket links between processes. The initiator presents
    its identity string on connect; the acceptor verifies it against the
    ServerRegistry. ReliableBatched coalesces writes on a short flush
    ticker; Unreliable writes are best-effort with a tight deadline.
  - MemTransport / MemNetwork: an in-process loopback network for tests.
    Per-sender ordering holds and a LatencyFunc can delay chosen edges to
    reproduce one-way network delay scenarios.
*/
package transport
