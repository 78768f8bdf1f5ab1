package transport

import (
	"context"
	"errors"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/packet"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

// ErrUnknownPeer is returned when sending to a peer with no connection and
// no resolvable address. The transfer state machine treats it like any
// other lost packet: Prepare retries, Commit gives up.
var ErrUnknownPeer = errors.New("transport: unknown or disconnected peer")

// SendFlag selects delivery semantics for one message.
type SendFlag uint8

const (
	// ReliableNow delivers reliably and flushes immediately.
	ReliableNow SendFlag = iota
	// ReliableBatched delivers reliably but may coalesce with other
	// outgoing messages to the same peer.
	ReliableBatched
	// Unreliable is best-effort; the message may be dropped under
	// backpressure.
	Unreliable
)

// Callbacks observe connection lifecycle. All callbacks run on transport
// goroutines and must not block.
type Callbacks struct {
	OnConnected    func(peer types.NetworkIdentity)
	OnDisconnected func(peer types.NetworkIdentity)
}

// Transport is reliable, ordered, identity-authenticated messaging between
// named peers. Messages are packets framed as type_id||body; the transport
// owns its own length framing underneath.
type Transport interface {
	Self() types.NetworkIdentity
	// Bus dispatches received packets to subscribers.
	Bus() *packet.Bus

	EstablishConnectionTo(ctx context.Context, peer types.NetworkIdentity) error
	CloseConnectionTo(peer types.NetworkIdentity, code int, reason string)

	Send(peer types.NetworkIdentity, p packet.Packet, flag SendFlag) error

	// ConnectionTelemetry snapshots per-connection link statistics.
	ConnectionTelemetry() []types.ConnectionTelemetry

	Close() error
}
