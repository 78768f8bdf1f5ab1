package command

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/codec"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/log"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/packet"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/registry"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/transport"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

// NetCommand is a server-originated command destined for one client.
type NetCommand interface {
	CommandID() uint32
	Serialize(w *codec.Writer)
}

// ServerCommandBus batches per-client commands and flushes them to the
// proxies fronting those clients. Queue is cheap; Flush resolves each
// client's proxy through the routing manifest and sends reliably-batched.
type ServerCommandBus struct {
	tr      transport.Transport
	routing *registry.RoutingManifest
	logger  zerolog.Logger

	mu      sync.Mutex
	packets []*packet.CommandPayloadPacket
}

// NewServerCommandBus wires a command bus.
func NewServerCommandBus(tr transport.Transport, routing *registry.RoutingManifest) *ServerCommandBus {
	return &ServerCommandBus{
		tr:      tr,
		routing: routing,
		logger:  log.WithComponent("command-bus"),
	}
}

// Queue serializes a command for the target client.
func (b *ServerCommandBus) Queue(target types.ClientID, cmd NetCommand) {
	w := codec.NewWriter()
	cmd.Serialize(w)
	p := &packet.CommandPayloadPacket{
		Target:    target,
		CmdTypeID: cmd.CommandID(),
		Payload:   w.Bytes(),
	}

	b.mu.Lock()
	b.packets = append(b.packets, p)
	b.mu.Unlock()
}

// Flush routes every queued packet to its client's proxy. A client with no
// proxy route is dropped with a warning — proxies may restart mid-flight
// and the command layer is not reliable storage.
func (b *ServerCommandBus) Flush(ctx context.Context) {
	b.mu.Lock()
	pending := b.packets
	b.packets = nil
	b.mu.Unlock()

	for _, p := range pending {
		proxy, ok, err := b.routing.GetClientProxy(ctx, p.Target)
		if err != nil {
			b.logger.Warn().Err(err).Str("client", p.Target.String()).Msg("Proxy lookup failed, dropping command")
			continue
		}
		if !ok {
			b.logger.Warn().Str("client", p.Target.String()).Msg("Client has no proxy route, dropping command")
			continue
		}
		if err := b.tr.Send(proxy, p, transport.ReliableBatched); err != nil {
			b.logger.Warn().Err(err).Str("proxy", proxy.String()).Msg("Command send failed")
		}
	}
}
