package handoff

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/events"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/log"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/metrics"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/packet"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/registry"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/transport"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

// ManagerOptions tune the connection manager loops.
type ManagerOptions struct {
	ProbeInterval time.Duration
	ReapInterval  time.Duration
	Lease         LeaseOptions
}

// ConnectionManager maintains per-peer connection health between shards:
// periodic liveness probes to a discovered peer, inactivity reaping, and
// the advisory connection leases that keep both sides from dialing each
// other simultaneously.
type ConnectionManager struct {
	self    types.NetworkIdentity
	tr      transport.Transport
	reg     *registry.ServerRegistry
	leases  *LeaseCoordinator
	broker  *events.Broker
	options ManagerOptions
	logger  zerolog.Logger

	pingSub packet.Subscription
}

// NewConnectionManager wires the manager and subscribes the ping receiver.
func NewConnectionManager(self types.NetworkIdentity, tr transport.Transport,
	reg *registry.ServerRegistry, leases *LeaseCoordinator,
	broker *events.Broker, options ManagerOptions) *ConnectionManager {
	m := &ConnectionManager{
		self:    self,
		tr:      tr,
		reg:     reg,
		leases:  leases,
		broker:  broker,
		options: options,
		logger:  log.WithComponent("handoff-connections"),
	}
	m.pingSub = packet.Subscribe(tr.Bus(), func(p *packet.HandoffPingPacket, meta packet.Meta) {
		rtt := time.Duration(uint64(time.Now().UnixMilli())-p.SentAtMs) * time.Millisecond
		m.logger.Debug().
			Str("peer", p.Sender.String()).
			Dur("one_way", rtt).
			Msg("Handoff ping received")
		m.leases.MarkConnectionActivity(context.Background(), p.Sender)
	})
	return m
}

// Run drives the probe and reap loops until ctx is cancelled.
func (m *ConnectionManager) Run(ctx context.Context) error {
	probe := time.NewTicker(m.options.ProbeInterval)
	reap := time.NewTicker(m.options.ReapInterval)
	defer probe.Stop()
	defer reap.Stop()
	defer m.pingSub.Cancel()

	m.logger.Info().Str("identity", m.self.String()).Msg("Connection manager started")
	for {
		select {
		case <-probe.C:
			m.probeOnce(ctx)
		case <-reap.C:
			m.reapOnce(ctx)
		case <-ctx.Done():
			m.shutdown()
			return nil
		}
	}
}

// probeOnce picks a peer shard from the registry and pings it over an
// established connection, lease permitting.
func (m *ConnectionManager) probeOnce(ctx context.Context) {
	peers, err := m.reg.ListShards(ctx, m.self)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Shard discovery failed")
		return
	}
	if len(peers) == 0 {
		m.logger.Debug().Msg("No peer shard found in registry")
		return
	}
	peer := peers[0]

	if !m.leases.TryAcquireOrRefreshLease(ctx, peer) {
		m.logger.Debug().Str("peer", peer.String()).Msg("Lease held by peer, skipping connect")
		return
	}
	if err := m.tr.EstablishConnectionTo(ctx, peer); err != nil {
		m.logger.Warn().Err(err).Str("peer", peer.String()).Msg("Connection establish failed")
		return
	}
	err = m.tr.Send(peer, &packet.HandoffPingPacket{
		Sender:   m.self,
		SentAtMs: uint64(time.Now().UnixMilli()),
	}, transport.ReliableNow)
	if err != nil {
		m.logger.Warn().Err(err).Str("peer", peer.String()).Msg("Probe ping failed")
		return
	}
	metrics.ProbesSent.Inc()
	m.leases.MarkConnectionActivity(ctx, peer)
}

// reapOnce closes connections idle past the inactivity timeout.
func (m *ConnectionManager) reapOnce(ctx context.Context) {
	m.leases.ReapInactiveConnections(ctx, time.Now(),
		func(peer types.NetworkIdentity, idleFor time.Duration) {
			m.tr.CloseConnectionTo(peer, 0, "handoff inactivity timeout")
			metrics.ConnectionsReaped.Inc()
			if m.broker != nil {
				m.broker.Publish(&events.Event{
					Type:    events.EventConnectionReaped,
					ID:      peer.String(),
					Message: idleFor.String(),
				})
			}
			m.logger.Warn().
				Str("peer", peer.String()).
				Dur("idle", idleFor).
				Msg("Closed inactive connection")
		})
}

func (m *ConnectionManager) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Force-release every lease we may hold so a restart is not locked out
	// until TTL expiry.
	m.leases.ReapInactiveConnections(ctx, time.Now().Add(m.options.Lease.InactivityTimeout+time.Hour),
		func(peer types.NetworkIdentity, _ time.Duration) {
			m.tr.CloseConnectionTo(peer, 0, "handoff shutdown")
		})
	m.leases.Clear()
	m.logger.Info().Msg("Connection manager stopped")
}

// MarkConnectionActivity forwards to the lease coordinator; the transfer
// coordinator calls it when transfer traffic proves the link alive.
func (m *ConnectionManager) MarkConnectionActivity(ctx context.Context, peer types.NetworkIdentity) {
	m.leases.MarkConnectionActivity(ctx, peer)
}
