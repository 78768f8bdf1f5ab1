package shard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/command"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/config"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/entity"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/events"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/handoff"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/heuristic"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/log"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/manifest"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/metrics"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/registry"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/telemetry"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/transfer"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/transport"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

// Options assembles a shard runtime. Store and Transport are injected so
// multiple in-process shards can share a MemNetwork and MemoryStore in
// tests; production wires RedisStore and WSTransport.
type Options struct {
	Identity      types.NetworkIdentity
	AdvertiseAddr string
	Config        config.Config
	Store         manifest.Store
	Transport     transport.Transport
	NodeEntry     registry.NodeManifestEntry
}

// Runtime owns one shard's subsystems and background loops. There are no
// process-wide singletons: every subsystem hangs off the runtime value, so
// a test can run a whole cluster in one process.
type Runtime struct {
	opts   Options
	logger zerolog.Logger

	servers  *registry.ServerRegistry
	nodes    *registry.NodeManifest
	routing  *registry.RoutingManifest
	commands *command.ServerCommandBus
	heur     *heuristic.Manifest
	leaser   *heuristic.BoundLeaser
	ledger   *entity.Ledger
	scanner  *entity.Scanner
	coord    *transfer.Coordinator
	connMgr  *handoff.ConnectionManager
	netTel   *telemetry.Publisher
	authTel  *telemetry.AuthorityPublisher
	broker   *events.Broker

	tick atomic.Uint64

	listSub    interface{ Cancel() }
	genericSub interface{ Cancel() }
}

// New assembles a runtime from its options.
func New(opts Options) *Runtime {
	r := &Runtime{
		opts:   opts,
		logger: log.WithIdentity(opts.Identity.String()),
		broker: events.NewBroker(),
	}

	r.servers = registry.NewServerRegistry(opts.Store)
	r.nodes = registry.NewNodeManifest(opts.Store)
	r.routing = registry.NewRoutingManifest(opts.Store)
	r.commands = command.NewServerCommandBus(opts.Transport, r.routing)
	r.heur = heuristic.NewManifest(opts.Store)
	r.leaser = heuristic.NewBoundLeaser(r.heur, opts.Identity, opts.Config.BoundClaimPeriod)
	r.ledger = entity.NewLedger()

	tman := transfer.NewManifest(opts.Store)
	r.coord = transfer.NewCoordinator(opts.Identity, opts.Transport, r.heur, r.ledger,
		tman, opts.Config, r.CurrentTick, r.broker)
	r.scanner = entity.NewScanner(r.ledger, r.leaser, r.coord.IsEntityInTransfer,
		r.coord.MarkEntitiesForTransfer, opts.Config.LedgerScanPeriod)

	leases := handoff.NewLeaseCoordinator(opts.Identity, opts.Store, handoff.LeaseOptions{
		Enabled:           opts.Config.LeaseEnabled,
		TTL:               opts.Config.LeaseTTL,
		InactivityTimeout: opts.Config.InactivityTimeout,
	})
	r.connMgr = handoff.NewConnectionManager(opts.Identity, opts.Transport, r.servers,
		leases, r.broker, handoff.ManagerOptions{
			ProbeInterval: opts.Config.ProbeInterval,
			ReapInterval:  time.Second,
			Lease: handoff.LeaseOptions{
				Enabled:           opts.Config.LeaseEnabled,
				TTL:               opts.Config.LeaseTTL,
				InactivityTimeout: opts.Config.InactivityTimeout,
			},
		})

	r.netTel = telemetry.NewPublisher(opts.Identity, opts.Transport, opts.Store, opts.Config.TelemetryPeriod)
	r.authTel = telemetry.NewAuthorityPublisher(opts.Identity, r.ledger, opts.Store, opts.Config.TelemetryPeriod)
	return r
}

// Ledger exposes the entity ledger (tests and embedding games).
func (r *Runtime) Ledger() *entity.Ledger {
	return r.ledger
}

// Leaser exposes the bound leaser.
func (r *Runtime) Leaser() *heuristic.BoundLeaser {
	return r.leaser
}

// Coordinator exposes the transfer coordinator.
func (r *Runtime) Coordinator() *transfer.Coordinator {
	return r.coord
}

// Commands exposes the server command bus. Embedding games queue commands
// for their client entities; the runtime flushes the bus every tick.
func (r *Runtime) Commands() *command.ServerCommandBus {
	return r.commands
}

// Events exposes the runtime's event broker.
func (r *Runtime) Events() *events.Broker {
	return r.broker
}

// Identity returns this shard's network identity.
func (r *Runtime) Identity() types.NetworkIdentity {
	return r.opts.Identity
}

// CurrentTick reads the shard's authority tick.
func (r *Runtime) CurrentTick() uint64 {
	return r.tick.Load()
}

// Run registers this shard, starts every background loop, and blocks until
// ctx is cancelled; it then deregisters, releases leases, and returns the
// bound to the pending set before reporting.
func (r *Runtime) Run(ctx context.Context) error {
	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := r.register(startCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("shard registration: %w", err)
	}

	r.broker.Start()
	r.listSub = entity.AttachListHandler(r.ledger, r.opts.Transport)
	r.genericSub = entity.AttachGenericEntityHandler(r.ledger, r.opts.Transport)

	g, loopCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.tickLoop(loopCtx) })
	g.Go(func() error { return r.leaser.Run(loopCtx) })
	g.Go(func() error { return r.scanner.Run(loopCtx) })
	g.Go(func() error { return r.coord.Run(loopCtx) })
	g.Go(func() error { return r.connMgr.Run(loopCtx) })
	g.Go(func() error { return r.netTel.Run(loopCtx) })
	g.Go(func() error { return r.authTel.Run(loopCtx) })

	r.logger.Info().Msg("Shard runtime started")
	runErr := g.Wait()

	r.listSub.Cancel()
	r.genericSub.Cancel()
	r.releaseAll()
	r.broker.Stop()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// tickLoop advances the shard's authority tick. Every handoff constant
// expressed in ticks (the adoption lead in particular) counts these.
func (r *Runtime) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Config.LedgerScanPeriod)
	defer ticker.Stop()
	hadBound := false
	for {
		select {
		case <-ticker.C:
			r.tick.Add(1)
			r.commands.Flush(ctx)
			if has := r.leaser.HasBound(); has != hadBound {
				hadBound = has
				if has {
					r.broker.Publish(&events.Event{
						Type: events.EventBoundClaimed,
						ID:   r.opts.Identity.String(),
					})
				}
			}
			metrics.BoundHeld.Set(boolToFloat(r.leaser.HasBound()))
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Runtime) register(ctx context.Context) error {
	if err := r.servers.RegisterSelf(ctx, r.opts.Identity, r.opts.AdvertiseAddr); err != nil {
		return err
	}
	if r.opts.NodeEntry != (registry.NodeManifestEntry{}) {
		if err := r.nodes.RegisterShardNode(ctx, r.opts.Identity, r.opts.NodeEntry); err != nil {
			return err
		}
	}
	r.broker.Publish(&events.Event{
		Type: events.EventNodeRegistered,
		ID:   r.opts.Identity.String(),
	})
	return nil
}

// releaseAll is the graceful-exit manifest cleanup: deregister, return the
// bound to pending. Runs on a fresh context because the run context is
// already cancelled.
func (r *Runtime) releaseAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hadBound := r.leaser.HasBound()
	if err := r.leaser.Return(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Bound return failed")
	} else if hadBound {
		r.broker.Publish(&events.Event{
			Type: events.EventBoundReturned,
			ID:   r.opts.Identity.String(),
		})
	}
	if err := r.servers.DeregisterSelf(ctx, r.opts.Identity); err != nil {
		r.logger.Warn().Err(err).Msg("Registry deregister failed")
	}
	if err := r.nodes.DeregisterShard(ctx, r.opts.Identity); err != nil {
		r.logger.Warn().Err(err).Msg("Node manifest deregister failed")
	}
	r.broker.Publish(&events.Event{
		Type: events.EventNodeDeregistered,
		ID:   r.opts.Identity.String(),
	})
	r.logger.Info().Msg("Shard runtime stopped")
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Hostname is a best-effort node name for the node manifest entry.
func Hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
