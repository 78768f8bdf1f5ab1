package heuristic

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/log"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/metrics"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

// BoundLeaser is the per-shard loop that acquires this shard's authority
// region. While boundless it polls ClaimNextPending; once a bound is held
// it keeps it until the shard exits. A shard holds at most one bound.
type BoundLeaser struct {
	manifest *Manifest
	self     types.NetworkIdentity
	period   time.Duration
	logger   zerolog.Logger

	mu    sync.RWMutex
	bound Bound
}

// NewBoundLeaser creates a leaser for the given shard identity.
func NewBoundLeaser(m *Manifest, self types.NetworkIdentity, period time.Duration) *BoundLeaser {
	return &BoundLeaser{
		manifest: m,
		self:     self,
		period:   period,
		logger:   log.WithComponent("bound-leaser"),
	}
}

// Run claims-and-holds until ctx is cancelled.
func (l *BoundLeaser) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	l.logger.Info().Str("identity", l.self.String()).Msg("Bound leaser started")
	for {
		select {
		case <-ticker.C:
			if !l.HasBound() {
				l.tryClaim(ctx)
			}
		case <-ctx.Done():
			l.logger.Info().Msg("Bound leaser stopped")
			return nil
		}
	}
}

func (l *BoundLeaser) tryClaim(ctx context.Context) {
	metrics.BoundClaimAttempts.Inc()
	claimKey := l.self.String()
	bound, err := l.manifest.ClaimNextPending(ctx, claimKey)
	if err != nil {
		l.logger.Error().Err(err).Msg("Claim attempt failed")
		return
	}
	if bound == nil {
		return
	}

	// Post-claim verification. If the store lost pop atomicity two shards
	// can believe they claimed the same shape; the loser drops its copy
	// and keeps trying.
	owner, ok, err := l.manifest.ClaimerFromBound(ctx, bound.ID())
	if err != nil {
		l.logger.Error().Err(err).Msg("Claim verification failed")
		return
	}
	if !ok || owner != l.self {
		l.logger.Warn().
			Uint32("bound_id", uint32(bound.ID())).
			Str("recorded_owner", owner.String()).
			Msg("Claim collision detected, dropping local copy")
		return
	}

	l.mu.Lock()
	l.bound = bound
	l.mu.Unlock()
	l.logger.Info().
		Uint32("bound_id", uint32(bound.ID())).
		Msg("Claimed bound")
}

// HasBound reports whether this shard currently holds a bound.
func (l *BoundLeaser) HasBound() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bound != nil
}

// Bound returns the held bound, or nil.
func (l *BoundLeaser) Bound() Bound {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bound
}

// Return releases the held bound back to the pending set. Called on
// graceful shutdown; after a forceful exit the claim row stays in place
// (it carries no TTL) until operators or bootstrap clear it.
func (l *BoundLeaser) Return(ctx context.Context) error {
	l.mu.Lock()
	bound := l.bound
	l.bound = nil
	l.mu.Unlock()
	if bound == nil {
		return nil
	}
	if err := l.manifest.ReturnBound(ctx, l.self.String()); err != nil {
		return err
	}
	l.logger.Info().Uint32("bound_id", uint32(bound.ID())).Msg("Returned bound to pending")
	return nil
}
