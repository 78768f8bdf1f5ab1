package handoff

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/log"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/manifest"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/metrics"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

const leaseKeyPrefix = "Handoff::ConnLease|"

// LeaseOptions tune the lease coordinator.
type LeaseOptions struct {
	Enabled           bool
	TTL               time.Duration
	InactivityTimeout time.Duration
}

// LeaseCoordinator prevents two shards from both initiating a connection to
// each other: a symmetric TTL'd key in the manifest store names the one
// peer allowed to dial. The lease is advisory — handoff correctness does
// not depend on it, it only reduces connection flapping.
type LeaseCoordinator struct {
	self    types.NetworkIdentity
	store   manifest.Store
	options LeaseOptions
	logger  zerolog.Logger

	mu           sync.Mutex
	lastActivity map[types.NetworkIdentity]time.Time
}

// NewLeaseCoordinator creates a coordinator for self.
func NewLeaseCoordinator(self types.NetworkIdentity, store manifest.Store, options LeaseOptions) *LeaseCoordinator {
	return &LeaseCoordinator{
		self:         self,
		store:        store,
		options:      options,
		logger:       log.WithComponent("lease-coordinator"),
		lastActivity: make(map[types.NetworkIdentity]time.Time),
	}
}

// leaseKey derives the symmetric key for a peer pair: the two identity
// strings in lexicographic order, so both sides compute the same key.
func (l *LeaseCoordinator) leaseKey(peer types.NetworkIdentity) string {
	self := l.self.String()
	other := peer.String()
	if self < other {
		return leaseKeyPrefix + self + "|" + other
	}
	return leaseKeyPrefix + other + "|" + self
}

// TryAcquireOrRefreshLease returns true when this shard may dial the peer:
// the lease was absent (acquired via SET-NX), or already ours (refreshed).
// A lease held by the peer rejects — the peer will connect to us.
func (l *LeaseCoordinator) TryAcquireOrRefreshLease(ctx context.Context, peer types.NetworkIdentity) bool {
	if !l.options.Enabled {
		return true
	}
	key := l.leaseKey(peer)
	owner := l.self.String()

	acquired, err := l.store.SetNX(ctx, key, owner, l.options.TTL)
	if err != nil {
		l.logger.Warn().Err(err).Msg("Lease acquire failed, proceeding without")
		return true
	}
	if acquired {
		return true
	}

	existing, ok, err := l.store.Get(ctx, key)
	if err != nil {
		l.logger.Warn().Err(err).Msg("Lease read failed, proceeding without")
		return true
	}
	if ok && existing == owner {
		if _, err := l.store.Expire(ctx, key, l.options.TTL); err != nil {
			l.logger.Warn().Err(err).Msg("Lease refresh failed")
		}
		return true
	}
	metrics.LeaseRejections.Inc()
	return false
}

// ReleaseLeaseIfOwned deletes the lease key when this shard holds it.
func (l *LeaseCoordinator) ReleaseLeaseIfOwned(ctx context.Context, peer types.NetworkIdentity) {
	if !l.options.Enabled {
		return
	}
	key := l.leaseKey(peer)
	existing, ok, err := l.store.Get(ctx, key)
	if err != nil || !ok {
		return
	}
	if existing == l.self.String() {
		_, _ = l.store.Del(ctx, key)
	}
}

// MarkConnectionActivity stamps the peer's activity clock and acquires the
// pair lease if it is free, or refreshes it if it is ours.
func (l *LeaseCoordinator) MarkConnectionActivity(ctx context.Context, peer types.NetworkIdentity) {
	l.mu.Lock()
	l.lastActivity[peer] = time.Now()
	l.mu.Unlock()
	if l.options.Enabled {
		l.TryAcquireOrRefreshLease(ctx, peer)
	}
}

// ReapInactiveConnections releases leases and invokes onInactive for every
// peer idle beyond the inactivity timeout, forgetting its activity entry.
func (l *LeaseCoordinator) ReapInactiveConnections(ctx context.Context, now time.Time,
	onInactive func(peer types.NetworkIdentity, idleFor time.Duration)) {
	l.mu.Lock()
	var idle []types.NetworkIdentity
	idleFor := make(map[types.NetworkIdentity]time.Duration)
	for peer, last := range l.lastActivity {
		d := now.Sub(last)
		if d <= l.options.InactivityTimeout {
			continue
		}
		idle = append(idle, peer)
		idleFor[peer] = d
		delete(l.lastActivity, peer)
	}
	l.mu.Unlock()

	for _, peer := range idle {
		l.ReleaseLeaseIfOwned(ctx, peer)
		if onInactive != nil {
			onInactive(peer, idleFor[peer])
		}
	}
}

// Clear forgets all activity state.
func (l *LeaseCoordinator) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastActivity = make(map[types.NetworkIdentity]time.Time)
}
