package heuristic

import (
	"context"
	"fmt"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/geom"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/manifest"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

const (
	heuristicTypeKey = "Heuristic_Type"
	pendingBoundsSet = "Heuristic_Bounds_Pending"
	claimedBoundsMap = "Heuristic_Bounds_Claimed"
)

// Manifest publishes the pending-bounds set and the claimed-bounds table in
// the manifest store. All available bounds start pending; each shard pops
// one from pending and records the claim under its own claim key. Claim
// atomicity (SPop) is the safety mechanism behind the single-owner
// invariant: a bound popped by one shard can never be popped by another.
type Manifest struct {
	store manifest.Store
}

// NewManifest wraps a manifest store.
func NewManifest(store manifest.Store) *Manifest {
	return &Manifest{store: store}
}

// SeedPending inserts bound blobs into the pending set. Set semantics make
// re-seeding the same bounds a no-op.
func (m *Manifest) SeedPending(ctx context.Context, bounds []Bound) error {
	if len(bounds) == 0 {
		return nil
	}
	blobs := make([]string, len(bounds))
	for i, b := range bounds {
		blobs[i] = string(EncodeBound(b))
	}
	if _, err := m.store.SAdd(ctx, pendingBoundsSet, blobs...); err != nil {
		return fmt.Errorf("seed pending bounds: %w", err)
	}
	return nil
}

// ClaimNextPending atomically pops one pending bound and records the claim
// under claimKey. Returns (nil, nil) when the pending set is empty.
func (m *Manifest) ClaimNextPending(ctx context.Context, claimKey string) (Bound, error) {
	blob, ok, err := m.store.SPop(ctx, pendingBoundsSet)
	if err != nil {
		return nil, fmt.Errorf("pop pending bound: %w", err)
	}
	if !ok {
		return nil, nil
	}
	b, err := DecodeBound([]byte(blob))
	if err != nil {
		// The blob is already out of pending; dropping it silently would
		// lose a bound. Push it back before surfacing the error.
		_, _ = m.store.SAdd(ctx, pendingBoundsSet, blob)
		return nil, fmt.Errorf("decode pending bound: %w", err)
	}
	if err := m.store.HSet(ctx, claimedBoundsMap, claimKey, blob); err != nil {
		_, _ = m.store.SAdd(ctx, pendingBoundsSet, blob)
		return nil, fmt.Errorf("record claim: %w", err)
	}
	return b, nil
}

// ReturnBound releases the bound claimed under claimKey back to pending.
// Used on graceful shard exit.
func (m *Manifest) ReturnBound(ctx context.Context, claimKey string) error {
	blob, ok, err := m.store.HGet(ctx, claimedBoundsMap, claimKey)
	if err != nil {
		return fmt.Errorf("return bound: %w", err)
	}
	if !ok {
		return nil
	}
	if _, err := m.store.HDel(ctx, claimedBoundsMap, claimKey); err != nil {
		return fmt.Errorf("return bound: %w", err)
	}
	if _, err := m.store.SAdd(ctx, pendingBoundsSet, blob); err != nil {
		return fmt.Errorf("return bound: %w", err)
	}
	return nil
}

// BoundIDFromClaimer resolves the bound id claimed under claimKey.
func (m *Manifest) BoundIDFromClaimer(ctx context.Context, claimKey string) (types.BoundsID, bool, error) {
	blob, ok, err := m.store.HGet(ctx, claimedBoundsMap, claimKey)
	if err != nil || !ok {
		return 0, false, err
	}
	b, err := DecodeBound([]byte(blob))
	if err != nil {
		return 0, false, fmt.Errorf("decode claimed bound: %w", err)
	}
	return b.ID(), true, nil
}

// ClaimerFromBound resolves the identity of the shard that claimed a bound.
func (m *Manifest) ClaimerFromBound(ctx context.Context, id types.BoundsID) (types.NetworkIdentity, bool, error) {
	claimed, err := m.AllClaimed(ctx)
	if err != nil {
		return types.NetworkIdentity{}, false, err
	}
	for claimKey, b := range claimed {
		if b.ID() != id {
			continue
		}
		owner, err := types.ParseIdentity(claimKey)
		if err != nil {
			return types.NetworkIdentity{}, false, fmt.Errorf("parse claim key %q: %w", claimKey, err)
		}
		return owner, true, nil
	}
	return types.NetworkIdentity{}, false, nil
}

// AllPending snapshots the pending set. Undecodable blobs are skipped.
func (m *Manifest) AllPending(ctx context.Context) ([]Bound, error) {
	blobs, err := m.store.SMembers(ctx, pendingBoundsSet)
	if err != nil {
		return nil, err
	}
	bounds := make([]Bound, 0, len(blobs))
	for _, blob := range blobs {
		b, err := DecodeBound([]byte(blob))
		if err != nil {
			continue
		}
		bounds = append(bounds, b)
	}
	return bounds, nil
}

// AllClaimed snapshots the claimed table keyed by claim key.
func (m *Manifest) AllClaimed(ctx context.Context) (map[string]Bound, error) {
	raw, err := m.store.HGetAll(ctx, claimedBoundsMap)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Bound, len(raw))
	for claimKey, blob := range raw {
		b, err := DecodeBound([]byte(blob))
		if err != nil {
			continue
		}
		out[claimKey] = b
	}
	return out, nil
}

// QueryPosition maps a world point to the bound containing it, scanning
// claimed then pending bounds. Returns false when the point lies outside
// every published bound.
func (m *Manifest) QueryPosition(ctx context.Context, p geom.Vec3) (types.BoundsID, bool, error) {
	claimed, err := m.AllClaimed(ctx)
	if err != nil {
		return 0, false, err
	}
	for _, b := range claimed {
		if b.Contains(p) {
			return b.ID(), true, nil
		}
	}
	pending, err := m.AllPending(ctx)
	if err != nil {
		return 0, false, err
	}
	for _, b := range pending {
		if b.Contains(p) {
			return b.ID(), true, nil
		}
	}
	return 0, false, nil
}

// ActiveType reads the heuristic type in effect.
func (m *Manifest) ActiveType(ctx context.Context) (Type, error) {
	raw, ok, err := m.store.Get(ctx, heuristicTypeKey)
	if err != nil {
		return TypeNone, err
	}
	if !ok {
		return TypeNone, nil
	}
	return Type(raw), nil
}

// SetActiveType records the heuristic type. Changing it with bounds still
// pending would strand blobs of the old shape, so that is refused.
func (m *Manifest) SetActiveType(ctx context.Context, t Type) error {
	pending, err := m.store.SCard(ctx, pendingBoundsSet)
	if err != nil {
		return err
	}
	if pending > 0 {
		return fmt.Errorf("heuristic: cannot change active type with %d pending bounds", pending)
	}
	return m.store.Set(ctx, heuristicTypeKey, string(t))
}
