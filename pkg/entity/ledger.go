package entity

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/log"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/metrics"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

// Ledger is the in-memory authoritative set of entities this shard owns.
// One mutex serializes all mutation; no network or store I/O ever happens
// under it.
type Ledger struct {
	mu       sync.Mutex
	entities map[types.AtlasEntityID]types.AtlasEntity
	logger   zerolog.Logger
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		entities: make(map[types.AtlasEntityID]types.AtlasEntity),
		logger:   log.WithComponent("entity-ledger"),
	}
}

// RegisterNew inserts an entity that must not already be present. A
// duplicate id is a programmer error and fatal: ownership accounting is
// broken and the process must restart.
func (l *Ledger) RegisterNew(e types.AtlasEntity) {
	l.mu.Lock()
	_, exists := l.entities[e.EntityID]
	if !exists {
		l.entities[e.EntityID] = e
	}
	size := len(l.entities)
	l.mu.Unlock()

	if exists {
		log.Fatal(fmt.Sprintf("entity %s registered twice", e.EntityID))
	}
	metrics.EntitiesOwned.Set(float64(size))
}

// Upsert inserts or overwrites an entity. Used when re-adopting a formerly
// owned id and by debug spawn packets.
func (l *Ledger) Upsert(e types.AtlasEntity) {
	l.mu.Lock()
	l.entities[e.EntityID] = e
	size := len(l.entities)
	l.mu.Unlock()
	metrics.EntitiesOwned.Set(float64(size))
}

// Get returns a copy of the entity.
func (l *Ledger) Get(id types.AtlasEntityID) (types.AtlasEntity, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entities[id]
	return e, ok
}

// Has reports presence without copying.
func (l *Ledger) Has(id types.AtlasEntityID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entities[id]
	return ok
}

// Erase removes the entity if present.
func (l *Ledger) Erase(id types.AtlasEntityID) {
	l.mu.Lock()
	delete(l.entities, id)
	size := len(l.entities)
	l.mu.Unlock()
	metrics.EntitiesOwned.Set(float64(size))
}

// GetAndErase atomically removes and returns the entity. This is the
// commit-point primitive: once it returns, the shard is no longer
// authoritative for the id.
func (l *Ledger) GetAndErase(id types.AtlasEntityID) (types.AtlasEntity, bool) {
	l.mu.Lock()
	e, ok := l.entities[id]
	if ok {
		delete(l.entities, id)
	}
	size := len(l.entities)
	l.mu.Unlock()
	metrics.EntitiesOwned.Set(float64(size))
	return e, ok
}

// Mutate applies fn to the entity under the ledger lock, if it is still
// present. Simulation loops use this to move entities without racing the
// commit-point erase.
func (l *Ledger) Mutate(id types.AtlasEntityID, fn func(e *types.AtlasEntity)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entities[id]
	if !ok {
		return false
	}
	fn(&e)
	l.entities[id] = e
	return true
}

// IsClient reports whether the entity is a client avatar. The second
// return is false when the id is unknown.
func (l *Ledger) IsClient(id types.AtlasEntityID) (bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entities[id]
	return e.IsClient, ok
}

// Len returns the current entity count.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entities)
}

func (l *Ledger) sortedIDs() []types.AtlasEntityID {
	ids := make([]types.AtlasEntityID, 0, len(l.entities))
	for id := range l.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}

// ForEach visits entities in id order under the ledger lock. The callback
// must not call back into the ledger or perform I/O.
func (l *Ledger) ForEach(fn func(e types.AtlasEntity)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range l.sortedIDs() {
		fn(l.entities[id])
	}
}

// Snapshot copies out all entities in id order.
func (l *Ledger) Snapshot() []types.AtlasEntity {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.AtlasEntity, 0, len(l.entities))
	for _, id := range l.sortedIDs() {
		out = append(out, l.entities[id])
	}
	return out
}

// SnapshotMinimal copies out the metadata-free projection in id order.
func (l *Ledger) SnapshotMinimal() []types.AtlasEntityMinimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.AtlasEntityMinimal, 0, len(l.entities))
	for _, id := range l.sortedIDs() {
		out = append(out, l.entities[id].Minimal())
	}
	return out
}
