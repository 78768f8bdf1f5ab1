package packet

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/log"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

// Meta carries delivery information alongside a dispatched packet.
type Meta struct {
	Sender types.NetworkIdentity
}

// Handler receives a decoded, validated packet.
type Handler func(p Packet, meta Meta)

// Subscription identifies one registered handler; Cancel removes it.
type Subscription struct {
	bus    *Bus
	typeID uint32
	seq    uint64
}

// Cancel removes the subscription from its bus. Safe to call on the zero
// value and more than once.
func (s Subscription) Cancel() {
	if s.bus == nil {
		return
	}
	s.bus.unsubscribe(s.typeID, s.seq)
}

// Bus decodes incoming frames and fans them out to per-type subscribers.
// Handlers run on the dispatcher goroutine and must not block for long.
type Bus struct {
	registry *Registry
	logger   zerolog.Logger

	mu       sync.RWMutex
	nextSeq  uint64
	handlers map[uint32]map[uint64]Handler
}

// NewBus creates a bus over a packet registry.
func NewBus(reg *Registry) *Bus {
	return &Bus{
		registry: reg,
		logger:   log.WithComponent("packet-bus"),
		handlers: make(map[uint32]map[uint64]Handler),
	}
}

// SubscribeName registers a handler for the packet with the given name.
func (b *Bus) SubscribeName(name string, h Handler) Subscription {
	id := TypeID(name)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[id] == nil {
		b.handlers[id] = make(map[uint64]Handler)
	}
	b.nextSeq++
	b.handlers[id][b.nextSeq] = h
	return Subscription{bus: b, typeID: id, seq: b.nextSeq}
}

func (b *Bus) unsubscribe(typeID uint32, seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m := b.handlers[typeID]; m != nil {
		delete(m, seq)
	}
}

// Dispatch decodes a raw frame and invokes every subscriber of its type.
// Malformed frames and validation failures are dropped and logged.
func (b *Bus) Dispatch(frame []byte, meta Meta) {
	p, err := Decode(b.registry, frame)
	if err != nil {
		b.logger.Warn().Err(err).
			Str("sender", meta.Sender.String()).
			Msg("Dropping malformed packet")
		return
	}
	b.DispatchPacket(p, meta)
}

// DispatchPacket fans out an already-decoded packet.
func (b *Bus) DispatchPacket(p Packet, meta Meta) {
	id := TypeID(p.PacketName())

	b.mu.RLock()
	subs := make([]Handler, 0, len(b.handlers[id]))
	for _, h := range b.handlers[id] {
		subs = append(subs, h)
	}
	b.mu.RUnlock()

	for _, h := range subs {
		h(p, meta)
	}
}

// Subscribe registers a typed handler; packets of other concrete types on
// the same id are ignored.
func Subscribe[T Packet](b *Bus, h func(T, Meta)) Subscription {
	var zero T
	return b.SubscribeName(zero.PacketName(), func(p Packet, meta Meta) {
		if tp, ok := p.(T); ok {
			h(tp, meta)
		}
	})
}
