package packet

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/codec"
)

// Packet is a typed message body. Implementations are pointer types
// registered once at process start; the dispatcher constructs them from the
// wire by type id.
type Packet interface {
	// PacketName is the stable name the type id is derived from. It must be
	// identical across every process in the cluster.
	PacketName() string
	Serialize(w *codec.Writer)
	Deserialize(r *codec.Reader) error
	// Validate is checked after Deserialize and before delivery; false drops
	// the message.
	Validate() bool
}

// TypeID derives the wire type id of a packet name (FNV-1a 32).
func TypeID(name string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return h.Sum32()
}

// Registry maps packet type ids to factories. A single process-wide
// registry is populated at init; extension packets register through the
// same table.
type Registry struct {
	mu        sync.RWMutex
	factories map[uint32]func() Packet
	names     map[uint32]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[uint32]func() Packet),
		names:     make(map[uint32]string),
	}
}

// Register adds a packet factory, keyed by the type id of the prototype's
// name. Registering two packets with colliding ids is a programmer error.
func (r *Registry) Register(factory func() Packet) {
	proto := factory()
	name := proto.PacketName()
	id := TypeID(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.names[id]; ok && existing != name {
		panic(fmt.Sprintf("packet: type id collision between %q and %q", existing, name))
	}
	r.factories[id] = factory
	r.names[id] = name
}

// Lookup returns the factory for a type id.
func (r *Registry) Lookup(id uint32) (func() Packet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[id]
	return f, ok
}

// Name returns the registered name for a type id.
func (r *Registry) Name(id uint32) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names[id]
}

// Default is the process-wide registry. All built-in packets register here
// at init.
var Default = NewRegistry()

// Encode frames a packet for the transport: type_id (u32 little-endian)
// followed by the body bytes. The transport adds its own length framing.
func Encode(p Packet) []byte {
	w := codec.NewWriter()
	w.U32(TypeID(p.PacketName()))
	p.Serialize(w)
	return w.Bytes()
}

// Decode parses a frame produced by Encode using the given registry. It
// returns an error for unknown types, malformed bodies, and packets whose
// Validate rejects them.
func Decode(reg *Registry, frame []byte) (Packet, error) {
	r := codec.NewReader(frame)
	id := r.U32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	factory, ok := reg.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("packet: unknown type id 0x%08x", id)
	}
	p := factory()
	if err := p.Deserialize(r); err != nil {
		return nil, fmt.Errorf("packet %s: %w", p.PacketName(), err)
	}
	if !p.Validate() {
		return nil, fmt.Errorf("packet %s: validation rejected", p.PacketName())
	}
	return p, nil
}
