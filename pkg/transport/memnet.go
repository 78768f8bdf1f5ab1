package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/log"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/packet"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

// LatencyFunc injects one-way delivery delay for a (src, dst, packet) edge.
// Nil or zero means immediate delivery. The packet is the live value being
// sent; injectors must not mutate it.
type LatencyFunc func(src, dst types.NetworkIdentity, p packet.Packet) time.Duration

// MemNetwork is an in-process network of MemTransports. Tests register one
// transport per simulated shard; delivery is reliable and per-sender
// ordered, with injectable latency for failure scenarios.
type MemNetwork struct {
	mu      sync.RWMutex
	peers   map[types.NetworkIdentity]*MemTransport
	latency LatencyFunc
}

// NewMemNetwork creates an empty network.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{peers: make(map[types.NetworkIdentity]*MemTransport)}
}

// SetLatency installs a latency injector.
func (n *MemNetwork) SetLatency(fn LatencyFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latency = fn
}

func (n *MemNetwork) delay(src, dst types.NetworkIdentity, p packet.Packet) time.Duration {
	n.mu.RLock()
	fn := n.latency
	n.mu.RUnlock()
	if fn == nil {
		return 0
	}
	return fn(src, dst, p)
}

func (n *MemNetwork) lookup(id types.NetworkIdentity) *MemTransport {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[id]
}

// Register creates and attaches a transport for self.
func (n *MemNetwork) Register(self types.NetworkIdentity, callbacks Callbacks) *MemTransport {
	t := &MemTransport{
		network:   n,
		self:      self,
		bus:       packet.NewBus(packet.Default),
		callbacks: callbacks,
		logger:    log.WithComponent("memnet").With().Str("identity", self.String()).Logger(),
		inbox:     make(chan memFrame, 4096),
		links:     make(map[types.NetworkIdentity]*memLink),
		stats:     make(map[types.NetworkIdentity]*linkStats),
		done:      make(chan struct{}),
	}
	go t.dispatchLoop()

	n.mu.Lock()
	n.peers[self] = t
	n.mu.Unlock()
	return t
}

type memFrame struct {
	from types.NetworkIdentity
	data []byte
}

type linkStats struct {
	outPackets uint64
	outBytes   uint64
	inPackets  uint64
	inBytes    uint64
}

// memLink is one ordered src→dst pipe. A dedicated goroutine applies the
// injected latency per message while preserving order. Links are torn down
// through the done channel so a concurrent Send never hits a closed queue.
type memLink struct {
	queue chan queuedFrame
	done  chan struct{}
}

type queuedFrame struct {
	frame memFrame
	delay time.Duration
}

// MemTransport is the in-process Transport implementation.
type MemTransport struct {
	network   *MemNetwork
	self      types.NetworkIdentity
	bus       *packet.Bus
	callbacks Callbacks
	logger    zerolog.Logger

	inbox chan memFrame
	done  chan struct{}

	mu        sync.Mutex
	links     map[types.NetworkIdentity]*memLink
	stats     map[types.NetworkIdentity]*linkStats
	closeOnce sync.Once
}

func (t *MemTransport) Self() types.NetworkIdentity {
	return t.self
}

func (t *MemTransport) Bus() *packet.Bus {
	return t.bus
}

func (t *MemTransport) dispatchLoop() {
	for {
		select {
		case f := <-t.inbox:
			t.mu.Lock()
			st := t.statsFor(f.from)
			st.inPackets++
			st.inBytes += uint64(len(f.data))
			t.mu.Unlock()
			t.bus.Dispatch(f.data, packet.Meta{Sender: f.from})
		case <-t.done:
			return
		}
	}
}

// statsFor returns the stats row for peer. Callers hold t.mu.
func (t *MemTransport) statsFor(peer types.NetworkIdentity) *linkStats {
	st, ok := t.stats[peer]
	if !ok {
		st = &linkStats{}
		t.stats[peer] = st
	}
	return st
}

func (t *MemTransport) EstablishConnectionTo(_ context.Context, peer types.NetworkIdentity) error {
	if t.network.lookup(peer) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	if t.callbacks.OnConnected != nil {
		t.callbacks.OnConnected(peer)
	}
	return nil
}

func (t *MemTransport) CloseConnectionTo(peer types.NetworkIdentity, code int, reason string) {
	t.mu.Lock()
	link := t.links[peer]
	delete(t.links, peer)
	t.mu.Unlock()
	if link != nil {
		close(link.done)
	}
	t.logger.Debug().
		Str("peer", peer.String()).
		Int("code", code).
		Str("reason", reason).
		Msg("Closed connection")
	if t.callbacks.OnDisconnected != nil {
		t.callbacks.OnDisconnected(peer)
	}
}

func (t *MemTransport) linkTo(peer types.NetworkIdentity) *memLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	link, ok := t.links[peer]
	if ok {
		return link
	}
	link = &memLink{queue: make(chan queuedFrame, 4096), done: make(chan struct{})}
	t.links[peer] = link
	go t.runLink(peer, link)
	return link
}

func (t *MemTransport) runLink(peer types.NetworkIdentity, link *memLink) {
	for {
		select {
		case qf := <-link.queue:
			if qf.delay > 0 {
				time.Sleep(qf.delay)
			}
			dst := t.network.lookup(peer)
			if dst == nil {
				continue
			}
			select {
			case dst.inbox <- qf.frame:
			case <-dst.done:
			}
		case <-link.done:
			return
		}
	}
}

func (t *MemTransport) Send(peer types.NetworkIdentity, p packet.Packet, flag SendFlag) error {
	if t.network.lookup(peer) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	data := packet.Encode(p)
	qf := queuedFrame{
		frame: memFrame{from: t.self, data: data},
		delay: t.network.delay(t.self, peer, p),
	}
	link := t.linkTo(peer)

	if flag == Unreliable {
		select {
		case link.queue <- qf:
		default:
			return nil
		}
	} else {
		select {
		case link.queue <- qf:
		case <-link.done:
			return fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
		}
	}

	t.mu.Lock()
	st := t.statsFor(peer)
	st.outPackets++
	st.outBytes += uint64(len(data))
	t.mu.Unlock()
	return nil
}

func (t *MemTransport) ConnectionTelemetry() []types.ConnectionTelemetry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.ConnectionTelemetry, 0, len(t.stats))
	for peer, st := range t.stats {
		out = append(out, types.ConnectionTelemetry{
			IdentityID:      t.self.String(),
			TargetID:        peer.String(),
			PingMs:          0,
			OutBytesPerSec:  float32(st.outBytes),
			InBytesPerSec:   float32(st.inBytes),
			InPacketsPerSec: float32(st.inPackets),
			QualityLocal:    1,
			QualityRemote:   1,
			State:           1,
		})
	}
	return out
}

func (t *MemTransport) Close() error {
	t.closeOnce.Do(func() {
		t.network.mu.Lock()
		delete(t.network.peers, t.self)
		t.network.mu.Unlock()

		t.mu.Lock()
		for peer, link := range t.links {
			close(link.done)
			delete(t.links, peer)
		}
		t.mu.Unlock()
		close(t.done)
	})
	return nil
}
