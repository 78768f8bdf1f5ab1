package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/log"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/packet"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/registry"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

const (
	identityHeader = "X-Atlas-Identity"
	interlinkPath  = "/interlink"

	batchFlushInterval = 10 * time.Millisecond
	writeDeadline      = 5 * time.Second
	pingInterval       = 10 * time.Second
)

// WSTransport carries the packet wire format over websocket connections.
// Each frame is one binary websocket message: type_id (u32 LE) || body; the
// websocket layer supplies length framing and ordering, TCP supplies
// reliability.
//
// On connect the initiator presents its identity as the "<role> <uuid>"
// string in a header; the acceptor refuses identities absent from the
// ServerRegistry.
type WSTransport struct {
	self      types.NetworkIdentity
	bus       *packet.Bus
	reg       *registry.ServerRegistry
	callbacks Callbacks
	logger    zerolog.Logger

	server   *http.Server
	listener net.Listener

	mu    sync.Mutex
	conns map[types.NetworkIdentity]*wsConn
}

type wsConn struct {
	peer types.NetworkIdentity
	ws   *websocket.Conn

	writeMu sync.Mutex
	batch   [][]byte

	outPackets uint64
	outBytes   uint64
	inPackets  uint64
	inBytes    uint64
	lastRTT    time.Duration
	lastPingAt time.Time

	closed chan struct{}
	once   sync.Once
}

// NewWSTransport creates a transport listening on addr (":0" picks a free
// port; Addr reports the bound address).
func NewWSTransport(self types.NetworkIdentity, addr string, reg *registry.ServerRegistry, callbacks Callbacks) (*WSTransport, error) {
	t := &WSTransport{
		self:      self,
		bus:       packet.NewBus(packet.Default),
		reg:       reg,
		callbacks: callbacks,
		logger:    log.WithComponent("wsnet").With().Str("identity", self.String()).Logger(),
		conns:     make(map[types.NetworkIdentity]*wsConn),
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport listen: %w", err)
	}
	t.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(interlinkPath, t.handleAccept)
	t.server = &http.Server{Handler: mux}
	go func() {
		if err := t.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			t.logger.Error().Err(err).Msg("Transport server stopped")
		}
	}()
	return t, nil
}

// Addr returns the bound listen address, suitable for ServerRegistry
// registration.
func (t *WSTransport) Addr() string {
	return t.listener.Addr().String()
}

func (t *WSTransport) Self() types.NetworkIdentity {
	return t.self
}

func (t *WSTransport) Bus() *packet.Bus {
	return t.bus
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
}

func (t *WSTransport) handleAccept(w http.ResponseWriter, r *http.Request) {
	presented := r.Header.Get(identityHeader)
	peer, err := types.ParseIdentity(presented)
	if err != nil {
		http.Error(w, "malformed identity", http.StatusBadRequest)
		return
	}
	// Identity must be present in the registry before we accept.
	if _, ok, err := t.reg.Lookup(r.Context(), peer); err != nil || !ok {
		t.logger.Warn().Str("peer", presented).Msg("Rejecting unregistered peer")
		http.Error(w, "unknown identity", http.StatusForbidden)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	t.adopt(peer, ws)
}

// adopt installs a live websocket for peer and starts its read pump.
func (t *WSTransport) adopt(peer types.NetworkIdentity, ws *websocket.Conn) *wsConn {
	c := &wsConn{peer: peer, ws: ws, closed: make(chan struct{})}

	t.mu.Lock()
	if prev, ok := t.conns[peer]; ok {
		prev.close()
	}
	t.conns[peer] = c
	t.mu.Unlock()

	ws.SetPongHandler(func(string) error {
		c.writeMu.Lock()
		if !c.lastPingAt.IsZero() {
			c.lastRTT = time.Since(c.lastPingAt)
		}
		c.writeMu.Unlock()
		return nil
	})

	go t.readPump(c)
	go t.flushLoop(c)

	if t.callbacks.OnConnected != nil {
		t.callbacks.OnConnected(peer)
	}
	return c
}

func (t *WSTransport) readPump(c *wsConn) {
	defer t.drop(c, "read pump exit")
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		c.writeMu.Lock()
		c.inPackets++
		c.inBytes += uint64(len(data))
		c.writeMu.Unlock()
		t.bus.Dispatch(data, packet.Meta{Sender: c.peer})
	}
}

// flushLoop drains the batched queue and keeps the link's RTT probe warm.
func (t *WSTransport) flushLoop(c *wsConn) {
	flush := time.NewTicker(batchFlushInterval)
	ping := time.NewTicker(pingInterval)
	defer flush.Stop()
	defer ping.Stop()
	for {
		select {
		case <-flush.C:
			c.writeMu.Lock()
			pendingBatch := c.batch
			c.batch = nil
			for _, data := range pendingBatch {
				_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
					c.writeMu.Unlock()
					t.drop(c, "batched write failed")
					return
				}
			}
			c.writeMu.Unlock()
		case <-ping.C:
			c.writeMu.Lock()
			c.lastPingAt = time.Now()
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			_ = c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
		case <-c.closed:
			return
		}
	}
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

func (t *WSTransport) drop(c *wsConn, reason string) {
	c.close()
	t.mu.Lock()
	if t.conns[c.peer] == c {
		delete(t.conns, c.peer)
	}
	t.mu.Unlock()
	t.logger.Debug().Str("peer", c.peer.String()).Str("reason", reason).Msg("Connection dropped")
	if t.callbacks.OnDisconnected != nil {
		t.callbacks.OnDisconnected(c.peer)
	}
}

func (t *WSTransport) EstablishConnectionTo(ctx context.Context, peer types.NetworkIdentity) error {
	t.mu.Lock()
	_, ok := t.conns[peer]
	t.mu.Unlock()
	if ok {
		return nil
	}

	addr, ok, err := t.reg.Lookup(ctx, peer)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", peer, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}

	header := http.Header{}
	header.Set(identityHeader, t.self.String())
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	ws, _, err := dialer.DialContext(ctx, "ws://"+addr+interlinkPath, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", peer, err)
	}
	t.adopt(peer, ws)
	return nil
}

func (t *WSTransport) CloseConnectionTo(peer types.NetworkIdentity, code int, reason string) {
	t.mu.Lock()
	c := t.conns[peer]
	t.mu.Unlock()
	if c == nil {
		return
	}
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	t.drop(c, reason)
}

func (t *WSTransport) Send(peer types.NetworkIdentity, p packet.Packet, flag SendFlag) error {
	t.mu.Lock()
	c := t.conns[peer]
	t.mu.Unlock()
	if c == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}

	data := packet.Encode(p)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.outPackets++
	c.outBytes += uint64(len(data))

	switch flag {
	case ReliableBatched:
		c.batch = append(c.batch, data)
		return nil
	case Unreliable:
		_ = c.ws.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
		_ = c.ws.WriteMessage(websocket.BinaryMessage, data)
		return nil
	default:
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return fmt.Errorf("send to %s: %w", peer, err)
		}
		return nil
	}
}

func (t *WSTransport) ConnectionTelemetry() []types.ConnectionTelemetry {
	t.mu.Lock()
	conns := make([]*wsConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	out := make([]types.ConnectionTelemetry, 0, len(conns))
	for _, c := range conns {
		c.writeMu.Lock()
		out = append(out, types.ConnectionTelemetry{
			IdentityID:      t.self.String(),
			TargetID:        c.peer.String(),
			PingMs:          int32(c.lastRTT.Milliseconds()),
			OutBytesPerSec:  float32(c.outBytes),
			InBytesPerSec:   float32(c.inBytes),
			InPacketsPerSec: float32(c.inPackets),
			QualityLocal:    1,
			QualityRemote:   1,
			State:           1,
		})
		c.writeMu.Unlock()
	}
	return out
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	for peer, c := range t.conns {
		c.close()
		delete(t.conns, peer)
	}
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return t.server.Shutdown(ctx)
}
