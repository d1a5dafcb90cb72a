package engine

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sirosfoundation/go-appserver/pkg/crypt"
	"github.com/sirosfoundation/go-appserver/pkg/wire"
)

// Client is one peer connection. It may be held by a master (accepted) or a
// slave (dialed); the behaviour is the same on both sides.
type Client struct {
	ID        uuid.UUID
	CreatedAt time.Time

	server *Server
	logger *zap.Logger
	kind   Kind

	src    source
	dst    sink
	ws     *wsTransport
	closer io.Closer
	addr   func() string
	dgram  atomic.Pointer[datagramConn]
	route  string

	outStream   queue[string]
	outDatagram queue[string]

	decoder  wire.Decoder
	cipherMu sync.RWMutex
	cipher   crypt.Pair
	packets  crypt.Factory
	limiter  *rate.Limiter

	values    sync.Map
	closed    atomic.Bool
	closeOnce sync.Once
}

// ClientOption adjusts a connection before it is announced to services.
type ClientOption func(*Client)

// WithValue stores a per-connection value visible to connect hooks.
func WithValue(key string, v any) ClientOption {
	return func(c *Client) {
		c.values.Store(key, v)
	}
}

type remoteAddresser interface {
	remoteAddr() string
}

func (s *Server) newClient(kind Kind, src source, dst sink, closer io.Closer, opts ...ClientOption) *Client {
	id := uuid.New()
	c := &Client{
		ID:        id,
		CreatedAt: time.Now(),
		server:    s,
		kind:      kind,
		src:       src,
		dst:       dst,
		closer:    closer,
		cipher:    crypt.Identity(),
		packets:   crypt.IdentityFactory,
		logger: s.logger.With(
			zap.String("conn_id", id.String()),
			zap.String("kind", string(kind)),
		),
	}
	if ra, ok := dst.(remoteAddresser); ok {
		c.addr = ra.remoteAddr
	}
	if s.cfg.FrameRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(s.cfg.FrameRate), max(s.cfg.FrameBurst, 1))
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Kind reports the transport driving the receive side.
func (c *Client) Kind() Kind { return c.kind }

func (c *Client) Server() *Server { return c.server }

func (c *Client) Closed() bool { return c.closed.Load() }

// RemoteAddr is the peer address; for slave datagram connections it follows
// the source of the latest packet.
func (c *Client) RemoteAddr() string {
	if c.addr == nil {
		return ""
	}
	return c.addr()
}

func (c *Client) Set(key string, v any) {
	c.values.Store(key, v)
}

func (c *Client) Get(key string) (any, bool) {
	return c.values.Load(key)
}

// GetString returns a string value, or "" when absent or not a string.
func (c *Client) GetString(key string) string {
	v, _ := c.values.Load(key)
	s, _ := v.(string)
	return s
}

// Send queues a call on the primary path.
func (c *Client) Send(service, method string, args ...any) error {
	return c.SendRaw(wire.Format(service, method, args...))
}

// SendDatagram queues a call on the attached datagram path, falling back
// to the primary path when none is attached.
func (c *Client) SendDatagram(service, method string, args ...any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.dgram.Load() == nil {
		c.outStream.Push(wire.Format(service, method, args...))
		return nil
	}
	c.outDatagram.Push(wire.Format(service, method, args...))
	return nil
}

// SendRaw queues an already formatted frame body.
func (c *Client) SendRaw(frame string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.outStream.Push(frame)
	return nil
}

// Poke queues an empty frame; the peer drops it on receipt.
func (c *Client) Poke() error {
	return c.SendRaw("")
}

// CallLocal dispatches a call on this process's server as if the peer had
// sent it over this connection.
func (c *Client) CallLocal(service, method string, args ...any) error {
	return c.server.CallLocal(c, service, method, args...)
}

// AttachDatagram opens a send-only UDP path to addr next to the primary
// transport. SendDatagram uses it afterwards.
func (c *Client) AttachDatagram(addr string) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("failed to open datagram socket: %w", err)
	}
	d := newDatagramConn(conn, raddr, c.server.cfg)
	if old := c.dgram.Swap(d); old != nil {
		_ = old.Close()
	}
	if c.closed.Load() {
		_ = d.Close()
		return ErrClosed
	}
	return nil
}

// SetCipher installs pairs from f after they pass crypt.SelfTest. On
// failure the current pair stays in place and false is returned. Stream
// paths keep one pair; datagrams are sealed one packet at a time so a lost
// packet does not desynchronize the rest.
func (c *Client) SetCipher(f crypt.Factory) bool {
	if err := crypt.SelfTest(f, nil); err != nil {
		c.logger.Warn("Rejected cipher pair", zap.Error(err))
		if c.server != nil {
			c.server.metrics.cipherRejected.Inc()
		}
		return false
	}
	p := f()
	c.cipherMu.Lock()
	c.cipher = p
	c.packets = f
	c.cipherMu.Unlock()
	c.logger.Debug("Installed cipher pair")
	return true
}

func (c *Client) encrypt(p []byte) []byte {
	c.cipherMu.RLock()
	defer c.cipherMu.RUnlock()
	return c.cipher.Encrypt(p)
}

func (c *Client) decrypt(p []byte) []byte {
	c.cipherMu.RLock()
	defer c.cipherMu.RUnlock()
	if c.kind == KindDatagram {
		return crypt.OpenPacket(c.packets, p)
	}
	return c.cipher.Decrypt(p)
}

func (c *Client) sealPacket(p []byte) []byte {
	c.cipherMu.RLock()
	defer c.cipherMu.RUnlock()
	return crypt.SealPacket(c.packets, p)
}

// sendPass writes every queued frame. It returns IOWouldBlock when there
// was nothing to send. Any write failure closes the connection.
func (c *Client) sendPass() IOResult {
	if c.closed.Load() {
		return IODisconnected
	}

	sent, res := c.flush(&c.outStream, c.dst, c.kind == KindDatagram)
	if res == IOOk {
		if d := c.dgram.Load(); d != nil {
			var n int
			n, res = c.flush(&c.outDatagram, d, true)
			sent += n
		}
	}
	if res != IOOk {
		c.Close()
		return res
	}
	if sent == 0 {
		return IOWouldBlock
	}
	return IOOk
}

func (c *Client) flush(q *queue[string], out sink, packet bool) (int, IOResult) {
	sent := 0
	for {
		frame, ok := q.Pop()
		if !ok {
			return sent, IOOk
		}
		p := make([]byte, 0, len(frame)+1)
		p = append(p, frame...)
		p = append(p, wire.Terminator)

		if packet {
			p = c.sealPacket(p)
		} else {
			p = c.encrypt(p)
		}
		res, err := out.write(p)
		if res != IOOk {
			c.logger.Debug("Send failed, closing connection",
				zap.String("result", res.String()),
				zap.Error(err))
			return sent, res
		}
		sent++
		c.server.metrics.framesSent.Inc()
	}
}

// recvPass reads whatever is available and queues the decoded calls.
func (c *Client) recvPass() IOResult {
	if c.closed.Load() {
		return IODisconnected
	}
	if c.src == nil {
		return IOWouldBlock
	}

	data, res, err := c.src.read()
	switch res {
	case IOOk:
		c.ingest(data)
	case IOWouldBlock:
	case IODisconnected:
		c.logger.Debug("Peer disconnected", zap.Error(err))
		c.Close()
	default:
		c.logger.Warn("Receive failed, closing connection", zap.Error(err))
		c.Close()
	}
	return res
}

func (c *Client) ingest(data []byte) {
	frames := c.decoder.Feed(c.decrypt(data))
	if c.kind == KindDatagram && c.decoder.Buffered() > 0 {
		// Packets are self-contained; a torn frame never continues.
		c.server.metrics.framesDropped.WithLabelValues(dropProtocol).Inc()
		c.decoder.Reset()
	}
	for _, raw := range frames {
		c.server.metrics.framesReceived.Inc()

		if c.limiter != nil && !c.limiter.Allow() {
			c.server.metrics.framesDropped.WithLabelValues(dropRateLimit).Inc()
			c.logger.Warn("Frame rate exceeded, dropping frame")
			continue
		}

		msg, err := NewRPCMessage(raw, c)
		if err != nil {
			c.server.metrics.framesDropped.WithLabelValues(dropProtocol).Inc()
			c.logger.Warn("Dropping malformed frame", zap.Error(err))
			continue
		}
		c.server.enqueue(msg)
	}
}

func (c *Client) readWebSocket() {
	for {
		_, data, err := c.ws.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			c.Close()
			return
		}
		c.ingest(data)
	}
}

// Close tears the connection down. Only the first call has any effect;
// disconnect hooks fire once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.server.detach(c)
		if c.closer != nil {
			if err := c.closer.Close(); err != nil {
				c.logger.Debug("Transport close failed", zap.Error(err))
			}
		}
		if d := c.dgram.Load(); d != nil {
			_ = d.Close()
		}
		c.logger.Debug("Connection closed")
	})
}
