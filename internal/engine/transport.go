package engine

import (
	"bufio"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Kind names the transport that drives a connection's receive side.
type Kind string

const (
	KindStream    Kind = "stream"
	KindDatagram  Kind = "datagram"
	KindWebSocket Kind = "websocket"
	KindCustom    Kind = "custom"
)

// TransportImpl selects how stream sockets are read.
type TransportImpl string

const (
	// ImplSocket reads the raw connection behind a short deadline.
	ImplSocket TransportImpl = "socket"
	// ImplStream reads through a buffered reader and peeks for data.
	ImplStream TransportImpl = "stream"
)

const (
	readBufferSize   = 64 * 1024
	maxDatagramSize  = 64 * 1024
	datagramInbox    = 256
	maxWebSocketRead = 4 * 1024 * 1024
)

// source is the receive side of a transport. read never blocks longer than
// the configured poll timeout; IOWouldBlock means nothing was pending.
type source interface {
	read() ([]byte, IOResult, error)
}

type sink interface {
	write(p []byte) (IOResult, error)
}

// writeResult folds every write failure into a connection-ending outcome.
func writeResult(err error) (IOResult, error) {
	if err == nil {
		return IOOk, nil
	}
	res := classify(err)
	if res == IOWouldBlock {
		res = IODisconnected
	}
	return res, err
}

// socketTransport is a raw net.Conn polled with a read deadline.
type socketTransport struct {
	conn         net.Conn
	pollTimeout  time.Duration
	writeTimeout time.Duration
	buf          []byte
}

func newSocketTransport(conn net.Conn, cfg Config) *socketTransport {
	return &socketTransport{
		conn:         conn,
		pollTimeout:  cfg.PollTimeout,
		writeTimeout: cfg.WriteTimeout,
		buf:          make([]byte, readBufferSize),
	}
}

func (t *socketTransport) read() ([]byte, IOResult, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.pollTimeout)); err != nil {
		return nil, classify(err), err
	}
	n, err := t.conn.Read(t.buf)
	if n > 0 {
		return t.buf[:n], IOOk, nil
	}
	if err == nil {
		return nil, IOWouldBlock, nil
	}
	return nil, classify(err), err
}

func (t *socketTransport) write(p []byte) (IOResult, error) {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return writeResult(err)
		}
	}
	_, err := t.conn.Write(p)
	return writeResult(err)
}

func (t *socketTransport) Close() error {
	return t.conn.Close()
}

func (t *socketTransport) remoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// bufferedTransport wraps the socket in a bufio.Reader and probes with Peek.
type bufferedTransport struct {
	*socketTransport
	r *bufio.Reader
}

func newBufferedTransport(conn net.Conn, cfg Config) *bufferedTransport {
	return &bufferedTransport{
		socketTransport: newSocketTransport(conn, cfg),
		r:               bufio.NewReaderSize(conn, readBufferSize),
	}
}

func (t *bufferedTransport) read() ([]byte, IOResult, error) {
	if t.r.Buffered() == 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(t.pollTimeout)); err != nil {
			return nil, classify(err), err
		}
		if _, err := t.r.Peek(1); err != nil {
			return nil, classify(err), err
		}
	}
	n, err := t.r.Read(t.buf[:t.r.Buffered()])
	if n > 0 {
		return t.buf[:n], IOOk, nil
	}
	return nil, classify(err), err
}

// datagramPeer is one remote address on the master's shared UDP socket.
// The server's UDP reader pushes packets into inbox.
type datagramPeer struct {
	conn        *net.UDPConn
	remote      *net.UDPAddr
	inbox       chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	lastSeen    atomic.Int64
	idleTimeout time.Duration
}

func newDatagramPeer(conn *net.UDPConn, remote *net.UDPAddr, cfg Config) *datagramPeer {
	p := &datagramPeer{
		conn:        conn,
		remote:      remote,
		inbox:       make(chan []byte, datagramInbox),
		done:        make(chan struct{}),
		idleTimeout: cfg.DatagramIdleTimeout,
	}
	p.lastSeen.Store(time.Now().UnixNano())
	return p
}

// deliver queues a packet; it reports false when the inbox is full.
func (p *datagramPeer) deliver(packet []byte) bool {
	p.lastSeen.Store(time.Now().UnixNano())
	select {
	case p.inbox <- packet:
		return true
	default:
		return false
	}
}

func (p *datagramPeer) read() ([]byte, IOResult, error) {
	select {
	case packet := <-p.inbox:
		return packet, IOOk, nil
	case <-p.done:
		return nil, IODisconnected, ErrClosed
	default:
	}
	if p.idleTimeout > 0 && time.Since(time.Unix(0, p.lastSeen.Load())) > p.idleTimeout {
		return nil, IODisconnected, errDatagramIdle
	}
	return nil, IOWouldBlock, nil
}

func (p *datagramPeer) write(packet []byte) (IOResult, error) {
	_, err := p.conn.WriteToUDP(packet, p.remote)
	return writeResult(err)
}

func (p *datagramPeer) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

func (p *datagramPeer) remoteAddr() string {
	return p.remote.String()
}

// datagramConn owns a UDP socket and replies to whichever address sent the
// most recent packet.
type datagramConn struct {
	conn         *net.UDPConn
	remote       atomic.Pointer[net.UDPAddr]
	pollTimeout  time.Duration
	writeTimeout time.Duration
	buf          []byte
}

func newDatagramConn(conn *net.UDPConn, remote *net.UDPAddr, cfg Config) *datagramConn {
	d := &datagramConn{
		conn:         conn,
		pollTimeout:  cfg.PollTimeout,
		writeTimeout: cfg.WriteTimeout,
		buf:          make([]byte, maxDatagramSize),
	}
	d.remote.Store(remote)
	return d
}

func (d *datagramConn) read() ([]byte, IOResult, error) {
	if err := d.conn.SetReadDeadline(time.Now().Add(d.pollTimeout)); err != nil {
		return nil, classify(err), err
	}
	n, addr, err := d.conn.ReadFromUDP(d.buf)
	if err != nil {
		return nil, classify(err), err
	}
	if addr != nil {
		d.remote.Store(addr)
	}
	if n == 0 {
		return nil, IOWouldBlock, nil
	}
	return d.buf[:n], IOOk, nil
}

func (d *datagramConn) write(p []byte) (IOResult, error) {
	if d.writeTimeout > 0 {
		if err := d.conn.SetWriteDeadline(time.Now().Add(d.writeTimeout)); err != nil {
			return writeResult(err)
		}
	}
	_, err := d.conn.WriteToUDP(p, d.remote.Load())
	return writeResult(err)
}

func (d *datagramConn) Close() error {
	return d.conn.Close()
}

func (d *datagramConn) remoteAddr() string {
	return d.remote.Load().String()
}

// wsTransport serializes writes through one goroutine so frames are never
// interleaved and the send poller never waits on the network.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	pending    queue[[]byte]
	wake       chan struct{}
	done       chan struct{}
	writerDone chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once

	errMu sync.Mutex
	err   error
}

func newWSTransport(conn *websocket.Conn, cfg Config) *wsTransport {
	t := &wsTransport{
		conn:         conn,
		writeTimeout: cfg.WriteTimeout,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		writerDone:   make(chan struct{}),
		closed:       make(chan struct{}),
	}
	conn.SetReadLimit(maxWebSocketRead)
	go t.writeLoop()
	return t
}

func (t *wsTransport) write(p []byte) (IOResult, error) {
	if err := t.failure(); err != nil {
		return writeResult(err)
	}
	select {
	case <-t.done:
		return IODisconnected, ErrClosed
	default:
	}
	t.pending.Push(p)
	select {
	case t.wake <- struct{}{}:
	default:
	}
	return IOOk, nil
}

func (t *wsTransport) writeLoop() {
	defer close(t.writerDone)
	for {
		select {
		case <-t.wake:
			if !t.flush() {
				return
			}
		case <-t.done:
			t.flush()
			return
		}
	}
}

func (t *wsTransport) flush() bool {
	for {
		p, ok := t.pending.Pop()
		if !ok {
			return true
		}
		if t.writeTimeout > 0 {
			_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
		}
		if err := t.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
			t.errMu.Lock()
			t.err = err
			t.errMu.Unlock()
			return false
		}
	}
}

func (t *wsTransport) failure() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// Close stops accepting frames and returns at once; it runs on the tick
// goroutine when a handler drops a peer. The writer gets up to the write
// timeout to drain what is queued before the socket is closed.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		go t.shutdown()
	})
	return nil
}

func (t *wsTransport) shutdown() {
	defer close(t.closed)
	wait := t.writeTimeout
	if wait <= 0 {
		wait = time.Second
	}
	select {
	case <-t.writerDone:
	case <-time.After(wait):
	}
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = t.conn.Close()
}

func (t *wsTransport) remoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// Custom plugs arbitrary byte movers in as a transport. Source returning
// (nil, nil) means no data is pending. Close is optional.
type Custom struct {
	Source func() ([]byte, error)
	Sink   func([]byte) error
	Close  func() error
}

type customTransport struct {
	c Custom
}

func (t customTransport) read() ([]byte, IOResult, error) {
	p, err := t.c.Source()
	if err != nil {
		return nil, classify(err), err
	}
	if len(p) == 0 {
		return nil, IOWouldBlock, nil
	}
	return p, IOOk, nil
}

func (t customTransport) write(p []byte) (IOResult, error) {
	return writeResult(t.c.Sink(p))
}

func (t customTransport) Close() error {
	if t.c.Close == nil {
		return nil
	}
	return t.c.Close()
}

func (t customTransport) remoteAddr() string {
	return "custom"
}

// NewPipe returns two connected in-memory Custom transports. Closing either
// end closes both; reads then report io.EOF once drained.
func NewPipe() (Custom, Custom) {
	var closed atomic.Bool
	ab, ba := &queue[[]byte]{}, &queue[[]byte]{}
	end := func(in, out *queue[[]byte]) Custom {
		return Custom{
			Source: func() ([]byte, error) {
				if p, ok := in.Pop(); ok {
					return p, nil
				}
				if closed.Load() {
					return nil, io.EOF
				}
				return nil, nil
			},
			Sink: func(p []byte) error {
				if closed.Load() {
					return io.ErrClosedPipe
				}
				out.Push(append([]byte(nil), p...))
				return nil
			},
			Close: func() error {
				closed.Store(true)
				return nil
			},
		}
	}
	return end(ba, ab), end(ab, ba)
}
