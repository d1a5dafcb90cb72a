// Package engine hosts services behind a framed RPC protocol carried over
// TCP, UDP, WebSocket or custom transports. The same Server runs as a
// listening master or, with a negative port, as an embedded slave that
// dials out to a master.
package engine

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-appserver/pkg/crypt"
)

// builtinService is reserved for frames the server handles itself.
const builtinService = "Server"

// Config controls a Server.
type Config struct {
	Host string
	// Port < 0 runs without a listener (slave). Port 0 picks a free port.
	Port     int
	TickRate int
	Impl     TransportImpl
	// UDP also listens for datagrams on the same port.
	UDP bool

	PollTimeout         time.Duration
	WriteTimeout        time.Duration
	DatagramIdleTimeout time.Duration

	// FrameRate limits decoded frames per second per connection; 0 disables.
	FrameRate  float64
	FrameBurst int

	// Cipher, when set, is installed on every new connection.
	Cipher crypt.Factory
}

// DefaultConfig returns a master configuration on port 7777 at 30 ticks/s.
func DefaultConfig() Config {
	return Config{
		Host:                "0.0.0.0",
		Port:                7777,
		TickRate:            30,
		Impl:                ImplSocket,
		PollTimeout:         time.Millisecond,
		WriteTimeout:        5 * time.Second,
		DatagramIdleTimeout: 30 * time.Second,
	}
}

// Slave reports whether the configuration has no listener.
func (c Config) Slave() bool { return c.Port < 0 }

// TickInterval is the fixed interval between OnTick calls.
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

func (c Config) validate() error {
	if c.TickRate <= 0 {
		return fmt.Errorf("%w: tick rate must be positive, got %d", ErrInvalidConfig, c.TickRate)
	}
	if c.Impl != ImplSocket && c.Impl != ImplStream {
		return fmt.Errorf("%w: unknown transport impl %q", ErrInvalidConfig, c.Impl)
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("%w: poll timeout must be positive", ErrInvalidConfig)
	}
	if c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// Server owns connections, services and the loops that drive them.
type Server struct {
	cfg      Config
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics
	upgrader websocket.Upgrader

	lifecycleMu sync.Mutex
	running     atomic.Bool
	started     atomic.Bool
	stopped     atomic.Bool
	wg          sync.WaitGroup

	listener net.Listener
	udp      *net.UDPConn
	routesMu sync.Mutex
	routes   map[string]*Client

	clientsMu sync.RWMutex
	clients   map[uuid.UUID]*Client

	servicesMu sync.RWMutex
	services   []Service
	byType     map[reflect.Type]Service
	byName     map[string]Service

	cache sync.Map // rpc name -> Handler

	inbound      queue[*RPCMessage]
	deferred     queue[func()]
	sendRotation queue[*Client]
	recvRotation queue[*Client]
	wake         chan struct{}
	lastTick     time.Time
}

// NewServer validates cfg and builds a stopped server.
func NewServer(cfg Config, logger *zap.Logger) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		interval: cfg.TickInterval(),
		logger:   logger.Named("engine"),
		metrics:  newMetrics(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		routes:  make(map[string]*Client),
		clients: make(map[uuid.UUID]*Client),
		byType:  make(map[reflect.Type]Service),
		byName:  make(map[string]Service),
		wake:    make(chan struct{}, 1),
	}
	s.cache.Store(rpcName(builtinService, "Closing"), Handler(s.handleClosing))
	return s, nil
}

func (s *Server) Config() Config { return s.cfg }

// Metrics exposes the server's prometheus registry.
func (s *Server) Metrics() *prometheus.Registry { return s.metrics.registry }

func (s *Server) Running() bool { return s.running.Load() }

func (s *Server) Started() bool { return s.started.Load() }

// Addr is the stream listener address, or nil without a listener.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// UDPAddr is the datagram listener address, or nil when not listening.
func (s *Server) UDPAddr() net.Addr {
	if s.udp == nil {
		return nil
	}
	return s.udp.LocalAddr()
}

// Register enables svc and makes its handlers dispatchable. A second
// service with the same Go type or name is rejected before OnEnable runs.
// Services registered after Start never receive OnStart.
func (s *Server) Register(svc Service) error {
	if v := reflect.ValueOf(svc); !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
		return fmt.Errorf("%w: nil service", ErrInvalidConfig)
	}
	typ := reflect.TypeOf(svc)
	name := serviceName(svc)
	if name == "" || name == builtinService {
		return fmt.Errorf("%w: reserved or empty service name %q", ErrInvalidConfig, name)
	}

	s.servicesMu.Lock()
	if _, ok := s.byType[typ]; ok {
		s.servicesMu.Unlock()
		return fmt.Errorf("%w: type %s", ErrDuplicateService, typ)
	}
	if _, ok := s.byName[name]; ok {
		s.servicesMu.Unlock()
		return fmt.Errorf("%w: name %q", ErrDuplicateService, name)
	}
	s.byType[typ] = svc
	s.byName[name] = svc
	s.services = append(s.services, svc)
	s.servicesMu.Unlock()

	b := svc.base()
	b.bind(s, name)
	if err := safeCall(svc.OnEnable); err != nil {
		s.unregister(svc, name)
		return fmt.Errorf("failed to enable service %s: %w", name, err)
	}
	b.enabled.Store(true)

	for method, h := range b.handlerTable() {
		s.cache.Store(rpcName(name, method), h)
	}
	if s.started.Load() {
		b.started.Store(true)
	}

	s.logger.Info("Service registered", zap.String("service", name))
	return nil
}

// AddService instantiates T with its zero value and registers it.
func AddService[T any, P interface {
	*T
	Service
}](s *Server) (P, error) {
	svc := P(new(T))
	if err := s.Register(svc); err != nil {
		return nil, err
	}
	return svc, nil
}

// GetService returns the registered service of type P.
func GetService[P Service](s *Server) (P, bool) {
	s.servicesMu.RLock()
	defer s.servicesMu.RUnlock()
	svc, ok := s.byType[reflect.TypeFor[P]()]
	if !ok {
		var zero P
		return zero, false
	}
	return svc.(P), true
}

// Service looks a service up by its registered name.
func (s *Server) Service(name string) (Service, bool) {
	s.servicesMu.RLock()
	defer s.servicesMu.RUnlock()
	svc, ok := s.byName[name]
	return svc, ok
}

// Services lists services in registration order.
func (s *Server) Services() []Service {
	s.servicesMu.RLock()
	defer s.servicesMu.RUnlock()
	return slices.Clone(s.services)
}

// ServiceNames lists service names in registration order.
func (s *Server) ServiceNames() []string {
	svcs := s.Services()
	names := make([]string, len(svcs))
	for i, svc := range svcs {
		names[i] = svc.base().name
	}
	return names
}

// RemoveService unregisters the named service and runs its OnDisable.
func (s *Server) RemoveService(name string) error {
	svc, ok := s.Service(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrServiceNotFound, name)
	}
	s.unregister(svc, name)
	s.disable(svc)
	s.logger.Info("Service removed", zap.String("service", name))
	return nil
}

func (s *Server) unregister(svc Service, name string) {
	s.servicesMu.Lock()
	delete(s.byType, reflect.TypeOf(svc))
	delete(s.byName, name)
	s.services = slices.DeleteFunc(s.services, func(other Service) bool { return other == svc })
	s.servicesMu.Unlock()

	prefix := name + "."
	s.cache.Range(func(key, _ any) bool {
		if k := key.(string); len(k) > len(prefix) && k[:len(prefix)] == prefix {
			s.cache.Delete(key)
		}
		return true
	})
}

func (s *Server) disable(svc Service) {
	b := svc.base()
	if !b.enabled.Swap(false) {
		return
	}
	if err := safeCall(svc.OnDisable); err != nil {
		s.logger.Error("Service hook failed",
			zap.String("service", b.name),
			zap.String("hook", "OnDisable"),
			zap.Error(err))
	}
}

// Clients snapshots the connection directory.
func (s *Server) Clients() []*Client {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	out := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

// Client finds a connection by id.
func (s *Server) Client(id uuid.UUID) (*Client, bool) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	c, ok := s.clients[id]
	return c, ok
}

// AcceptStream adopts an established stream connection.
func (s *Server) AcceptStream(conn net.Conn, opts ...ClientOption) *Client {
	var c *Client
	if s.cfg.Impl == ImplStream {
		t := newBufferedTransport(conn, s.cfg)
		c = s.newClient(KindStream, t, t, t, opts...)
	} else {
		t := newSocketTransport(conn, s.cfg)
		c = s.newClient(KindStream, t, t, t, opts...)
	}
	s.attach(c)
	return c
}

// UpgradeWebSocket upgrades an HTTP request and adopts the connection.
func (s *Server) UpgradeWebSocket(w http.ResponseWriter, r *http.Request, opts ...ClientOption) (*Client, error) {
	if s.cfg.Slave() {
		return nil, ErrMasterOnly
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}
	return s.adoptWebSocket(conn, opts...), nil
}

func (s *Server) adoptWebSocket(conn *websocket.Conn, opts ...ClientOption) *Client {
	t := newWSTransport(conn, s.cfg)
	c := s.newClient(KindWebSocket, nil, t, t, opts...)
	c.ws = t
	s.attach(c)
	return c
}

// AttachCustom adopts a Custom transport.
func (s *Server) AttachCustom(custom Custom, opts ...ClientOption) *Client {
	t := customTransport{c: custom}
	c := s.newClient(KindCustom, t, t, t, opts...)
	s.attach(c)
	return c
}

// Dial connects a slave to a master over a stream or datagram transport.
func (s *Server) Dial(ctx context.Context, kind Kind, addr string, opts ...ClientOption) (*Client, error) {
	if !s.cfg.Slave() {
		return nil, ErrSlaveOnly
	}
	switch kind {
	case KindStream:
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
		}
		return s.AcceptStream(conn, opts...), nil
	case KindDatagram:
		raddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
		}
		conn, err := net.ListenUDP("udp", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open datagram socket: %w", err)
		}
		t := newDatagramConn(conn, raddr, s.cfg)
		c := s.newClient(KindDatagram, t, t, t, opts...)
		s.attach(c)
		return c, nil
	default:
		return nil, fmt.Errorf("%w: cannot dial %q", ErrInvalidConfig, kind)
	}
}

// DialWebSocket connects a slave to a master's websocket endpoint.
func (s *Server) DialWebSocket(ctx context.Context, url string, header http.Header, opts ...ClientOption) (*Client, error) {
	if !s.cfg.Slave() {
		return nil, ErrSlaveOnly
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return s.adoptWebSocket(conn, opts...), nil
}

// attach registers c and schedules the connect fan-out on the tick
// goroutine. The connection joins the poll rotations after its hooks ran.
func (s *Server) attach(c *Client) {
	s.clientsMu.Lock()
	s.clients[c.ID] = c
	s.clientsMu.Unlock()

	s.metrics.connectionsActive.Inc()
	s.metrics.connectionsTotal.WithLabelValues(string(c.kind)).Inc()
	c.logger.Info("Connection attached", zap.String("remote", c.RemoteAddr()))

	if s.cfg.Cipher != nil {
		c.SetCipher(s.cfg.Cipher)
	}

	s.DoLater(func() {
		s.fanOut("OnBeganConnected", func(svc Service) { svc.OnBeganConnected(c) })
		s.fanOut("OnConnected", func(svc Service) { svc.OnConnected(c) })
		if c.Closed() {
			return
		}
		s.sendRotation.Push(c)
		if c.src != nil {
			s.recvRotation.Push(c)
		}
		if c.ws != nil {
			go c.readWebSocket()
		}
	})
}

// detach removes c from the directory and fans out the disconnect hooks,
// on the tick goroutine while running, inline otherwise.
func (s *Server) detach(c *Client) {
	s.clientsMu.Lock()
	delete(s.clients, c.ID)
	s.clientsMu.Unlock()

	if c.route != "" {
		s.routesMu.Lock()
		if s.routes[c.route] == c {
			delete(s.routes, c.route)
		}
		s.routesMu.Unlock()
	}
	s.metrics.connectionsActive.Dec()

	hooks := func() {
		s.fanOut("OnDisconnected", func(svc Service) { svc.OnDisconnected(c) })
		s.fanOut("OnFinishedDisconnected", func(svc Service) { svc.OnFinishedDisconnected(c) })
	}
	if s.running.Load() {
		s.DoLater(hooks)
		return
	}
	hooks()
}

func (s *Server) fanOut(hook string, call func(Service)) {
	for _, svc := range s.Services() {
		err := safeCall(func() error {
			call(svc)
			return nil
		})
		if err != nil {
			s.logger.Error("Service hook failed",
				zap.String("service", svc.base().name),
				zap.String("hook", hook),
				zap.Error(err))
		}
	}
}
