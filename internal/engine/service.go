package engine

import (
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Handler serves one RPC method.
type Handler func(msg *RPCMessage) error

// Service is a unit of application logic hosted by a Server. Implementations
// embed BaseService and override the hooks they need. Hooks run on the
// server's tick goroutine, except OnEnable/OnDisable which run on the caller
// of Register/RemoveService/Stop.
type Service interface {
	OnEnable() error
	OnStart() error
	OnDisable() error
	OnTick(delta time.Duration)

	OnBeganConnected(c *Client)
	OnConnected(c *Client)
	OnDisconnected(c *Client)
	OnFinishedDisconnected(c *Client)

	DoOn(ev Event) bool

	base() *BaseService
}

// Named lets a service choose its wire name instead of its Go type name.
type Named interface {
	ServiceName() string
}

// BaseService carries the registration state and both dispatch tables.
type BaseService struct {
	server  *Server
	name    string
	logger  *zap.Logger
	enabled atomic.Bool
	started atomic.Bool

	mu       sync.RWMutex
	handlers map[string]Handler
	events   map[EventKind]EventHandler
	generic  EventHandler
	resolved map[EventKind]EventHandler
}

func (b *BaseService) base() *BaseService { return b }

func (b *BaseService) bind(s *Server, name string) {
	b.server = s
	b.name = name
	b.logger = s.logger.Named(name)
}

// Server returns the owning server, or nil before registration.
func (b *BaseService) Server() *Server { return b.server }

// Name is the registered service name.
func (b *BaseService) Name() string { return b.name }

func (b *BaseService) Enabled() bool { return b.enabled.Load() }

// Logger is named after the service once registered.
func (b *BaseService) Logger() *zap.Logger {
	if b.logger == nil {
		return zap.NewNop()
	}
	return b.logger
}

// Handle registers method as callable over the wire as "<Name>.<method>".
// Replacing a method that was already dispatched invalidates its cached
// binding.
func (b *BaseService) Handle(method string, h Handler) {
	b.mu.Lock()
	if b.handlers == nil {
		b.handlers = make(map[string]Handler)
	}
	_, replaced := b.handlers[method]
	b.handlers[method] = h
	b.mu.Unlock()

	if replaced && b.server != nil {
		b.server.cache.Delete(rpcName(b.name, method))
	}
}

func (b *BaseService) handler(method string) (Handler, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handlers[method]
	return h, ok
}

func (b *BaseService) handlerTable() map[string]Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Handler, len(b.handlers))
	for k, v := range b.handlers {
		out[k] = v
	}
	return out
}

func (b *BaseService) OnEnable() error                  { return nil }
func (b *BaseService) OnStart() error                   { return nil }
func (b *BaseService) OnDisable() error                 { return nil }
func (b *BaseService) OnTick(delta time.Duration)       {}
func (b *BaseService) OnBeganConnected(c *Client)       {}
func (b *BaseService) OnConnected(c *Client)            {}
func (b *BaseService) OnDisconnected(c *Client)         {}
func (b *BaseService) OnFinishedDisconnected(c *Client) {}

func serviceName(svc Service) string {
	if n, ok := svc.(Named); ok {
		return n.ServiceName()
	}
	t := reflect.TypeOf(svc)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
