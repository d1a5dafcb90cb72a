package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-appserver/pkg/wire"
)

// safeCall runs fn and turns a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (s *Server) enqueue(msg *RPCMessage) {
	s.inbound.Push(msg)
	s.signal()
}

func (s *Server) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// resolve finds the handler for service.method, first in the cache, then
// by looking the service up by name. Successful lookups are cached.
func (s *Server) resolve(service, method string) (Handler, bool) {
	key := rpcName(service, method)
	if h, ok := s.cache.Load(key); ok {
		return h.(Handler), true
	}
	s.metrics.cacheMisses.Inc()

	svc, ok := s.Service(service)
	if !ok {
		return nil, false
	}
	h, ok := svc.base().handler(method)
	if !ok {
		return nil, false
	}
	s.cache.Store(key, h)
	return h, true
}

func (s *Server) dispatch(msg *RPCMessage) {
	h, ok := s.resolve(msg.Service(), msg.Method())
	if !ok {
		s.metrics.framesDropped.WithLabelValues(dropUnresolved).Inc()
		s.logger.Warn("Dropping call to unknown rpc", zap.String("rpc", msg.RPCName()))
		return
	}
	if err := safeCall(func() error { return h(msg) }); err != nil {
		s.metrics.handlerFailures.Inc()
		s.logger.Error("RPC handler failed",
			zap.String("rpc", msg.RPCName()),
			zap.Error(err))
	}
}

// CallLocal queues a call exactly as if it had been decoded from the wire
// on connection from, which may be nil.
func (s *Server) CallLocal(from *Client, service, method string, args ...any) error {
	msg, err := NewRPCMessage(wire.Format(service, method, args...), from)
	if err != nil {
		return err
	}
	s.enqueue(msg)
	return nil
}

// DoLater runs fn on the tick goroutine during the next tick.
func (s *Server) DoLater(fn func()) {
	s.deferred.Push(fn)
	s.signal()
}

func (s *Server) runDeferred(fn func()) {
	err := safeCall(func() error {
		fn()
		return nil
	})
	if err != nil {
		s.logger.Error("Deferred action failed", zap.Error(err))
	}
}

// Emit offers ev to every service's DoOn and returns how many handled it.
func (s *Server) Emit(ev Event) int {
	handled := 0
	for _, svc := range s.Services() {
		var ok bool
		err := safeCall(func() error {
			ok = svc.DoOn(ev)
			return nil
		})
		if err != nil {
			s.logger.Error("Event handler failed",
				zap.String("service", svc.base().name),
				zap.String("event", string(ev.EventKind())),
				zap.Error(err))
			continue
		}
		if ok {
			handled++
		}
	}
	return handled
}

// Broadcast queues the same call on every open connection.
func (s *Server) Broadcast(service, method string, args ...any) {
	frame := wire.Format(service, method, args...)
	for _, c := range s.Clients() {
		_ = c.SendRaw(frame)
	}
}

func (s *Server) handleClosing(msg *RPCMessage) error {
	if msg.Conn == nil {
		return nil
	}
	msg.Conn.logger.Info("Peer announced shutdown")
	msg.Conn.Close()
	return nil
}
