package services

import (
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-appserver/internal/engine"
)

// Callback observes calls handled by the slave-side mirrors.
type Callback func(msg *engine.RPCMessage)

// EchoClient receives Echo.Said on a slave.
type EchoClient struct {
	engine.BaseService
	cb Callback
}

func (e *EchoClient) ServiceName() string { return "Echo" }

func (e *EchoClient) OnEnable() error {
	e.Handle("Said", func(msg *engine.RPCMessage) error {
		e.Logger().Info("Echo", zap.Strings("args", msg.Args()))
		notify(e.cb, msg)
		return nil
	})
	return nil
}

// PresenceClient keeps a slave's view of who is online.
type PresenceClient struct {
	engine.BaseService
	cb Callback

	mu     sync.RWMutex
	roster map[string]struct{}
}

func (p *PresenceClient) ServiceName() string { return "Presence" }

func (p *PresenceClient) OnEnable() error {
	p.roster = make(map[string]struct{})
	p.Handle("Joined", p.joined)
	p.Handle("Left", p.left)
	p.Handle("Online", p.online)
	return nil
}

func (p *PresenceClient) joined(msg *engine.RPCMessage) error {
	if msg.NumArgs() > 0 {
		p.mu.Lock()
		p.roster[msg.Arg(0)] = struct{}{}
		p.mu.Unlock()
	}
	notify(p.cb, msg)
	return nil
}

func (p *PresenceClient) left(msg *engine.RPCMessage) error {
	if msg.NumArgs() > 0 {
		p.mu.Lock()
		delete(p.roster, msg.Arg(0))
		p.mu.Unlock()
	}
	notify(p.cb, msg)
	return nil
}

func (p *PresenceClient) online(msg *engine.RPCMessage) error {
	p.mu.Lock()
	clear(p.roster)
	for _, n := range msg.Args() {
		p.roster[n] = struct{}{}
	}
	p.mu.Unlock()
	notify(p.cb, msg)
	return nil
}

// Roster lists the names the master reported, sorted.
func (p *PresenceClient) Roster() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.roster))
	for n := range p.roster {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func notify(cb Callback, msg *engine.RPCMessage) {
	if cb != nil {
		cb(msg)
	}
}

// RegisterClient adds the slave-side mirrors of Echo and Presence.
func RegisterClient(srv *engine.Server, cb Callback) error {
	if err := srv.Register(&PresenceClient{cb: cb}); err != nil {
		return fmt.Errorf("failed to add presence client: %w", err)
	}
	if err := srv.Register(&EchoClient{cb: cb}); err != nil {
		return fmt.Errorf("failed to add echo client: %w", err)
	}
	return nil
}
