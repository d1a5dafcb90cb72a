package services

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-appserver/internal/engine"
)

const (
	nameKey           = "presence.name"
	keepAliveInterval = 5 * time.Second
	maxNameLength     = 64
)

// LoginEvent is emitted when a connection names itself.
type LoginEvent struct {
	Name string
	Conn *engine.Client
}

func (LoginEvent) EventKind() engine.EventKind { return "presence.login" }

// Presence tracks named connections. Presence.Hello <name> joins and is
// announced to everyone as Presence.Joined; disconnects are announced as
// Presence.Left. Presence.List replies with Presence.Online and every
// name. Idle connections are poked periodically.
type Presence struct {
	engine.BaseService

	mu      sync.RWMutex
	online  map[uuid.UUID]string
	sinceKA time.Duration
}

func (p *Presence) ServiceName() string { return "Presence" }

func (p *Presence) OnEnable() error {
	p.online = make(map[uuid.UUID]string)
	p.Handle("Hello", p.hello)
	p.Handle("List", p.list)
	return nil
}

func (p *Presence) OnStart() error {
	p.Logger().Info("Presence tracking started")
	return nil
}

func (p *Presence) hello(msg *engine.RPCMessage) error {
	if msg.Conn == nil || msg.NumArgs() < 1 {
		return nil
	}
	name := msg.Arg(0)
	if name == "" || len(name) > maxNameLength {
		p.Logger().Warn("Rejected presence name", zap.Int("length", len(name)))
		return nil
	}

	p.mu.Lock()
	_, renamed := p.online[msg.Conn.ID]
	p.online[msg.Conn.ID] = name
	p.mu.Unlock()
	msg.Conn.Set(nameKey, name)

	if !renamed {
		p.Server().Emit(LoginEvent{Name: name, Conn: msg.Conn})
	}
	p.Server().Broadcast("Presence", "Joined", name)
	return nil
}

func (p *Presence) list(msg *engine.RPCMessage) error {
	if msg.Conn == nil {
		return nil
	}
	names := p.Names()
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	return msg.Conn.Send("Presence", "Online", args...)
}

func (p *Presence) OnDisconnected(c *engine.Client) {
	p.mu.Lock()
	name, ok := p.online[c.ID]
	delete(p.online, c.ID)
	p.mu.Unlock()

	if ok {
		p.Server().Broadcast("Presence", "Left", name)
	}
}

func (p *Presence) OnTick(delta time.Duration) {
	p.sinceKA += delta
	if p.sinceKA < keepAliveInterval {
		return
	}
	p.sinceKA = 0
	for _, c := range p.Server().Clients() {
		_ = c.Poke()
	}
}

// Names lists the online names in sorted order.
func (p *Presence) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.online))
	for _, n := range p.online {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// NameOf returns the name a connection introduced itself with.
func NameOf(c *engine.Client) string {
	return c.GetString(nameKey)
}
