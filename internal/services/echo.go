package services

import (
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-appserver/internal/engine"
)

// Echo answers Echo.Say with Echo.Said carrying the same arguments, and
// greets peers that introduced themselves to Presence.
type Echo struct {
	engine.BaseService
}

func (e *Echo) ServiceName() string { return "Echo" }

func (e *Echo) OnEnable() error {
	e.Handle("Say", e.say)
	engine.OnEvent(&e.BaseService, e.greet)
	return nil
}

func (e *Echo) say(msg *engine.RPCMessage) error {
	if msg.Conn == nil {
		e.Logger().Info("Local echo", zap.Strings("args", msg.Args()))
		return nil
	}
	args := make([]any, 0, msg.NumArgs())
	for _, a := range msg.Args() {
		args = append(args, a)
	}
	return msg.Conn.Send("Echo", "Said", args...)
}

func (e *Echo) greet(ev LoginEvent) {
	if ev.Conn == nil {
		return
	}
	if err := ev.Conn.Send("Echo", "Said", "welcome", ev.Name); err != nil {
		e.Logger().Debug("Greeting not sent", zap.Error(err))
	}
}
