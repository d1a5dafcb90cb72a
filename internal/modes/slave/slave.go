// Package slave provides the slave mode runner. A slave runs the engine
// without a listener, dials its master and hosts the client-side mirrors
// of the master's services.
package slave

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-appserver/internal/engine"
	"github.com/sirosfoundation/go-appserver/internal/modes"
	"github.com/sirosfoundation/go-appserver/internal/services"
	"github.com/sirosfoundation/go-appserver/pkg/discovery"
)

// ErrNotConnected is returned by Conn before Connect succeeded.
var ErrNotConnected = errors.New("slave is not connected")

const connectTimeout = 10 * time.Second

func init() {
	modes.Register(modes.ModeSlave, func(opts modes.Options) (modes.Runner, error) {
		return New(opts)
	})
}

// Runner implements the slave mode
type Runner struct {
	opts   modes.Options
	logger *zap.Logger

	srv      *engine.Server
	registry discovery.Registry
	link     *engine.Custom
	conn     *engine.Client
}

// New creates a slave that dials the master described by the configuration.
func New(opts modes.Options) (*Runner, error) {
	ec, err := modes.EngineConfig(opts.Config, true)
	if err != nil {
		return nil, err
	}
	srv, err := engine.NewServer(ec, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	if err := services.RegisterClient(srv, opts.OnCall); err != nil {
		return nil, err
	}

	r := &Runner{
		opts:   opts,
		logger: opts.Logger.Named("slave"),
		srv:    srv,
	}
	if opts.Config.Slave.MasterAddress == "" {
		reg, err := discovery.New(opts.Config.Discovery, opts.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create discovery registry: %w", err)
		}
		r.registry = reg
	}
	return r, nil
}

// NewEmbedded creates a slave that reaches its master over link instead of
// the network.
func NewEmbedded(opts modes.Options, link engine.Custom) (*Runner, error) {
	cfg := *opts.Config
	cfg.Slave.MasterAddress = "embedded"
	opts.Config = &cfg
	r, err := New(opts)
	if err != nil {
		return nil, err
	}
	r.link = &link
	return r, nil
}

// Name returns the mode name
func (r *Runner) Name() modes.Mode {
	return modes.ModeSlave
}

// Engine exposes the slave's engine
func (r *Runner) Engine() *engine.Server {
	return r.srv
}

// Conn is the connection to the master.
func (r *Runner) Conn() (*engine.Client, error) {
	if r.conn == nil || r.conn.Closed() {
		return nil, ErrNotConnected
	}
	return r.conn, nil
}

// Connect starts the engine, reaches the master and introduces the slave
// to Presence when it has a name.
func (r *Runner) Connect(ctx context.Context) error {
	if err := r.srv.Start(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	conn, err := r.dial(dialCtx)
	if err != nil {
		return err
	}
	r.conn = conn

	cfg := r.opts.Config.Slave
	if cfg.DatagramAddress != "" && conn.Kind() == engine.KindStream {
		if err := conn.AttachDatagram(cfg.DatagramAddress); err != nil {
			r.logger.Warn("Datagram path unavailable", zap.Error(err))
		}
	}
	if cfg.Name != "" {
		if err := conn.Send("Presence", "Hello", cfg.Name); err != nil {
			return fmt.Errorf("failed to introduce slave: %w", err)
		}
	}

	r.logger.Info("Connected to master",
		zap.String("kind", string(conn.Kind())),
		zap.String("remote", conn.RemoteAddr()))
	return nil
}

func (r *Runner) dial(ctx context.Context) (*engine.Client, error) {
	if r.link != nil {
		return r.srv.AttachCustom(*r.link), nil
	}

	cfg := r.opts.Config.Slave
	addr, wsURL := cfg.MasterAddress, cfg.WebSocketURL
	if r.registry != nil {
		inst, err := discovery.Pick(ctx, r.registry, r.opts.Config.Discovery.ServiceName)
		if err != nil {
			return nil, err
		}
		addr = inst.Addr
		if inst.WebSocketURL != "" {
			wsURL = inst.WebSocketURL
		}
		r.logger.Info("Discovered master", zap.String("addr", addr), zap.String("version", inst.Version))
	}

	switch cfg.Transport {
	case "websocket":
		var header http.Header
		if cfg.Token != "" {
			header = http.Header{"Authorization": []string{"Bearer " + cfg.Token}}
		}
		return r.srv.DialWebSocket(ctx, wsURL, header)
	case "datagram":
		return r.srv.Dial(ctx, engine.KindDatagram, addr)
	default:
		return r.srv.Dial(ctx, engine.KindStream, addr)
	}
}

// Run connects and blocks until ctx is done
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Shutdown stops the engine, which tells the master it is closing.
func (r *Runner) Shutdown(ctx context.Context) error {
	var errs error
	if r.srv.Running() {
		errs = multierr.Append(errs, r.srv.Stop())
	}
	if r.registry != nil {
		errs = multierr.Append(errs, r.registry.Close())
	}
	return errs
}
