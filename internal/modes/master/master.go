// Package master provides the master mode runner: the engine listener,
// the application services, the HTTP front and discovery registration.
package master

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-appserver/internal/engine"
	"github.com/sirosfoundation/go-appserver/internal/modes"
	"github.com/sirosfoundation/go-appserver/internal/server"
	"github.com/sirosfoundation/go-appserver/internal/services"
	"github.com/sirosfoundation/go-appserver/pkg/discovery"
)

// Version is advertised through discovery; cmd sets it at startup.
var Version = "dev"

func init() {
	modes.Register(modes.ModeMaster, func(opts modes.Options) (modes.Runner, error) {
		return New(opts)
	})
}

// Runner implements the master mode
type Runner struct {
	opts   modes.Options
	logger *zap.Logger

	srv      *engine.Server
	http     *server.Manager
	registry discovery.Registry
	instance discovery.Instance
}

// New creates the engine and registers the application services. Nothing
// listens until Start.
func New(opts modes.Options) (*Runner, error) {
	cfg := opts.Config
	logger := opts.Logger.Named("master")

	ec, err := modes.EngineConfig(cfg, false)
	if err != nil {
		return nil, err
	}
	srv, err := engine.NewServer(ec, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	if err := services.Register(srv); err != nil {
		return nil, err
	}

	r := &Runner{opts: opts, logger: logger, srv: srv}

	if cfg.HTTP.Port > 0 {
		r.http = server.NewManager(&server.ServerConfig{
			Address:      cfg.HTTP.Host,
			Port:         cfg.HTTP.Port,
			CORS:         cfg.HTTP.CORS,
			LoggingLevel: cfg.Logging.Level,
			Mode:         string(modes.ModeMaster),
			Engine:       srv,
		}, opts.Logger)
		engineOpts := server.EngineOptions{UpgradesPerMinute: cfg.RateLimit.UpgradesPerMinute}
		if cfg.HTTP.RequireAuth {
			engineOpts.JWTSecret = cfg.JWT.Secret
			engineOpts.JWTIssuer = cfg.JWT.Issuer
		}
		r.http.AddProvider(server.NewEngineProvider(srv, engineOpts, opts.Logger))
	}

	reg, err := discovery.New(cfg.Discovery, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery registry: %w", err)
	}
	r.registry = reg
	return r, nil
}

// Name returns the mode name
func (r *Runner) Name() modes.Mode {
	return modes.ModeMaster
}

// Engine exposes the master's engine
func (r *Runner) Engine() *engine.Server {
	return r.srv
}

// HTTP exposes the HTTP front, nil when disabled
func (r *Runner) HTTP() *server.Manager {
	return r.http
}

// Start brings the engine, the HTTP front and the discovery entry up.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.srv.Start(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	if r.http != nil {
		if err := r.http.Start(ctx); err != nil {
			return err
		}
	}

	if r.registry != nil {
		cfg := r.opts.Config
		r.instance = discovery.Instance{
			Addr:      advertised(cfg.Discovery.Advertise, r.srv),
			UDP:       cfg.Engine.UDP,
			Version:   Version,
			StartedAt: time.Now().UTC(),
		}
		if r.http != nil {
			r.instance.WebSocketURL = fmt.Sprintf("ws://%s/ws", r.http.Addr())
		}
		if err := r.registry.Register(ctx, cfg.Discovery.ServiceName, r.instance, cfg.Discovery.TTL); err != nil {
			return fmt.Errorf("failed to register with discovery: %w", err)
		}
	}

	r.logger.Info("Master running",
		zap.String("engine", r.srv.Addr().String()),
		zap.Strings("services", r.srv.ServiceNames()))
	return nil
}

// advertised prefers the configured address, falling back to the bound one.
func advertised(configured string, srv *engine.Server) string {
	if configured != "" && !strings.HasSuffix(configured, ":0") {
		return configured
	}
	return srv.Addr().String()
}

// Run starts the master and blocks until ctx is done
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Shutdown deregisters, stops the HTTP front and then the engine.
func (r *Runner) Shutdown(ctx context.Context) error {
	var errs error
	if r.registry != nil {
		if r.instance.Addr != "" {
			errs = multierr.Append(errs, r.registry.Deregister(ctx, r.opts.Config.Discovery.ServiceName, r.instance.Addr))
		}
		errs = multierr.Append(errs, r.registry.Close())
	}
	if r.http != nil {
		errs = multierr.Append(errs, r.http.Shutdown(ctx))
	}
	if r.srv.Running() {
		errs = multierr.Append(errs, r.srv.Stop())
	}
	return errs
}
