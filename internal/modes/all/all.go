// Package all provides the all mode runner: a master and an embedded slave
// in one process, joined by an in-memory pipe.
package all

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-appserver/internal/engine"
	"github.com/sirosfoundation/go-appserver/internal/modes"
	"github.com/sirosfoundation/go-appserver/internal/modes/master"
	"github.com/sirosfoundation/go-appserver/internal/modes/slave"
)

func init() {
	modes.Register(modes.ModeAll, func(opts modes.Options) (modes.Runner, error) {
		return New(opts)
	})
}

// Runner implements the all mode
type Runner struct {
	logger *zap.Logger
	master *master.Runner
	slave  *slave.Runner
	link   engine.Custom
}

// New creates both halves and the pipe between them
func New(opts modes.Options) (*Runner, error) {
	masterRunner, err := master.New(modes.Options{
		Config: opts.Config,
		Logger: opts.Logger.Named("master"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create master runner: %w", err)
	}

	masterEnd, slaveEnd := engine.NewPipe()
	slaveRunner, err := slave.NewEmbedded(modes.Options{
		Config: opts.Config,
		Logger: opts.Logger.Named("slave"),
		OnCall: opts.OnCall,
	}, slaveEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to create slave runner: %w", err)
	}

	return &Runner{
		logger: opts.Logger,
		master: masterRunner,
		slave:  slaveRunner,
		link:   masterEnd,
	}, nil
}

// Name returns the mode name
func (r *Runner) Name() modes.Mode {
	return modes.ModeAll
}

// Master exposes the master half
func (r *Runner) Master() *master.Runner { return r.master }

// Slave exposes the embedded slave half
func (r *Runner) Slave() *slave.Runner { return r.slave }

// Start brings the master up, attaches its end of the pipe and connects
// the embedded slave.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.master.Start(ctx); err != nil {
		return err
	}
	r.master.Engine().AttachCustom(r.link)
	if err := r.slave.Connect(ctx); err != nil {
		return err
	}
	r.logger.Info("Embedded slave attached")
	return nil
}

// Run starts both halves and blocks until ctx is done
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Shutdown stops the slave first so the master sees it leave.
func (r *Runner) Shutdown(ctx context.Context) error {
	var errs error
	r.logger.Info("Shutting down embedded slave")
	errs = multierr.Append(errs, r.slave.Shutdown(ctx))
	r.logger.Info("Shutting down master")
	errs = multierr.Append(errs, r.master.Shutdown(ctx))
	return errs
}
