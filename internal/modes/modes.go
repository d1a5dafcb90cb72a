// Package modes provides the mode dispatcher for the appserver binary.
// The binary can run in different modes:
// - master: listens for peers and serves the HTTP front (default)
// - slave: dials a master and mirrors its services
// - all: a master and an embedded slave joined in-process
package modes

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-appserver/internal/engine"
	"github.com/sirosfoundation/go-appserver/internal/services"
	"github.com/sirosfoundation/go-appserver/pkg/config"
	"github.com/sirosfoundation/go-appserver/pkg/crypt"
)

// Mode represents an operating mode
type Mode string

const (
	ModeMaster Mode = "master"
	ModeSlave  Mode = "slave"
	ModeAll    Mode = "all"
)

// ValidModes lists all valid operating modes
var ValidModes = []Mode{ModeMaster, ModeSlave, ModeAll}

// IsValid checks if a mode string is valid
func (m Mode) IsValid() bool {
	return slices.Contains(ValidModes, m)
}

// ParseMode parses a mode string into a Mode, returning an error if invalid
func ParseMode(s string) (Mode, error) {
	mode := Mode(s)
	if !mode.IsValid() {
		return "", fmt.Errorf("invalid mode %q, valid modes: %v", s, ValidModes)
	}
	return mode, nil
}

// Runner is the interface for mode-specific runners
type Runner interface {
	// Name returns the mode name
	Name() Mode

	// Run starts the mode's services and blocks until ctx is done
	Run(ctx context.Context) error

	// Shutdown gracefully shuts down the mode's services
	Shutdown(ctx context.Context) error
}

// Options is what every runner is built from
type Options struct {
	Config *config.Config
	Logger *zap.Logger
	// OnCall observes calls handled by slave-side services
	OnCall services.Callback
}

// RunnerFactory creates a Runner
type RunnerFactory func(opts Options) (Runner, error)

var (
	runnersMu sync.RWMutex
	runners   = make(map[Mode]RunnerFactory)
)

// Register registers a runner factory for a mode
func Register(mode Mode, factory RunnerFactory) {
	runnersMu.Lock()
	defer runnersMu.Unlock()
	runners[mode] = factory
}

// NewRunner creates a runner for the given mode
func NewRunner(mode Mode, opts Options) (Runner, error) {
	runnersMu.RLock()
	factory, ok := runners[mode]
	runnersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no runner registered for mode %q", mode)
	}
	return factory(opts)
}

// ListRegistered returns the registered modes, sorted
func ListRegistered() []Mode {
	runnersMu.RLock()
	defer runnersMu.RUnlock()
	modes := make([]Mode, 0, len(runners))
	for m := range runners {
		modes = append(modes, m)
	}
	slices.Sort(modes)
	return modes
}

// EngineConfig maps the application configuration onto an engine
// configuration. Slaves get no listener.
func EngineConfig(cfg *config.Config, slave bool) (engine.Config, error) {
	ec := engine.DefaultConfig()
	ec.Host = cfg.Engine.Host
	ec.Port = cfg.Engine.Port
	ec.TickRate = cfg.Engine.TickRate
	ec.Impl = engine.TransportImpl(cfg.Engine.Impl)
	ec.UDP = cfg.Engine.UDP
	ec.PollTimeout = cfg.Engine.PollTimeout
	ec.WriteTimeout = cfg.Engine.WriteTimeout
	ec.DatagramIdleTimeout = cfg.Engine.DatagramIdleTimeout
	ec.FrameRate = cfg.RateLimit.FramesPerSecond
	ec.FrameBurst = cfg.RateLimit.FrameBurst
	if slave {
		ec.Port = -1
		ec.UDP = false
	}

	if cfg.Crypto.Enabled() {
		f, err := crypt.ChaCha20([]byte(cfg.Crypto.Secret), []byte(cfg.Crypto.Salt))
		if err != nil {
			return engine.Config{}, fmt.Errorf("failed to build frame cipher: %w", err)
		}
		ec.Cipher = f
	}
	return ec, nil
}
