// Package discovery lets masters advertise their engine address and slaves
// find one. Masters register with a TTL; entries disappear when a master
// stops renewing them.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-appserver/pkg/config"
)

// ErrNoInstances is returned when no master is registered.
var ErrNoInstances = errors.New("no instances registered")

// Instance is one registered master.
type Instance struct {
	Addr         string    `json:"addr"`
	WebSocketURL string    `json:"websocket_url,omitempty"`
	UDP          bool      `json:"udp,omitempty"`
	Version      string    `json:"version,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}

// Registry stores and looks up instances by service name.
type Registry interface {
	Register(ctx context.Context, service string, inst Instance, ttl time.Duration) error
	Deregister(ctx context.Context, service, addr string) error
	Discover(ctx context.Context, service string) ([]Instance, error)
	Close() error
}

// New builds the registry selected by cfg.Type. It returns nil for "none".
func New(cfg config.DiscoveryConfig, logger *zap.Logger) (Registry, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "static":
		return NewStaticRegistry(cfg.Static), nil
	case "etcd":
		r, err := NewEtcdRegistry(cfg, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown discovery type %q", cfg.Type)
	}
}

// Pick returns a random instance of service.
func Pick(ctx context.Context, r Registry, service string) (Instance, error) {
	instances, err := r.Discover(ctx, service)
	if err != nil {
		return Instance{}, fmt.Errorf("failed to discover %s: %w", service, err)
	}
	if len(instances) == 0 {
		return Instance{}, fmt.Errorf("%w: %s", ErrNoInstances, service)
	}
	return instances[rand.IntN(len(instances))], nil
}
