package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-appserver/pkg/config"
)

// EtcdRegistry stores instances in etcd under {prefix}/{service}/{addr}
// with JSON values, each attached to a kept-alive lease.
type EtcdRegistry struct {
	client *clientv3.Client
	prefix string
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID
}

// NewEtcdRegistry connects to the configured endpoints.
func NewEtcdRegistry(cfg config.DiscoveryConfig, logger *zap.Logger) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Logger:      logger.Named("etcd-client"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "/appserver"
	}
	return &EtcdRegistry{
		client: c,
		prefix: prefix,
		logger: logger.Named("discovery"),
		leases: make(map[string]clientv3.LeaseID),
	}, nil
}

func (r *EtcdRegistry) key(service, addr string) string {
	return path.Join(r.prefix, service, addr)
}

func (r *EtcdRegistry) servicePrefix(service string) string {
	return path.Join(r.prefix, service) + "/"
}

// Register puts inst under a lease of ttl and keeps the lease alive until
// Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, service string, inst Instance, ttl time.Duration) error {
	lease, err := r.client.Grant(ctx, int64(max(ttl/time.Second, 1)))
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}

	val, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to encode instance: %w", err)
	}

	key := r.key(service, inst.Addr)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to register %s: %w", key, err)
	}

	// The keepalive must outlive ctx, which usually only covers startup.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return fmt.Errorf("failed to keep lease alive: %w", err)
	}
	go func() {
		for range ch {
		}
		r.logger.Debug("Lease keepalive ended", zap.String("key", key))
	}()

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()

	r.logger.Info("Registered instance", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

// Deregister deletes the entry and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, service, addr string) error {
	key := r.key(service, addr)
	r.mu.Lock()
	id, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if ok {
		if _, err := r.client.Revoke(ctx, id); err != nil {
			return fmt.Errorf("failed to revoke lease for %s: %w", key, err)
		}
		return nil
	}
	if _, err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to deregister %s: %w", key, err)
	}
	return nil
}

// Discover lists every instance registered under service.
func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, r.servicePrefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			r.logger.Warn("Skipping malformed instance", zap.ByteString("key", kv.Key))
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Close stops all keepalives and closes the client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
