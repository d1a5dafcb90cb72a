package discovery

import (
	"context"
	"slices"
	"sync"
	"time"
)

// StaticRegistry keeps instances in memory. Seed addresses are visible
// under every service name; registered instances only under theirs.
type StaticRegistry struct {
	mu        sync.RWMutex
	seed      []Instance
	instances map[string][]Instance
}

// NewStaticRegistry creates a registry seeded with fixed addresses.
func NewStaticRegistry(addrs []string) *StaticRegistry {
	seed := make([]Instance, 0, len(addrs))
	for _, a := range addrs {
		seed = append(seed, Instance{Addr: a})
	}
	return &StaticRegistry{
		seed:      seed,
		instances: make(map[string][]Instance),
	}
}

// Register adds or replaces inst. ttl is ignored.
func (r *StaticRegistry) Register(_ context.Context, service string, inst Instance, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := slices.DeleteFunc(r.instances[service], func(i Instance) bool { return i.Addr == inst.Addr })
	r.instances[service] = append(list, inst)
	return nil
}

func (r *StaticRegistry) Deregister(_ context.Context, service, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[service] = slices.DeleteFunc(r.instances[service], func(i Instance) bool { return i.Addr == addr })
	return nil
}

func (r *StaticRegistry) Discover(_ context.Context, service string) ([]Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := slices.Clone(r.seed)
	return append(out, r.instances[service]...), nil
}

func (r *StaticRegistry) Close() error { return nil }
