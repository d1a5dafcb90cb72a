package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-appserver/pkg/config"
)

func TestStaticRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewStaticRegistry([]string{"10.0.0.1:7777"})

	got, err := r.Discover(ctx, "appserver")
	require.NoError(t, err)
	assert.Equal(t, []Instance{{Addr: "10.0.0.1:7777"}}, got)

	inst := Instance{Addr: "10.0.0.2:7777", UDP: true}
	require.NoError(t, r.Register(ctx, "appserver", inst, time.Second))
	require.NoError(t, r.Register(ctx, "appserver", inst, time.Second))
	got, err = r.Discover(ctx, "appserver")
	require.NoError(t, err)
	assert.Len(t, got, 2, "re-registering replaces")

	other, err := r.Discover(ctx, "other")
	require.NoError(t, err)
	assert.Len(t, other, 1)

	require.NoError(t, r.Deregister(ctx, "appserver", inst.Addr))
	got, err = r.Discover(ctx, "appserver")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.NoError(t, r.Close())
}

func TestPick(t *testing.T) {
	ctx := context.Background()
	r := NewStaticRegistry(nil)

	_, err := Pick(ctx, r, "appserver")
	assert.ErrorIs(t, err, ErrNoInstances)

	require.NoError(t, r.Register(ctx, "appserver", Instance{Addr: "a:1"}, 0))
	inst, err := Pick(ctx, r, "appserver")
	require.NoError(t, err)
	assert.Equal(t, "a:1", inst.Addr)
}

func TestNew(t *testing.T) {
	r, err := New(config.DiscoveryConfig{Type: "none"}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = New(config.DiscoveryConfig{Type: "static", Static: []string{"x:1"}}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &StaticRegistry{}, r)

	_, err = New(config.DiscoveryConfig{Type: "zookeeper"}, zap.NewNop())
	assert.Error(t, err)
}

func TestEtcdRegistry_Keys(t *testing.T) {
	r := &EtcdRegistry{prefix: "/appserver"}
	assert.Equal(t, "/appserver/game/10.0.0.1:7777", r.key("game", "10.0.0.1:7777"))
	assert.Equal(t, "/appserver/game/", r.servicePrefix("game"))
}
