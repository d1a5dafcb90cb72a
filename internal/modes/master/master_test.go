package master

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-appserver/internal/modes"
	"github.com/sirosfoundation/go-appserver/internal/server"
	"github.com/sirosfoundation/go-appserver/pkg/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Engine.Host = "127.0.0.1"
	cfg.Engine.Port = 0
	cfg.Engine.TickRate = 100
	cfg.HTTP.Port = 0
	return cfg
}

func TestMaster_StartShutdown(t *testing.T) {
	r, err := New(modes.Options{Config: testConfig(), Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, modes.ModeMaster, r.Name())
	assert.Nil(t, r.HTTP(), "http front disabled on port 0")
	assert.Equal(t, []string{"Presence", "Echo"}, r.Engine().ServiceNames())

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	assert.True(t, r.Engine().Running())
	require.NoError(t, r.Shutdown(ctx))
	assert.False(t, r.Engine().Running())
}

func TestMaster_RegistersWithDiscovery(t *testing.T) {
	cfg := testConfig()
	cfg.Discovery.Type = "static"
	r, err := New(modes.Options{Config: cfg, Logger: zap.NewNop()})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	defer func() { _ = r.Shutdown(ctx) }()

	got, err := r.registry.Discover(ctx, cfg.Discovery.ServiceName)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r.Engine().Addr().String(), got[0].Addr)
	assert.Equal(t, Version, got[0].Version)
}

func TestMaster_HTTPFront(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 18000 + int(time.Now().UnixNano()%1000)
	r, err := New(modes.Options{Config: cfg, Logger: zap.NewNop()})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	defer func() { _ = r.Shutdown(ctx) }()

	resp, err := http.Get("http://" + r.HTTP().Addr().String() + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status server.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "master", status.Mode)
	assert.True(t, status.Running)
}

func TestAdvertised(t *testing.T) {
	r, err := New(modes.Options{Config: testConfig(), Logger: zap.NewNop()})
	require.NoError(t, err)
	require.NoError(t, r.Engine().Start())
	defer func() { _ = r.Engine().Stop() }()

	assert.Equal(t, "10.0.0.1:7777", advertised("10.0.0.1:7777", r.Engine()))
	assert.Equal(t, r.Engine().Addr().String(), advertised("127.0.0.1:0", r.Engine()))
	assert.Equal(t, r.Engine().Addr().String(), advertised("", r.Engine()))
}
