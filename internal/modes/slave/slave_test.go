package slave

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-appserver/internal/engine"
	"github.com/sirosfoundation/go-appserver/internal/modes"
	"github.com/sirosfoundation/go-appserver/internal/modes/master"
	"github.com/sirosfoundation/go-appserver/internal/services"
	"github.com/sirosfoundation/go-appserver/pkg/config"
)

const (
	waitFor = 3 * time.Second
	tickFor = 5 * time.Millisecond
)

func startMaster(t *testing.T, cfg *config.Config) *master.Runner {
	t.Helper()
	m, err := master.New(modes.Options{Config: cfg, Logger: zap.NewNop()})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func baseConfig() *config.Config {
	cfg := config.Default()
	cfg.Engine.Host = "127.0.0.1"
	cfg.Engine.Port = 0
	cfg.Engine.TickRate = 100
	cfg.HTTP.Port = 0
	return cfg
}

type calls struct {
	mu   sync.Mutex
	seen []string
}

func (c *calls) record(msg *engine.RPCMessage) {
	c.mu.Lock()
	c.seen = append(c.seen, msg.RPCName())
	c.mu.Unlock()
}

func (c *calls) has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.seen {
		if s == name {
			return true
		}
	}
	return false
}

func presenceOf(t *testing.T, m *master.Runner) *services.Presence {
	t.Helper()
	p, ok := engine.GetService[*services.Presence](m.Engine())
	require.True(t, ok)
	return p
}

func TestSlave_StreamWithName(t *testing.T) {
	for _, transport := range []string{"stream", "datagram"} {
		t.Run(transport, func(t *testing.T) {
			mcfg := baseConfig()
			mcfg.Engine.UDP = true
			m := startMaster(t, mcfg)

			cfg := baseConfig()
			cfg.Mode = "slave"
			cfg.Slave.Transport = transport
			cfg.Slave.MasterAddress = m.Engine().Addr().String()
			cfg.Slave.Name = "ada-" + transport

			var seen calls
			s, err := New(modes.Options{Config: cfg, Logger: zap.NewNop(), OnCall: seen.record})
			require.NoError(t, err)
			_, err = s.Conn()
			assert.ErrorIs(t, err, ErrNotConnected)

			require.NoError(t, s.Connect(context.Background()))
			presence := presenceOf(t, m)
			require.Eventually(t, func() bool { return len(presence.Names()) == 1 }, waitFor, tickFor)
			assert.Equal(t, []string{cfg.Slave.Name}, presence.Names())
			require.Eventually(t, func() bool { return seen.has("Echo.Said") }, waitFor, tickFor)

			conn, err := s.Conn()
			require.NoError(t, err)
			require.NoError(t, conn.Send("Echo", "Say", "x"))

			require.NoError(t, s.Shutdown(context.Background()))
			require.Eventually(t, func() bool { return len(presence.Names()) == 0 }, waitFor, tickFor)
		})
	}
}

func TestSlave_DiscoversMaster(t *testing.T) {
	m := startMaster(t, baseConfig())

	cfg := baseConfig()
	cfg.Mode = "slave"
	cfg.Slave.MasterAddress = ""
	cfg.Discovery.Type = "static"
	cfg.Discovery.Static = []string{m.Engine().Addr().String()}

	s, err := New(modes.Options{Config: cfg, Logger: zap.NewNop()})
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))
	defer func() { _ = s.Shutdown(context.Background()) }()

	require.Eventually(t, func() bool { return len(m.Engine().Clients()) == 1 }, waitFor, tickFor)
}

func TestSlave_DialFailure(t *testing.T) {
	cfg := baseConfig()
	cfg.Mode = "slave"
	cfg.Slave.MasterAddress = "127.0.0.1:1"

	s, err := New(modes.Options{Config: cfg, Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.Error(t, s.Connect(context.Background()))
	assert.NoError(t, s.Shutdown(context.Background()))
}
