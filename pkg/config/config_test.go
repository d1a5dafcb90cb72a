package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "master", cfg.Mode)
	assert.Equal(t, "0.0.0.0:7777", cfg.Engine.Address())
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Address())
	assert.False(t, cfg.Crypto.Enabled())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "observer" }, "invalid mode"},
		{"engine port too high", func(c *Config) { c.Engine.Port = 65536 }, "invalid engine port"},
		{"http port negative", func(c *Config) { c.HTTP.Port = -1 }, "invalid http port"},
		{"zero tick rate", func(c *Config) { c.Engine.TickRate = 0 }, "invalid tick rate"},
		{"unknown impl", func(c *Config) { c.Engine.Impl = "mmap" }, "invalid engine impl"},
		{"zero poll timeout", func(c *Config) { c.Engine.PollTimeout = 0 }, "poll timeout"},
		{"slave bad transport", func(c *Config) {
			c.Mode = "slave"
			c.Slave.Transport = "smoke"
		}, "invalid slave transport"},
		{"slave websocket without url", func(c *Config) {
			c.Mode = "slave"
			c.Slave.Transport = "websocket"
		}, "websocket_url"},
		{"slave without master", func(c *Config) {
			c.Mode = "slave"
			c.Slave.MasterAddress = ""
		}, "master address"},
		{"negative frame rate", func(c *Config) { c.RateLimit.FramesPerSecond = -1 }, "rate limits"},
		{"unknown discovery", func(c *Config) { c.Discovery.Type = "dns" }, "invalid discovery type"},
		{"etcd without endpoints", func(c *Config) { c.Discovery.Type = "etcd" }, "endpoint"},
		{"etcd short ttl", func(c *Config) {
			c.Discovery.Type = "etcd"
			c.Discovery.Endpoints = []string{"localhost:2379"}
			c.Discovery.TTL = 10 * time.Millisecond
		}, "ttl"},
		{"auth without secret", func(c *Config) { c.HTTP.RequireAuth = true }, "jwt secret"},
		{"short crypto secret", func(c *Config) { c.Crypto.Secret = "abc" }, "crypto secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_Validate_SlaveWithDiscovery(t *testing.T) {
	cfg := Default()
	cfg.Mode = "slave"
	cfg.Slave.MasterAddress = ""
	cfg.Discovery.Type = "static"
	cfg.Discovery.Static = []string{"10.0.0.1:7777"}
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
mode: all
http:
  port: 9090
  cors:
    allowed_origins: ["https://example.org"]
engine:
  port: 7000
  tick_rate: 60
  impl: stream
  udp: true
  write_timeout: 2s
crypto:
  secret: "correct horse battery"
  salt: "pepper"
rate_limit:
  frames_per_second: 200
  upgrades_per_minute: 30
logging:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "all", cfg.Mode)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, []string{"https://example.org"}, cfg.HTTP.CORS.AllowedOrigins)
	assert.Equal(t, 7000, cfg.Engine.Port)
	assert.Equal(t, 60, cfg.Engine.TickRate)
	assert.Equal(t, "stream", cfg.Engine.Impl)
	assert.True(t, cfg.Engine.UDP)
	assert.Equal(t, 2*time.Second, cfg.Engine.WriteTimeout)
	assert.Equal(t, time.Millisecond, cfg.Engine.PollTimeout, "defaults survive partial files")
	assert.True(t, cfg.Crypto.Enabled())
	assert.Equal(t, 200.0, cfg.RateLimit.FramesPerSecond)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "0.0.0.0:7000", cfg.Discovery.Advertise)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Engine, cfg.Engine)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: [unclosed"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APPSERVER_MODE", "slave")
	t.Setenv("APPSERVER_ENGINE_TICK_RATE", "20")
	t.Setenv("APPSERVER_SLAVE_TRANSPORT", "datagram")
	t.Setenv("APPSERVER_SLAVE_MASTER_ADDRESS", "10.1.2.3:7777")
	t.Setenv("APPSERVER_DISCOVERY_TTL", "15s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "slave", cfg.Mode)
	assert.Equal(t, 20, cfg.Engine.TickRate)
	assert.Equal(t, "datagram", cfg.Slave.Transport)
	assert.Equal(t, "10.1.2.3:7777", cfg.Slave.MasterAddress)
	assert.Equal(t, 15*time.Second, cfg.Discovery.TTL)
}

func TestLoad_EnvValidationFailure(t *testing.T) {
	t.Setenv("APPSERVER_ENGINE_IMPL", "mmap")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
