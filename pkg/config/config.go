package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/sirosfoundation/go-appserver/pkg/logging"
)

// EnvPrefix is the prefix for environment overrides, e.g. APPSERVER_ENGINE_PORT.
const EnvPrefix = "APPSERVER"

// Config represents the application configuration
type Config struct {
	Mode      string          `yaml:"mode" envconfig:"MODE"`
	HTTP      HTTPConfig      `yaml:"http" envconfig:"HTTP"`
	Engine    EngineConfig    `yaml:"engine" envconfig:"ENGINE"`
	Slave     SlaveConfig     `yaml:"slave" envconfig:"SLAVE"`
	Crypto    CryptoConfig    `yaml:"crypto" envconfig:"CRYPTO"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Discovery DiscoveryConfig `yaml:"discovery" envconfig:"DISCOVERY"`
	Logging   logging.Config  `yaml:"logging" envconfig:"LOGGING"`
	JWT       JWTConfig       `yaml:"jwt" envconfig:"JWT"`
}

// HTTPConfig contains the HTTP front configuration (websocket upgrade,
// health, status and metrics). Port 0 disables the front.
type HTTPConfig struct {
	Host string     `yaml:"host" envconfig:"HOST"`
	Port int        `yaml:"port" envconfig:"PORT"`
	CORS CORSConfig `yaml:"cors" envconfig:"CORS"`
	// RequireAuth demands a bearer token on /ws.
	RequireAuth bool `yaml:"require_auth" envconfig:"REQUIRE_AUTH"`
}

// CORSConfig contains CORS settings for the HTTP front
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// EngineConfig contains the RPC engine configuration
type EngineConfig struct {
	Host     string `yaml:"host" envconfig:"HOST"`
	Port     int    `yaml:"port" envconfig:"PORT"`
	TickRate int    `yaml:"tick_rate" envconfig:"TICK_RATE"`
	// Impl selects how stream sockets are read: socket or stream
	Impl string `yaml:"impl" envconfig:"IMPL"`
	UDP  bool   `yaml:"udp" envconfig:"UDP"`

	PollTimeout         time.Duration `yaml:"poll_timeout" envconfig:"POLL_TIMEOUT"`
	WriteTimeout        time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	DatagramIdleTimeout time.Duration `yaml:"datagram_idle_timeout" envconfig:"DATAGRAM_IDLE_TIMEOUT"`
}

// SlaveConfig describes how a slave reaches its master
type SlaveConfig struct {
	// MasterAddress is host:port of the master's engine port. When empty the
	// master is looked up through discovery.
	MasterAddress string `yaml:"master_address" envconfig:"MASTER_ADDRESS"`
	// Transport is stream, datagram or websocket
	Transport    string `yaml:"transport" envconfig:"TRANSPORT"`
	WebSocketURL string `yaml:"websocket_url" envconfig:"WEBSOCKET_URL"`
	// Token is sent as a bearer token on websocket dials
	Token string `yaml:"token" envconfig:"TOKEN"`
	// DatagramAddress attaches a send-only UDP path next to a stream link
	DatagramAddress string `yaml:"datagram_address" envconfig:"DATAGRAM_ADDRESS"`
	Name            string `yaml:"name" envconfig:"NAME"`
}

// CryptoConfig enables the frame cipher when Secret is set
type CryptoConfig struct {
	Secret string `yaml:"secret" envconfig:"SECRET"`
	Salt   string `yaml:"salt" envconfig:"SALT"`
}

// Enabled reports whether a frame cipher is configured
func (c CryptoConfig) Enabled() bool { return c.Secret != "" }

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	// FramesPerSecond limits decoded frames per connection (0 = unlimited)
	FramesPerSecond float64 `yaml:"frames_per_second" envconfig:"FRAMES_PER_SECOND"`
	FrameBurst      int     `yaml:"frame_burst" envconfig:"FRAME_BURST"`
	// UpgradesPerMinute limits websocket upgrades per client IP (0 = unlimited)
	UpgradesPerMinute int `yaml:"upgrades_per_minute" envconfig:"UPGRADES_PER_MINUTE"`
}

// DiscoveryConfig contains master discovery configuration
type DiscoveryConfig struct {
	// Type is none, static or etcd
	Type        string        `yaml:"type" envconfig:"TYPE"`
	Endpoints   []string      `yaml:"endpoints" envconfig:"ENDPOINTS"`
	Prefix      string        `yaml:"prefix" envconfig:"PREFIX"`
	ServiceName string        `yaml:"service_name" envconfig:"SERVICE_NAME"`
	TTL         time.Duration `yaml:"ttl" envconfig:"TTL"`
	DialTimeout time.Duration `yaml:"dial_timeout" envconfig:"DIAL_TIMEOUT"`
	// Advertise is the address slaves should dial; defaults to the engine address
	Advertise string `yaml:"advertise" envconfig:"ADVERTISE"`
	// Static lists master addresses for the static registry
	Static []string `yaml:"static" envconfig:"STATIC"`
}

// JWTConfig contains JWT configuration
type JWTConfig struct {
	Secret      string `yaml:"secret" envconfig:"SECRET"`
	ExpiryHours int    `yaml:"expiry_hours" envconfig:"EXPIRY_HOURS"`
	Issuer      string `yaml:"issuer" envconfig:"ISSUER"`
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Environment variables have the highest priority
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Discovery.Advertise == "" {
		cfg.Discovery.Advertise = cfg.Engine.Address()
	}
	return cfg, nil
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Mode: "master",
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 8080,
			CORS: CORSConfig{AllowedOrigins: []string{"*"}},
		},
		Engine: EngineConfig{
			Host:                "0.0.0.0",
			Port:                7777,
			TickRate:            30,
			Impl:                "socket",
			PollTimeout:         time.Millisecond,
			WriteTimeout:        5 * time.Second,
			DatagramIdleTimeout: 30 * time.Second,
		},
		Slave: SlaveConfig{
			MasterAddress: "127.0.0.1:7777",
			Transport:     "stream",
			Name:          "slave",
		},
		RateLimit: RateLimitConfig{
			FrameBurst: 64,
		},
		Discovery: DiscoveryConfig{
			Type:        "none",
			Prefix:      "/appserver",
			ServiceName: "appserver",
			TTL:         10 * time.Second,
			DialTimeout: 5 * time.Second,
		},
		Logging: logging.DefaultConfig(),
		JWT: JWTConfig{
			ExpiryHours: 24,
			Issuer:      "appserver",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Mode {
	case "master", "slave", "all":
	default:
		return fmt.Errorf("invalid mode: %q (must be master, slave, or all)", c.Mode)
	}

	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}
	if c.Engine.Port < 0 || c.Engine.Port > 65535 {
		return fmt.Errorf("invalid engine port: %d", c.Engine.Port)
	}
	if c.Engine.TickRate <= 0 {
		return fmt.Errorf("invalid tick rate: %d", c.Engine.TickRate)
	}
	if c.Engine.Impl != "socket" && c.Engine.Impl != "stream" {
		return fmt.Errorf("invalid engine impl: %s (must be socket or stream)", c.Engine.Impl)
	}
	if c.Engine.PollTimeout <= 0 {
		return fmt.Errorf("poll timeout must be positive")
	}

	if c.Mode == "slave" {
		switch c.Slave.Transport {
		case "stream", "datagram":
			if c.Slave.MasterAddress == "" && c.Discovery.Type == "none" {
				return fmt.Errorf("slave needs a master address or discovery")
			}
		case "websocket":
			if c.Slave.WebSocketURL == "" {
				return fmt.Errorf("websocket_url is required for websocket slaves")
			}
		default:
			return fmt.Errorf("invalid slave transport: %s (must be stream, datagram, or websocket)", c.Slave.Transport)
		}
	}

	if c.RateLimit.FramesPerSecond < 0 || c.RateLimit.UpgradesPerMinute < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}

	switch c.Discovery.Type {
	case "none":
	case "static":
		if len(c.Discovery.Static) == 0 && c.Mode == "slave" {
			return fmt.Errorf("static discovery needs at least one address")
		}
	case "etcd":
		if len(c.Discovery.Endpoints) == 0 {
			return fmt.Errorf("etcd discovery needs at least one endpoint")
		}
		if c.Discovery.TTL < time.Second {
			return fmt.Errorf("discovery ttl must be at least 1s")
		}
	default:
		return fmt.Errorf("invalid discovery type: %s (must be none, static, or etcd)", c.Discovery.Type)
	}

	if c.HTTP.RequireAuth && c.JWT.Secret == "" {
		return fmt.Errorf("jwt secret is required when http auth is enabled")
	}
	if c.Crypto.Enabled() && len(strings.TrimSpace(c.Crypto.Secret)) < 8 {
		return fmt.Errorf("crypto secret must be at least 8 characters")
	}
	return nil
}

// Address returns the engine listen address
func (c *EngineConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Address returns the HTTP listen address
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
