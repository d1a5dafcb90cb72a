package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-appserver/internal/engine"
	"github.com/sirosfoundation/go-appserver/pkg/config"
	"github.com/sirosfoundation/go-appserver/pkg/middleware"
)

// RouteProvider allows modes to register their routes on the shared router.
type RouteProvider interface {
	// RegisterRoutes adds this provider's routes to the router.
	RegisterRoutes(router *gin.Engine)

	// Name returns the provider name for logging
	Name() string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address string
	Port    int

	CORS         config.CORSConfig
	LoggingLevel string

	// Mode is reported by /status
	Mode string
	// Engine, when set, feeds connection and service counts into /status
	Engine *engine.Server
}

// StatusResponse is the body of /health and /status
type StatusResponse struct {
	Status      string   `json:"status"`
	Service     string   `json:"service"`
	Mode        string   `json:"mode"`
	Running     bool     `json:"running"`
	Connections int      `json:"connections"`
	Services    []string `json:"services,omitempty"`
}

// Manager manages the HTTP server and combines RouteProviders
type Manager struct {
	cfg    *ServerConfig
	logger *zap.Logger

	providers []RouteProvider

	listener   net.Listener
	httpServer *http.Server
	router     *gin.Engine
}

// NewManager creates a new server manager
func NewManager(cfg *ServerConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.Named("http"),
	}
}

// AddProvider adds a RouteProvider. Call this before Start.
func (m *Manager) AddProvider(p RouteProvider) {
	m.providers = append(m.providers, p)
	m.logger.Debug("Added route provider", zap.String("name", p.Name()))
}

// Handler builds the router without listening. Start calls it.
func (m *Manager) Handler() http.Handler {
	if m.router != nil {
		return m.router
	}
	if m.cfg.LoggingLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	m.router = m.buildRouter()
	for _, p := range m.providers {
		m.logger.Info("Registering routes", zap.String("provider", p.Name()))
		p.RegisterRoutes(m.router)
	}
	m.addStatusEndpoints(m.router)
	return m.router
}

// Start binds the listen address and serves in the background.
func (m *Manager) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Address, m.cfg.Port)
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	m.listener = ln

	m.httpServer = &http.Server{
		Handler:     m.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		m.logger.Info("HTTP server listening", zap.String("address", ln.Addr().String()))
		if err := m.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address once started.
func (m *Manager) Addr() net.Addr {
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Shutdown gracefully shuts the server down and closes closable providers.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs error
	if m.httpServer != nil {
		if err := m.httpServer.Shutdown(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}
	}
	for _, p := range m.providers {
		if c, ok := p.(interface{ Close() error }); ok {
			errs = multierr.Append(errs, c.Close())
		}
	}
	return errs
}

// buildRouter creates a new router with common middleware
func (m *Manager) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(m.logger))

	origins := m.cfg.CORS.AllowedOrigins
	corsCfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "Upgrade", "Connection"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
	}
	router.Use(cors.New(corsCfg))
	return router
}

func (m *Manager) status() StatusResponse {
	resp := StatusResponse{
		Status:  "ok",
		Service: "appserver",
		Mode:    m.cfg.Mode,
	}
	if srv := m.cfg.Engine; srv != nil {
		resp.Running = srv.Running()
		resp.Connections = len(srv.Clients())
		resp.Services = srv.ServiceNames()
	}
	return resp
}

// addStatusEndpoints adds /health and /status routes
func (m *Manager) addStatusEndpoints(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", func(c *gin.Context) {
		resp := m.status()
		code := http.StatusOK
		if m.cfg.Engine != nil && !resp.Running {
			resp.Status = "stopped"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	})
}
