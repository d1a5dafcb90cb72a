package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-appserver/internal/engine"
	"github.com/sirosfoundation/go-appserver/pkg/middleware"
)

// EngineOptions configures the engine routes
type EngineOptions struct {
	// Path is the websocket endpoint, default /ws
	Path string
	// JWTSecret, when set, requires a bearer token on upgrades
	JWTSecret string
	JWTIssuer string
	// UpgradesPerMinute limits upgrades per client IP (0 = unlimited)
	UpgradesPerMinute int
}

// EngineProvider upgrades websocket requests into engine connections and
// exposes the engine's metrics registry.
type EngineProvider struct {
	srv     *engine.Server
	opts    EngineOptions
	logger  *zap.Logger
	limiter *middleware.UpgradeLimiter
	gather  prometheus.Gatherer
}

// NewEngineProvider creates the websocket/metrics route provider
func NewEngineProvider(srv *engine.Server, opts EngineOptions, logger *zap.Logger) *EngineProvider {
	if opts.Path == "" {
		opts.Path = "/ws"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	return &EngineProvider{
		srv:     srv,
		opts:    opts,
		logger:  logger.Named("ws"),
		limiter: middleware.NewUpgradeLimiter(opts.UpgradesPerMinute, logger),
		gather:  prometheus.Gatherers{srv.Metrics(), reg},
	}
}

func (p *EngineProvider) Name() string { return "engine" }

func (p *EngineProvider) RegisterRoutes(router *gin.Engine) {
	handlers := []gin.HandlerFunc{p.limiter.Middleware()}
	if p.opts.JWTSecret != "" {
		handlers = append(handlers, middleware.BearerAuth(p.opts.JWTSecret, p.opts.JWTIssuer, p.logger))
	}
	handlers = append(handlers, p.upgrade)
	router.GET(p.opts.Path, handlers...)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(p.gather, promhttp.HandlerOpts{})))
}

func (p *EngineProvider) upgrade(c *gin.Context) {
	if !p.srv.Running() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine not running"})
		return
	}

	var opts []engine.ClientOption
	if subject := c.GetString(middleware.SubjectKey); subject != "" {
		opts = append(opts, engine.WithValue(middleware.SubjectKey, subject))
	}

	client, err := p.srv.UpgradeWebSocket(c.Writer, c.Request, opts...)
	if err != nil {
		p.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	p.logger.Debug("WebSocket connection established",
		zap.String("conn_id", client.ID.String()),
		zap.String("client_ip", c.ClientIP()))
}
