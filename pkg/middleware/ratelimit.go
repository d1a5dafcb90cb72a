package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// UpgradeLimiter limits websocket upgrade attempts per client IP.
type UpgradeLimiter struct {
	perMinute int
	logger    *zap.Logger

	mu       sync.Mutex
	limiters map[string]*ipLimiter

	idleAfter       time.Duration
	cleanupInterval time.Duration
	lastCleanup     time.Time
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewUpgradeLimiter allows perMinute upgrades per IP; 0 disables limiting.
func NewUpgradeLimiter(perMinute int, logger *zap.Logger) *UpgradeLimiter {
	return &UpgradeLimiter{
		perMinute:       perMinute,
		logger:          logger.Named("upgrade-ratelimit"),
		limiters:        make(map[string]*ipLimiter),
		idleAfter:       30 * time.Minute,
		cleanupInterval: 10 * time.Minute,
		lastCleanup:     time.Now(),
	}
}

// Enabled reports whether limiting is active
func (u *UpgradeLimiter) Enabled() bool { return u.perMinute > 0 }

func (u *UpgradeLimiter) getLimiter(ip string) *rate.Limiter {
	u.mu.Lock()
	defer u.mu.Unlock()

	if time.Since(u.lastCleanup) > u.cleanupInterval {
		u.cleanup()
	}

	if l, ok := u.limiters[ip]; ok {
		l.lastSeen = time.Now()
		return l.limiter
	}

	burst := max(u.perMinute/4, 1)
	l := &ipLimiter{
		limiter:  rate.NewLimiter(rate.Limit(float64(u.perMinute)/60.0), burst),
		lastSeen: time.Now(),
	}
	u.limiters[ip] = l
	return l.limiter
}

// cleanup drops limiters that have been idle; callers hold mu.
func (u *UpgradeLimiter) cleanup() {
	cutoff := time.Now().Add(-u.idleAfter)
	for key, l := range u.limiters {
		if l.lastSeen.Before(cutoff) {
			delete(u.limiters, key)
		}
	}
	u.lastCleanup = time.Now()
}

// Allow reports whether ip may upgrade now.
func (u *UpgradeLimiter) Allow(ip string) bool {
	if !u.Enabled() {
		return true
	}
	if u.getLimiter(ip).Allow() {
		return true
	}
	u.logger.Warn("Upgrade rate limit exceeded", zap.String("client_ip", ip))
	return false
}

// Tracked is the number of IPs currently holding a limiter.
func (u *UpgradeLimiter) Tracked() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.limiters)
}

// Middleware rejects requests from IPs over their upgrade budget.
func (u *UpgradeLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !u.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many connection attempts. Please try again later.",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
