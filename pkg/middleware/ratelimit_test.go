package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestUpgradeLimiter_Allow(t *testing.T) {
	tests := []struct {
		name        string
		perMinute   int
		requests    int
		wantAllowed int
	}{
		{"burst is a quarter of the budget", 40, 20, 10},
		{"tiny budget still allows one", 2, 5, 1},
		{"disabled allows everything", 0, 50, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := NewUpgradeLimiter(tt.perMinute, zap.NewNop())
			allowed := 0
			for i := 0; i < tt.requests; i++ {
				if u.Allow("10.0.0.1") {
					allowed++
				}
			}
			assert.Equal(t, tt.wantAllowed, allowed)
		})
	}
}

func TestUpgradeLimiter_PerIP(t *testing.T) {
	u := NewUpgradeLimiter(4, zap.NewNop())
	assert.True(t, u.Allow("10.0.0.1"))
	assert.False(t, u.Allow("10.0.0.1"))
	assert.True(t, u.Allow("10.0.0.2"), "other IPs have their own bucket")
	assert.Equal(t, 2, u.Tracked())
}

func TestUpgradeLimiter_Cleanup(t *testing.T) {
	u := NewUpgradeLimiter(60, zap.NewNop())
	u.Allow("10.0.0.1")
	u.Allow("10.0.0.2")

	u.mu.Lock()
	u.limiters["10.0.0.1"].lastSeen = time.Now().Add(-time.Hour)
	u.lastCleanup = time.Now().Add(-time.Hour)
	u.mu.Unlock()

	u.Allow("10.0.0.3")
	assert.Equal(t, 2, u.Tracked())
}

func TestUpgradeLimiter_Middleware(t *testing.T) {
	u := NewUpgradeLimiter(4, zap.NewNop())
	router := gin.New()
	router.GET("/ws", u.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}
