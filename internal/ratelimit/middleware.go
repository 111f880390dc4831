package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// MiddlewareConfig configures Middleware.
type MiddlewareConfig struct {
	Limit  int
	Window time.Duration
	// ExemptPaths are never counted (health and metrics endpoints).
	ExemptPaths []string
}

// Middleware returns a Gin middleware that admits requests through l.
// Every counted response carries X-RateLimit-Limit, X-RateLimit-Remaining
// and X-RateLimit-Reset. Denials get 429 and Retry-After; fail-open
// admissions get X-RateLimit-Status: degraded.
func Middleware(l *Limiter, cfg MiddlewareConfig) gin.HandlerFunc {
	exempt := make(map[string]struct{}, len(cfg.ExemptPaths))
	for _, p := range cfg.ExemptPaths {
		exempt[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := exempt[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		key := KeyFor(c.GetHeader("Authorization"), c.ClientIP())
		res := l.AllowScoped(c.Request.Context(), "http", key, cfg.Limit, cfg.Window)

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(seconds(res.ResetAfter)))
		if res.Degraded {
			c.Header("X-RateLimit-Status", "degraded")
		}

		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(max(seconds(res.RetryAfter), 1)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// seconds rounds d up to whole seconds.
func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
