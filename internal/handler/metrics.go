package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmerrifield20/kiosktrust/internal/ledger"
	"github.com/jmerrifield20/kiosktrust/internal/ratelimit"
)

var (
	kioskRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	kioskRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kiosk_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	kioskLedgerAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_ledger_appends_total",
		Help: "Ledger append attempts by chain kind and result.",
	}, []string{"chain", "result"})

	kioskRateLimitDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_ratelimit_decisions_total",
		Help: "Rate limit decisions by scope and outcome (allowed, denied, degraded).",
	}, []string{"scope", "outcome"})

	kioskOTPEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_otp_events_total",
		Help: "OTP lifecycle events.",
	}, []string{"event"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		kioskRequestsTotal.WithLabelValues(method, path, status).Inc()
		kioskRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordLedgerAppend records a ledger append attempt. Chain keys are
// collapsed to their kind so per-subject keys do not explode cardinality.
func RecordLedgerAppend(chainKey string, _ ledger.ActionKind, err error) {
	chain := "transaction"
	if chainKey == ledger.AuditChainKey {
		chain = "audit"
	}
	result := "success"
	switch {
	case err == nil:
	case ledger.IsRetryable(err):
		result = "conflict"
	default:
		result = "failure"
	}
	kioskLedgerAppendsTotal.WithLabelValues(chain, result).Inc()
}

// RecordRateLimit records a rate limit decision.
func RecordRateLimit(scope string, res ratelimit.Result) {
	outcome := "allowed"
	switch {
	case res.Degraded:
		outcome = "degraded"
	case !res.Allowed:
		outcome = "denied"
	}
	kioskRateLimitDecisionsTotal.WithLabelValues(scope, outcome).Inc()
}

// RecordOTPEvent records an OTP lifecycle event.
func RecordOTPEvent(event string) {
	kioskOTPEventsTotal.WithLabelValues(event).Inc()
}
