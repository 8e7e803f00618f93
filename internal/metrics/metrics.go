package metrics

import (
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudhost_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	chargeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudhost_billing_charge_attempts_total",
			Help: "Recurring charge attempts by outcome.",
		},
		[]string{"outcome"},
	)

	lifecycleOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudhost_bucket_lifecycle_ops_total",
			Help: "Bucket lifecycle operations by kind and outcome.",
		},
		[]string{"op", "outcome"},
	)
)

// InitMetrics registers the collectors. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpRequests, chargeAttempts, lifecycleOps)
	})
}

// Register attaches the Prometheus metrics endpoint to the router.
func Register(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}

// Middleware counts every handled request.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// ObserveCharge records one recurring-charge attempt.
// Outcomes: charged, grace, suspended, skipped, error.
func ObserveCharge(outcome string) {
	chargeAttempts.WithLabelValues(outcome).Inc()
}

// ObserveLifecycle records one bucket lifecycle operation.
func ObserveLifecycle(op, outcome string) {
	lifecycleOps.WithLabelValues(op, outcome).Inc()
}
