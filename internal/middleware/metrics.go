// Package middleware provides the Gin middleware of the console: request IDs,
// Prometheus instrumentation, security headers, rate limiting and session
// authentication. Ordering is set in internal/api/router.go:
//
//	Recovery → RequestID → Metrics → Logger → Security → RateLimit → Session → Handler
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orion-pds/orion/internal/telemetry"
)

// MetricsMiddleware records http_requests_total and http_request_duration_seconds
// for every request. The path label is the matched route template
// (/accounts/:did/:action/), never the raw URL, so DIDs do not become label
// values. Unmatched requests are labelled "<no-route>".
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
