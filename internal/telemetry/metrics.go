// Package telemetry provides application-level observability for the Orion console.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and served
// on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<ORION_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router, so it is
// never exposed on the operator-facing listener.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - PDS admin API calls by operation and outcome
//   - Administrative actions executed against accounts
//   - Audit records written, by event kind
//   - Login attempts
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (e.g. /accounts/:did/:action/) rather than the
// raw request URL so DIDs never become label values.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Request rate:     rate(http_requests_total[5m])
//   - p99 per route:    histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// PDS client metrics.
//
// PDSRequestsTotal is labelled {operation, outcome} where outcome is one of
// "ok", "status" (non-2xx response), "transport" (request never completed) or
// "decode" (unparseable body).
//
// Example PromQL queries:
//   - Failure ratio:  sum(rate(orion_pds_requests_total{outcome!="ok"}[5m])) / sum(rate(orion_pds_requests_total[5m]))
var (
	PDSRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orion_pds_requests_total",
			Help: "Total number of PDS API requests, by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	PDSRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orion_pds_request_duration_seconds",
			Help:    "Latency of PDS API requests, by operation.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)
)

// Account administration metrics.
//
// AccountActionsTotal is labelled {action, result}; result is "succeeded" or
// "failed" according to the remote call, independent of the audit record
// which is written either way.
var AccountActionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orion_account_actions_total",
		Help: "Total number of administrative actions executed, by action and remote result.",
	},
	[]string{"action", "result"},
)

// AuditRecordsTotal counts durable audit records by event kind.
var AuditRecordsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orion_audit_records_total",
		Help: "Total number of audit records written, by event kind.",
	},
	[]string{"event"},
)

// LoginAttemptsTotal counts login form submissions by result
// ("success", "invalid_credentials", "rate_limited").
var LoginAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orion_login_attempts_total",
		Help: "Total number of operator login attempts, by result.",
	},
	[]string{"result"},
)

// DBOpenConnections tracks open connections held by the sql.DB pool, sampled
// by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples sql.DB pool statistics every 30 seconds until
// ctx is cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
