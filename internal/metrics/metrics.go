// Package metrics provides Prometheus instrumentation for the agentchat service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentchat",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentchat",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// MessagesTotal counts accepted chat messages by sender tier.
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentchat",
			Name:      "messages_total",
			Help:      "Total chat messages accepted by sender tier.",
		},
		[]string{"tier"},
	)

	// MessagesRejectedTotal counts rejected messages by reason.
	MessagesRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentchat",
			Name:      "messages_rejected_total",
			Help:      "Total rejected messages by reason (injection, banned, rate_limited, invalid).",
		},
		[]string{"reason"},
	)

	// KeysIssuedTotal counts issued API keys by tier.
	KeysIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentchat",
			Name:      "keys_issued_total",
			Help:      "Total API keys issued by tier.",
		},
		[]string{"tier"},
	)

	// PaymentVerificationsTotal counts payment verification attempts by rail and result.
	PaymentVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentchat",
			Name:      "payment_verifications_total",
			Help:      "Total payment verification attempts by rail and result.",
		},
		[]string{"rail", "result"},
	)

	// BansTotal counts moderation bans issued.
	BansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agentchat",
			Name:      "bans_total",
			Help:      "Total bans issued by moderators.",
		},
	)

	// ActiveSubscribers tracks connected realtime subscribers.
	ActiveSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agentchat",
			Name:      "active_subscribers",
			Help:      "Number of currently connected realtime subscribers.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentchat", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentchat", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentchat", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentchat", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		MessagesTotal,
		MessagesRejectedTotal,
		KeysIssuedTotal,
		PaymentVerificationsTotal,
		BansTotal,
		ActiveSubscribers,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the /metrics endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups status codes to keep label cardinality low.
func statusBucket(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
