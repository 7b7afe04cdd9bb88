package middlewares

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)

	issuesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civic_issues_created_total",
			Help: "Issues created, by category",
		},
		[]string{"category"},
	)

	issueStatusChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civic_issue_status_changes_total",
			Help: "Status updates applied, by target status",
		},
		[]string{"status"},
	)
)

// Metrics records request counts and latencies per route pattern.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, endpoint, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

func RecordIssueCreated(category string) {
	issuesCreatedTotal.WithLabelValues(category).Inc()
}

func RecordStatusChange(status string) {
	issueStatusChangesTotal.WithLabelValues(status).Inc()
}
