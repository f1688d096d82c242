// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests processed",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// VerificationCodes counts code requests and checks by outcome.
	VerificationCodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verification_codes_total",
		Help: "Verification code operations by action and outcome",
	}, []string{"action", "outcome"})

	MeetingRegistrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_registrations_total",
		Help: "Meeting registration attempts by requested status and outcome",
	}, []string{"status", "outcome"})

	SMSSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sms_sent_total",
		Help: "SMS dispatches by provider and outcome",
	}, []string{"provider", "outcome"})

	ExternalCalls = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "external_call_duration_seconds",
		Help:    "Duration of calls to external providers in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"target", "operation"})

	CleanupDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cleanup_deleted_rows_total",
		Help: "Rows removed by scheduled cleanup jobs",
	}, []string{"table"})
)

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// Middleware records request count and latency per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// ObserveExternal records how long a call to target took.
func ObserveExternal(target, operation string, start time.Time) {
	ExternalCalls.WithLabelValues(target, operation).Observe(time.Since(start).Seconds())
}

func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
