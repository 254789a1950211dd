// Package metrics exposes Prometheus instrumentation for the BotArmy server.
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
	// HTTPRequests counts handled requests by method, route and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botarmy",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed.",
	}, []string{"method", "path", "status"})

	// HTTPDuration observes request latency by route.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "botarmy",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// LLMRequests counts LLM calls by provider and outcome.
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botarmy",
		Name:      "llm_requests_total",
		Help:      "Total LLM API calls.",
	}, []string{"provider", "status"})

	// LLMTokens counts total tokens consumed across all LLM calls.
	LLMTokens = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "botarmy",
		Name:      "llm_tokens_total",
		Help:      "Total LLM tokens consumed.",
	})

	// SSESubscribers tracks currently connected event-stream clients.
	SSESubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "botarmy",
		Name:      "sse_subscribers",
		Help:      "Currently connected SSE subscribers.",
	})

	// PendingMessages tracks the agent message queue depth.
	PendingMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "botarmy",
		Name:      "queue_pending_messages",
		Help:      "Messages waiting in the agent queue.",
	})
)

// Middleware records request counts and latency per route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
