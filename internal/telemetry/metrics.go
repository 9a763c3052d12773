package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "botdeploy"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry             *prometheus.Registry
	httpRequests         *prometheus.CounterVec
	httpDuration         *prometheus.HistogramVec
	provisionings        *prometheus.CounterVec
	provisioningDuration *prometheus.HistogramVec
	postings             *prometheus.CounterVec
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "route"}),
		provisionings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "provisioning",
			Name:      "attempts_total",
			Help:      "Provisioning attempts by outcome.",
		}, []string{"outcome"}),
		provisioningDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "provisioning",
			Name:      "duration_seconds",
			Help:      "Duration of provisioning attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"outcome"}),
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ledger",
			Name:      "postings_total",
			Help:      "Ledger postings by operation and status.",
		}, []string{"operation", "status"}),
	}
	metrics.registry.MustRegister(
		metrics.httpRequests,
		metrics.httpDuration,
		metrics.provisionings,
		metrics.provisioningDuration,
		metrics.postings,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return metrics
}

// Registry exposes the underlying registry.
func (metrics *Metrics) Registry() *prometheus.Registry {
	return metrics.registry
}

// Handler serves the registry in the exposition format.
func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}

// ObserveProvisioning implements deployment.Recorder.
func (metrics *Metrics) ObserveProvisioning(outcome string, duration time.Duration) {
	metrics.provisionings.WithLabelValues(outcome).Inc()
	metrics.provisioningDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObservePosting counts a ledger posting.
func (metrics *Metrics) ObservePosting(operation string, status string) {
	metrics.postings.WithLabelValues(operation, status).Inc()
}

// GinMiddleware records request counts and latencies by matched route.
func (metrics *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		startedAt := time.Now()
		ctx.Next()
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := ctx.Request.Method
		metrics.httpRequests.WithLabelValues(method, route, strconv.Itoa(ctx.Writer.Status())).Inc()
		metrics.httpDuration.WithLabelValues(method, route).Observe(time.Since(startedAt).Seconds())
	}
}
