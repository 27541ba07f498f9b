// Package metrics collects Prometheus metrics for the publish pipeline and
// exposes them over HTTP.
//
// Every Record method is safe on a nil *Collector, so components can run
// without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	quotes      *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
	uploadOps   *prometheus.CounterVec

	workerEvents    *prometheus.CounterVec
	arweaveAttempts *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	jobsExpired     prometheus.Counter
}

// NewCollector registers all metrics on a private registry together with
// the Go runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mintydoc_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mintydoc_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mintydoc_reservation_quotes_total",
			Help: "Reservation quotes handed out, new or re-issued",
		}, []string{"kind"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mintydoc_rate_limited_total",
			Help: "Requests rejected by rate limiting",
		}, []string{"code"}),
		uploadOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mintydoc_upload_operations_total",
			Help: "Multipart upload operations by outcome",
		}, []string{"op", "result"}),
		workerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mintydoc_worker_events_total",
			Help: "Finalization worker events",
		}, []string{"event"}),
		arweaveAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mintydoc_arweave_upload_attempts_total",
			Help: "Arweave upload attempts by result",
		}, []string{"result"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mintydoc_worker_queue_depth",
			Help: "Reservations queued or in flight",
		}),
		jobsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mintydoc_jobs_expired_total",
			Help: "Jobs moved to expired by the sweeper",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.httpRequests, c.httpLatency,
		c.quotes, c.rateLimited, c.uploadOps,
		c.workerEvents, c.arweaveAttempts, c.queueDepth, c.jobsExpired,
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) RecordHTTP(route string, code int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	c.httpLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RecordQuote counts a quote; kind is "new" or "reissued".
func (c *Collector) RecordQuote(kind string) {
	if c == nil {
		return
	}
	c.quotes.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordRateLimited(code string) {
	if c == nil {
		return
	}
	c.rateLimited.WithLabelValues(code).Inc()
}

func (c *Collector) RecordUploadOp(op string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.uploadOps.WithLabelValues(op, result).Inc()
}

// RecordWorker counts a worker event such as enqueued, duplicate, skipped,
// finalized or failed.
func (c *Collector) RecordWorker(event string) {
	if c == nil {
		return
	}
	c.workerEvents.WithLabelValues(event).Inc()
}

func (c *Collector) RecordArweaveAttempt(err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.arweaveAttempts.WithLabelValues(result).Inc()
}

func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}

func (c *Collector) RecordExpired(n int) {
	if c == nil {
		return
	}
	c.jobsExpired.Add(float64(n))
}
