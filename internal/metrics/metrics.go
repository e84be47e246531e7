// Package metrics exposes Prometheus instrumentation for the HTTP API and the
// clip pipeline. All methods are safe on a nil *Collector so components can
// be built without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cliplink"

// Stage outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Collector owns a private registry and the service's metric families.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	stageDuration  *prometheus.HistogramVec
	clipsTotal     *prometheus.CounterVec
	clipsInFlight  prometheus.Gauge
	bestEffortFail *prometheus.CounterVec
	uploadsTotal   *prometheus.CounterVec
	serviceInfo    *prometheus.GaugeVec
}

// New creates a Collector and registers every metric with a fresh registry.
func New(version, commit string) *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	c.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	c.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of clip pipeline stages",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage", "outcome"},
	)

	c.clipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clips_total",
			Help:      "Clip pipeline runs by outcome and acquisition strategy",
		},
		[]string{"outcome", "strategy"},
	)

	c.clipsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clips_in_flight",
			Help:      "Clip pipeline runs currently executing",
		},
	)

	c.bestEffortFail = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "best_effort_failures_total",
			Help:      "Non-fatal enrichment failures (thumbnail, probe)",
		},
		[]string{"step"},
	)

	c.uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Processed uploads by whether the transcode succeeded",
		},
		[]string{"transcoded"},
	)

	c.serviceInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_info",
			Help:      "Service information",
		},
		[]string{"version", "commit"},
	)

	c.registry.MustRegister(
		c.httpRequestsTotal,
		c.httpRequestDuration,
		c.stageDuration,
		c.clipsTotal,
		c.clipsInFlight,
		c.bestEffortFail,
		c.uploadsTotal,
		c.serviceInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c.serviceInfo.WithLabelValues(version, commit).Set(1)
	return c
}

// Handler returns the Prometheus exposition handler for this registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveStage records how long a pipeline stage took.
func (c *Collector) ObserveStage(stage string, err error, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage, outcome(err)).Observe(d.Seconds())
}

// ClipFinished counts a completed pipeline run.
func (c *Collector) ClipFinished(strategy string, err error) {
	if c == nil {
		return
	}
	if strategy == "" {
		strategy = "none"
	}
	c.clipsTotal.WithLabelValues(outcome(err), strategy).Inc()
}

// ClipStarted increments the in-flight gauge and returns its decrement.
func (c *Collector) ClipStarted() func() {
	if c == nil {
		return func() {}
	}
	c.clipsInFlight.Inc()
	return c.clipsInFlight.Dec
}

// BestEffortFailed counts a non-fatal enrichment failure.
func (c *Collector) BestEffortFailed(step string) {
	if c == nil {
		return
	}
	c.bestEffortFail.WithLabelValues(step).Inc()
}

// UploadProcessed counts an upload by whether transcoding succeeded.
func (c *Collector) UploadProcessed(transcoded bool) {
	if c == nil {
		return
	}
	c.uploadsTotal.WithLabelValues(strconv.FormatBool(transcoded)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
