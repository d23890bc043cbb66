package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NikhilSetiya/textbook-assistant/pkg/resilience"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Upstream metrics
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec

	// Resilience metrics
	CircuitState       *prometheus.GaugeVec
	CircuitTransitions *prometheus.CounterVec
	QueueLength        *prometheus.GaugeVec
	RetriesTotal       *prometheus.CounterVec
	FallbacksTotal     *prometheus.CounterVec

	// Cache metrics
	CacheHitRatio *prometheus.GaugeVec
	CacheSize     *prometheus.GaugeVec

	// Validation metrics
	ValidationIssues *prometheus.CounterVec
	AccuracyScore    prometheus.Histogram

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`

	// Registry defaults to the global Prometheus registry
	Registry *prometheus.Registry `json:"-"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "textbook_assistant",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics. A disabled
// config yields a Metrics whose recorders are no-ops.
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
			[]string{"method", "path"},
		),

		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "upstream_requests_total",
				Help:      "Total number of calls to the answering service",
			},
			[]string{"operation", "status"},
		),
		UpstreamRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "upstream_request_duration_seconds",
				Help:      "Duration of calls to the answering service in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"operation", "status"},
		),

		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_state",
				Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"circuit"},
		),
		CircuitTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_transitions_total",
				Help:      "Total number of circuit breaker state changes",
			},
			[]string{"circuit", "from", "to"},
		),
		QueueLength: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "queue_length",
				Help:      "Requests waiting for the circuit to close",
			},
			[]string{"circuit"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "retries_total",
				Help:      "Total number of retried attempts",
			},
			[]string{"circuit", "error_type"},
		),
		FallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "fallback_responses_total",
				Help:      "Total number of degraded answers served",
			},
			[]string{"kind"},
		),

		CacheHitRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cache_hit_ratio",
				Help:      "Cache hit ratio",
			},
			[]string{"cache"},
		),
		CacheSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cache_entries",
				Help:      "Number of cached answers",
			},
			[]string{"cache"},
		),

		ValidationIssues: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "validation_issues_total",
				Help:      "Total number of issues reported by the validators",
			},
			[]string{"validator", "kind", "severity"},
		),
		AccuracyScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "answer_accuracy_score",
				Help:      "Heuristic accuracy score of delivered answers",
				Buckets:   prometheus.LinearBuckets(10, 10, 10),
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"component", "error_type"},
		),
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	m.gatherer = prometheus.DefaultGatherer
	if config.Registry != nil {
		registerer = config.Registry
		m.gatherer = config.Registry
	}

	registerer.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.UpstreamRequestsTotal,
		m.UpstreamRequestDuration,
		m.CircuitState,
		m.CircuitTransitions,
		m.QueueLength,
		m.RetriesTotal,
		m.FallbacksTotal,
		m.CacheHitRatio,
		m.CacheSize,
		m.ValidationIssues,
		m.AccuracyScore,
		m.ErrorsTotal,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordUpstreamRequest records one completed call to the answering service
func (m *Metrics) RecordUpstreamRequest(operation string, success bool, duration time.Duration) {
	if m.UpstreamRequestsTotal == nil {
		return
	}

	status := "success"
	if !success {
		status = "failure"
	}
	m.UpstreamRequestsTotal.WithLabelValues(operation, status).Inc()
	m.UpstreamRequestDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// RecordCircuitTransition matches resilience.CircuitBreakerConfig.OnStateChange
func (m *Metrics) RecordCircuitTransition(name string, from, to resilience.CircuitState) {
	if m.CircuitTransitions == nil {
		return
	}

	m.CircuitTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
	m.CircuitState.WithLabelValues(name).Set(float64(to))
}

// RecordRetry counts one retried attempt
func (m *Metrics) RecordRetry(circuit, errorType string) {
	if m.RetriesTotal == nil {
		return
	}

	m.RetriesTotal.WithLabelValues(circuit, errorType).Inc()
}

// RecordFallback counts one degraded answer
func (m *Metrics) RecordFallback(kind string) {
	if m.FallbacksTotal == nil {
		return
	}

	m.FallbacksTotal.WithLabelValues(kind).Inc()
}

// RecordValidationIssue counts one finding of the named validator
func (m *Metrics) RecordValidationIssue(validator, kind, severity string) {
	if m.ValidationIssues == nil {
		return
	}

	m.ValidationIssues.WithLabelValues(validator, kind, severity).Inc()
}

// RecordAccuracyScore observes the quality score of a delivered answer
func (m *Metrics) RecordAccuracyScore(score int) {
	if m.AccuracyScore == nil {
		return
	}

	m.AccuracyScore.Observe(float64(score))
}

// UpdateCircuitStatus mirrors a breaker snapshot into the gauges
func (m *Metrics) UpdateCircuitStatus(status resilience.CircuitStatus) {
	if m.CircuitState == nil {
		return
	}

	m.CircuitState.WithLabelValues(status.Name).Set(float64(status.State))
	m.QueueLength.WithLabelValues(status.Name).Set(float64(status.QueueLength))
}

// UpdateCacheStats mirrors cache statistics into the gauges
func (m *Metrics) UpdateCacheStats(cache string, stats resilience.CacheStats) {
	if m.CacheHitRatio == nil {
		return
	}

	m.CacheHitRatio.WithLabelValues(cache).Set(stats.HitRate)
	m.CacheSize.WithLabelValues(cache).Set(float64(stats.Size))
}

// RecordError records error metrics
func (m *Metrics) RecordError(component, errorType string) {
	if m.ErrorsTotal == nil {
		return
	}

	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, path).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, path).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ExecutorSource is what the collector samples from each executor
type ExecutorSource interface {
	Status() resilience.CircuitStatus
	CacheStats() resilience.CacheStats
}

// MetricsCollector samples executor state periodically
type MetricsCollector struct {
	metrics  *Metrics
	interval time.Duration
	sources  []ExecutorSource
	stopCh   chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(metrics *Metrics, interval time.Duration, sources ...ExecutorSource) *MetricsCollector {
	return &MetricsCollector{
		metrics:  metrics,
		interval: interval,
		sources:  sources,
		stopCh:   make(chan struct{}),
	}
}

// Start begins metrics collection and blocks until ctx is done or Stop is called
func (mc *MetricsCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collectMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-mc.stopCh:
			return
		case <-ticker.C:
			mc.collectMetrics()
		}
	}
}

// Stop stops metrics collection
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
}

func (mc *MetricsCollector) collectMetrics() {
	for _, src := range mc.sources {
		status := src.Status()
		mc.metrics.UpdateCircuitStatus(status)
		mc.metrics.UpdateCacheStats(status.Name, src.CacheStats())
	}
}
