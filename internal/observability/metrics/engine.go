package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reglens/reglens/internal/core/domain"
)

// EngineMetrics holds every series the engine exports: HTTP server metrics
// plus pipeline observations taken from response diagnostics, so the
// use case layer stays free of metrics plumbing.
type EngineMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	searchTotal        *prometheus.CounterVec
	searchDuration     *prometheus.HistogramVec
	searchResults      *prometheus.HistogramVec
	stageDuration      *prometheus.HistogramVec
	stageDegradedTotal *prometheus.CounterVec
	strategyUsedTotal  *prometheus.CounterVec
	cacheHitTotal      *prometheus.CounterVec
	cacheMissTotal     *prometheus.CounterVec
	invalidationTotal  *prometheus.CounterVec
	invalidatedEntries *prometheus.CounterVec
}

func NewEngineMetrics(service string) *EngineMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reglens",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reglens",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reglens",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	searchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reglens",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total search requests by outcome.",
		},
		[]string{"service", "outcome"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reglens",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "End-to-end search duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 3, 5},
		},
		[]string{"service"},
	)
	searchResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reglens",
			Subsystem: "search",
			Name:      "results",
			Help:      "Distribution of returned results per search.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10, 15, 20},
		},
		[]string{"service"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reglens",
			Subsystem: "search",
			Name:      "stage_duration_seconds",
			Help:      "Per-stage pipeline latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"service", "stage"},
	)
	stageDegradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reglens",
			Subsystem: "search",
			Name:      "stage_degraded_total",
			Help:      "Total searches in which a stage was skipped or truncated.",
		},
		[]string{"service", "stage"},
	)
	strategyUsedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reglens",
			Subsystem: "search",
			Name:      "strategy_used_total",
			Help:      "Total searches that got candidates from a retrieval strategy.",
		},
		[]string{"service", "strategy"},
	)
	cacheHitTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reglens",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total cache hits by tier.",
		},
		[]string{"service", "tier"},
	)
	cacheMissTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reglens",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total cache misses by tier.",
		},
		[]string{"service", "tier"},
	)
	invalidationTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reglens",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Total document-update invalidation events handled.",
		},
		[]string{"service"},
	)
	invalidatedEntries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reglens",
			Subsystem: "cache",
			Name:      "invalidated_entries_total",
			Help:      "Total cache entries dropped by document invalidation.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		searchTotal,
		searchDuration,
		searchResults,
		stageDuration,
		stageDegradedTotal,
		strategyUsedTotal,
		cacheHitTotal,
		cacheMissTotal,
		invalidationTotal,
		invalidatedEntries,
	)

	return &EngineMetrics{
		registry:           registry,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		searchTotal:        searchTotal,
		searchDuration:     searchDuration,
		searchResults:      searchResults,
		stageDuration:      stageDuration,
		stageDegradedTotal: stageDegradedTotal,
		strategyUsedTotal:  strategyUsedTotal,
		cacheHitTotal:      cacheHitTotal,
		cacheMissTotal:     cacheMissTotal,
		invalidationTotal:  invalidationTotal,
		invalidatedEntries: invalidatedEntries,
	}
}

func (m *EngineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *EngineMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			r.URL.Path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// RecordSearch translates one response's diagnostics into series. Outcome
// precedence: partial beats degraded beats ok.
func (m *EngineMetrics) RecordSearch(service string, response *domain.SearchResponse, duration time.Duration) {
	if response == nil {
		return
	}
	diag := response.Diagnostics

	outcome := "ok"
	switch {
	case diag.Partial:
		outcome = "partial"
	case len(diag.DegradedStages) > 0:
		outcome = "degraded"
	}
	m.searchTotal.WithLabelValues(service, outcome).Inc()
	m.searchDuration.WithLabelValues(service).Observe(duration.Seconds())
	m.searchResults.WithLabelValues(service).Observe(float64(len(response.Results)))

	for stage, latencyMs := range diag.StageLatenciesMs {
		m.stageDuration.WithLabelValues(service, stage).Observe(latencyMs / 1000.0)
	}
	for _, stage := range diag.DegradedStages {
		m.stageDegradedTotal.WithLabelValues(service, stage).Inc()
	}
	for _, strategy := range diag.StrategiesUsed {
		m.strategyUsedTotal.WithLabelValues(service, strategy).Inc()
	}

	hit := make(map[string]bool, len(diag.CacheHits))
	for _, tier := range diag.CacheHits {
		hit[tier] = true
		m.cacheHitTotal.WithLabelValues(service, tier).Inc()
	}
	// A final-tier hit short-circuits the pipeline, so the earlier tiers
	// were never consulted and count neither way.
	if !hit[domain.StageCompliance] {
		for _, tier := range []string{domain.StageRetrieval, domain.StageFusion, domain.StageCompliance} {
			if !hit[tier] {
				m.cacheMissTotal.WithLabelValues(service, tier).Inc()
			}
		}
	}
}

func (m *EngineMetrics) RecordInvalidQuery(service string) {
	m.searchTotal.WithLabelValues(service, "invalid").Inc()
}

func (m *EngineMetrics) RecordInvalidation(service string, entriesRemoved int) {
	m.invalidationTotal.WithLabelValues(service).Inc()
	m.invalidatedEntries.WithLabelValues(service).Add(float64(entriesRemoved))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
