package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the streaming server.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
	sessionsCreated   prometheus.Counter
	activeSessions    prometheus.Gauge
	cacheHitsTotal    prometheus.Counter
	cacheMissesTotal  prometheus.Counter
	transcodeRuns     prometheus.Counter
	transcodeFailures prometheus.Counter
	wsMessagesTotal   prometheus.Counter
}

// New creates and registers Prometheus metrics for the streaming server.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	sessionsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_sessions_created_total",
		Help: "Total number of playback sessions created",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stream_active_sessions",
		Help: "Number of playback sessions currently alive",
	})
	cacheHitsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_segment_cache_hits_total",
		Help: "Total number of segment requests served from the cache",
	})
	cacheMissesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_segment_cache_misses_total",
		Help: "Total number of segment requests that required a transcode",
	})
	transcodeRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_transcode_runs_total",
		Help: "Total number of transcoder batch invocations",
	})
	transcodeFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_transcode_failures_total",
		Help: "Total number of failed transcoder invocations",
	})
	wsMessagesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_ws_messages_total",
		Help: "Total number of inbound viewer websocket messages handled",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		sessionsCreated,
		activeSessions,
		cacheHitsTotal,
		cacheMissesTotal,
		transcodeRuns,
		transcodeFailures,
		wsMessagesTotal,
	)

	return &Metrics{
		registry:          registry,
		requestsTotal:     requestsTotal,
		errorsTotal:       errorsTotal,
		sessionsCreated:   sessionsCreated,
		activeSessions:    activeSessions,
		cacheHitsTotal:    cacheHitsTotal,
		cacheMissesTotal:  cacheMissesTotal,
		transcodeRuns:     transcodeRuns,
		transcodeFailures: transcodeFailures,
		wsMessagesTotal:   wsMessagesTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncSessionsCreated increments the created-sessions counter.
func (m *Metrics) IncSessionsCreated() {
	m.sessionsCreated.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// IncCacheHits increments the segment cache hit counter.
func (m *Metrics) IncCacheHits() {
	m.cacheHitsTotal.Inc()
}

// IncCacheMisses increments the segment cache miss counter.
func (m *Metrics) IncCacheMisses() {
	m.cacheMissesTotal.Inc()
}

// IncTranscodeRuns increments the transcoder invocation counter.
func (m *Metrics) IncTranscodeRuns() {
	m.transcodeRuns.Inc()
}

// IncTranscodeFailures increments the transcoder failure counter.
func (m *Metrics) IncTranscodeFailures() {
	m.transcodeFailures.Inc()
}

// IncWSMessages increments the inbound websocket message counter.
func (m *Metrics) IncWSMessages() {
	m.wsMessagesTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g.
// active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
