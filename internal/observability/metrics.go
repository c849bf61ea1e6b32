package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for generation and jobs.
type Metrics struct {
	registry     *prometheus.Registry
	Attempts     *prometheus.CounterVec
	JobsFinished *prometheus.CounterVec
	JobsRunning  prometheus.Gauge
	JobDuration  *prometheus.HistogramVec
	PollQueries  *prometheus.CounterVec
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics constructs a private registry with copper collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copper_generation_attempts_total",
		Help: "Proposal attempts by outcome (valid, invalid, none, error)",
	}, []string{"provider", "outcome"})

	finished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copper_jobs_finished_total",
		Help: "Jobs reaching a settled status",
	}, []string{"status"})

	running := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "copper_jobs_running",
		Help: "Jobs currently executing",
	})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "copper_job_duration_seconds",
		Help:    "Time from submission to settled status",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"status"})

	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copper_poll_queries_total",
		Help: "Status queries issued by the bounded poller",
	}, []string{"result"})

	reqs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copper_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "code"})

	reg.MustRegister(attempts, finished, running, duration, polls, reqs)

	return &Metrics{
		registry:     reg,
		Attempts:     attempts,
		JobsFinished: finished,
		JobsRunning:  running,
		JobDuration:  duration,
		PollQueries:  polls,
		HTTPRequests: reqs,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAttempt counts one proposal attempt.
func (m *Metrics) RecordAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	if provider == "" {
		provider = "unknown"
	}
	m.Attempts.WithLabelValues(provider, outcome).Inc()
}

// JobStarted increments the running gauge.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsRunning.Inc()
}

// JobStopped decrements the running gauge.
func (m *Metrics) JobStopped() {
	if m == nil {
		return
	}
	m.JobsRunning.Dec()
}

// RecordJob counts a job reaching status after d.
func (m *Metrics) RecordJob(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(status).Inc()
	m.JobDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordPoll counts one status query by result (ok, error, terminal).
func (m *Metrics) RecordPoll(result string) {
	if m == nil {
		return
	}
	m.PollQueries.WithLabelValues(result).Inc()
}

// RecordHTTP counts one served request.
func (m *Metrics) RecordHTTP(route, code string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(route, code).Inc()
}
