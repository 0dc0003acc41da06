package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper. One Metrics may be
// shared by concurrently running sessions.
type Metrics struct {
	Registry          *prometheus.Registry
	StepsTotal        *prometheus.CounterVec
	StepDuration      *prometheus.HistogramVec
	PropertiesScraped prometheus.Counter
	RetriesTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	BackoffDelay      prometheus.Gauge
	DocumentsFetched  prometheus.Counter
	RunsTotal         *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	steps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_steps_total",
			Help: "Network-facing scrape steps by outcome.",
		},
		[]string{"step", "outcome"},
	)
	stepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_step_duration_seconds",
			Help:    "Latency of scrape steps.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"step"},
	)
	properties := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_properties_scraped_total",
			Help: "Total number of property records extracted.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of login retries scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)
	backoff := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_backoff_delay_seconds",
			Help: "Most recent adaptive delay between actions.",
		},
	)
	documents := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_documents_fetched_total",
			Help: "Total number of unit documents downloaded.",
		},
	)
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_runs_total",
			Help: "Completed scrape runs by result.",
		},
		[]string{"result"},
	)

	registry.MustRegister(steps, stepDuration, properties, retries, errorsTotal, backoff, documents, runs)

	return &Metrics{
		Registry:          registry,
		StepsTotal:        steps,
		StepDuration:      stepDuration,
		PropertiesScraped: properties,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		BackoffDelay:      backoff,
		DocumentsFetched:  documents,
		RunsTotal:         runs,
	}
}

// ObserveStep records one step outcome and its duration.
func (m *Metrics) ObserveStep(step, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(step, outcome).Inc()
	m.StepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// AddProperties increments the properties counter.
func (m *Metrics) AddProperties(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PropertiesScraped.Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// SetBackoff publishes the current adaptive delay.
func (m *Metrics) SetBackoff(d time.Duration) {
	if m == nil {
		return
	}
	m.BackoffDelay.Set(d.Seconds())
}

// AddDocuments increments the downloaded documents counter.
func (m *Metrics) AddDocuments(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DocumentsFetched.Add(float64(n))
}

// IncRun counts a finished run.
func (m *Metrics) IncRun(success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.RunsTotal.WithLabelValues(result).Inc()
}
