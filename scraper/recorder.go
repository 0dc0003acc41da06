package scraper

import (
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-units/models"
)

// Recorder accumulates the outcome counters of one session. It is
// append-only and keeps successes + failures equal to total requests.
// Every event is mirrored into the optional Prometheus Metrics.
type Recorder struct {
	mu         sync.Mutex
	total      int64
	success    int64
	failure    int64
	properties int64
	errorLog   []models.ErrorEntry
	timings    []time.Duration

	metrics *Metrics
	now     func() time.Time
	start   time.Time
}

// NewRecorder returns an empty recorder. metrics may be nil.
func NewRecorder(metrics *Metrics) *Recorder {
	return &Recorder{
		metrics: metrics,
		now:     time.Now,
		start:   time.Now(),
	}
}

// RecordSuccess counts one successful network-facing step.
func (r *Recorder) RecordSuccess(step string, d time.Duration) {
	r.mu.Lock()
	r.total++
	r.success++
	r.timings = append(r.timings, d)
	r.mu.Unlock()

	r.metrics.ObserveStep(step, "success", d)
}

// RecordFailure counts one failed network-facing step and logs err.
func (r *Recorder) RecordFailure(step string, d time.Duration, err error) {
	r.mu.Lock()
	r.total++
	r.failure++
	r.timings = append(r.timings, d)
	r.appendErrorLocked(step, err)
	r.mu.Unlock()

	r.metrics.ObserveStep(step, "failure", d)
	r.metrics.IncError(errorTypeLabel(err))
}

// LogError keeps a non-request failure, such as a degraded render wait,
// in the error log without touching the request counters.
func (r *Recorder) LogError(step string, err error) {
	r.mu.Lock()
	r.appendErrorLocked(step, err)
	r.mu.Unlock()

	r.metrics.IncError(errorTypeLabel(err))
}

func (r *Recorder) appendErrorLocked(step string, err error) {
	msg := step
	if err != nil {
		msg = step + ": " + err.Error()
	}
	r.errorLog = append(r.errorLog, models.ErrorEntry{Timestamp: r.now(), Message: msg})
}

// AddProperties counts extracted records.
func (r *Recorder) AddProperties(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.properties += int64(n)
	r.mu.Unlock()

	r.metrics.AddProperties(n)
}

// SuccessRate is successes over total requests, 0 when nothing ran.
func (r *Recorder) SuccessRate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.successRateLocked()
}

func (r *Recorder) successRateLocked() float64 {
	if r.total == 0 {
		return 0
	}
	return float64(r.success) / float64(r.total)
}

// Summary returns a snapshot of the counters.
func (r *Recorder) Summary() models.MetricsSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	errs := make([]models.ErrorEntry, len(r.errorLog))
	copy(errs, r.errorLog)

	timings := make([]int64, len(r.timings))
	var sum time.Duration
	for i, d := range r.timings {
		timings[i] = d.Milliseconds()
		sum += d
	}
	avg := 0.0
	if len(r.timings) > 0 {
		avg = float64(sum.Milliseconds()) / float64(len(r.timings))
	}

	return models.MetricsSummary{
		TotalRequests:      r.total,
		SuccessfulRequests: r.success,
		FailedRequests:     r.failure,
		PropertiesScraped:  r.properties,
		SuccessRate:        r.successRateLocked(),
		AverageTimingMs:    avg,
		Errors:             errs,
		Timings:            timings,
		Elapsed:            r.now().Sub(r.start),
	}
}
