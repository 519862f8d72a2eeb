// Package metrics is a minimal metrics facade for the pipeline.
//
// Pipeline code records counters and histograms through package-level helpers
// and stays unaware of the configured backend. The default backend is a nop;
// cmd/entity-pipeline swaps in a real backend (Datadog) at startup.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by the pipeline. Backends may aggregate or ignore
// names they do not understand.
const (
	MetricStageTotal           = "pipeline_stage_total"            // labels: stage, status
	MetricStageDurationSeconds = "pipeline_stage_duration_seconds" // labels: stage, status
	MetricRecordsTotal         = "pipeline_records_total"          // labels: kind (extracted|matched|loaded)
	MetricJobPollsTotal        = "pipeline_job_polls_total"        // labels: status
)

// Labels attach low-cardinality dimensions to a sample.
type Labels map[string]string

// Backend is implemented by metric sinks.
//
// Implementations must be safe for concurrent use; the wait loop and stage
// code may record from different goroutines in future callers even though the
// pipeline itself is sequential today.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. Call once at startup,
// before any stage runs.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a named counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one histogram sample.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush forces buffered metrics out of the active backend.
func Flush() error {
	return current().Flush()
}

// ObserveStage records the outcome and duration of one pipeline stage.
func ObserveStage(stage, status string, d time.Duration) {
	l := Labels{"stage": stage, "status": status}
	IncCounter(MetricStageTotal, 1, l)
	ObserveHistogram(MetricStageDurationSeconds, d.Seconds(), l)
}

// CountRecords records how many records a stage handled, keyed by kind.
func CountRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(MetricRecordsTotal, float64(n), Labels{"kind": kind})
}
