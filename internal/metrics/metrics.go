// Package metrics counts what an indexing pass did.
//
// Counters live in a private registry so several passes in one process (or
// tests) never collide. A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "class_index"

// Metrics holds the counters of one process.
type Metrics struct {
	reg *prometheus.Registry

	ClassesScanned       prometheus.Counter
	ClassesMalformed     prometheus.Counter
	RecordsAdded         prometheus.Counter
	FragmentsWritten     prometheus.Counter
	FragmentsUnchanged   prometheus.Counter
	FragmentReadFailures prometheus.Counter
	PassDuration         prometheus.Histogram
}

// New registers a fresh set of counters.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		ClassesScanned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "classes_scanned_total",
			Help: "Class files parsed for annotations.",
		}),
		ClassesMalformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "classes_malformed_total",
			Help: "Class files skipped because they could not be parsed.",
		}),
		RecordsAdded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_added_total",
			Help: "Annotation records added to a build session.",
		}),
		FragmentsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fragments_written_total",
			Help: "Index fragments rewritten.",
		}),
		FragmentsUnchanged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fragments_unchanged_total",
			Help: "Index fragments left alone because merge found nothing new.",
		}),
		FragmentReadFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fragment_read_failures_total",
			Help: "Index fragments that could not be read.",
		}),
		PassDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "pass_duration_seconds",
			Help:    "Wall time of one indexing pass.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}

// Registry exposes the private registry, e.g. for an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// ClassScanned counts a class file that was parsed.
func (m *Metrics) ClassScanned() {
	if m != nil {
		m.ClassesScanned.Inc()
	}
}

// ClassMalformed counts a class file that could not be parsed.
func (m *Metrics) ClassMalformed() {
	if m != nil {
		m.ClassesMalformed.Inc()
	}
}

// RecordAdded counts a record handed to a builder.
func (m *Metrics) RecordAdded() {
	if m != nil {
		m.RecordsAdded.Inc()
	}
}

// FragmentWritten counts a fragment that was rewritten.
func (m *Metrics) FragmentWritten() {
	if m != nil {
		m.FragmentsWritten.Inc()
	}
}

// FragmentUnchanged counts a fragment whose content did not change.
func (m *Metrics) FragmentUnchanged() {
	if m != nil {
		m.FragmentsUnchanged.Inc()
	}
}

// FragmentReadFailed counts a stored fragment that could not be read.
func (m *Metrics) FragmentReadFailed() {
	if m != nil {
		m.FragmentReadFailures.Inc()
	}
}

// ObservePass records the duration of a pass that started at start.
func (m *Metrics) ObservePass(start time.Time) {
	if m != nil {
		m.PassDuration.Observe(time.Since(start).Seconds())
	}
}

// WriteTextfile dumps every counter in the text exposition format, for the
// node exporter's textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
