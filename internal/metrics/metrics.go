// Package metrics records per-run counters on a private Prometheus registry
// and writes them in the node-exporter textfile format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "drivespectre"

// Model stages reported by the models gauge.
const (
	StageCandidate = "candidate"
	StageCanonical = "canonical"
	StageRetained  = "retained"
)

// Record rejection reasons.
const (
	ReasonMalformed = "malformed"
	ReasonUnmapped  = "unmapped"
)

// Recorder holds the metrics for one run. A nil Recorder discards everything.
type Recorder struct {
	registry *prometheus.Registry

	rowsIngested   prometheus.Counter
	rowsRejected   *prometheus.CounterVec
	degenerateDays prometheus.Counter
	models         *prometheus.GaugeVec
	quarterlyRows  prometheus.Gauge
	runDuration    prometheus.Gauge
	lastSuccess    prometheus.Gauge
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		rowsIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_ingested_total",
			Help:      "Daily rows folded into the aggregate.",
		}),
		rowsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_rejected_total",
			Help:      "Daily rows skipped during aggregation, by reason.",
		}, []string{"reason"}),
		degenerateDays: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degenerate_days_total",
			Help:      "Days whose cumulative drive-days were zero.",
		}),
		models: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "models",
			Help:      "Model count at each pipeline stage.",
		}, []string{"stage"}),
		quarterlyRows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quarterly_rows",
			Help:      "Rows in the quarterly AFR table.",
		}),
		runDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last analysis run.",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the last successful run finished.",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// SetModels records the number of models at a stage.
func (r *Recorder) SetModels(stage string, n int) {
	if r == nil {
		return
	}
	r.models.WithLabelValues(stage).Set(float64(n))
}

// AddRows records accepted and rejected daily rows.
func (r *Recorder) AddRows(accepted, malformed, unmapped int64) {
	if r == nil {
		return
	}
	r.rowsIngested.Add(float64(accepted))
	r.rowsRejected.WithLabelValues(ReasonMalformed).Add(float64(malformed))
	r.rowsRejected.WithLabelValues(ReasonUnmapped).Add(float64(unmapped))
}

// AddDegenerateDays records days that produced no AFR.
func (r *Recorder) AddDegenerateDays(n int64) {
	if r == nil {
		return
	}
	r.degenerateDays.Add(float64(n))
}

// SetQuarterlyRows records the size of the quarterly table.
func (r *Recorder) SetQuarterlyRows(n int) {
	if r == nil {
		return
	}
	r.quarterlyRows.Set(float64(n))
}

// ObserveRun records run duration and, on success, the completion time.
func (r *Recorder) ObserveRun(d time.Duration, finished time.Time) {
	if r == nil {
		return
	}
	r.runDuration.Set(d.Seconds())
	r.lastSuccess.Set(float64(finished.Unix()))
}

// WriteTextfile writes every metric to path for the node-exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
