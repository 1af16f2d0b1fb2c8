// Package metrics exposes batch run statistics in the Prometheus text format.
//
// A run is a one-shot job, so nothing is served over HTTP: the registry is
// written to a file for the node exporter textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "starschema"

// Registry holds the run metrics on a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	RowsRead          prometheus.Counter
	RowsClean         prometheus.Counter
	RowsSkipped       *prometheus.CounterVec
	Duplicates        prometheus.Counter
	ConflictWarnings  *prometheus.GaugeVec
	TableRows         *prometheus.GaugeVec
	StageDuration     *prometheus.GaugeVec
	RunsTotal         *prometheus.CounterVec
	LastRunTimestamp  prometheus.Gauge
	LastSuccessTime   prometheus.Gauge
	IdempotenceIssues prometheus.Counter
}

// NewRegistry creates a registry with every run metric registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Registry{
		reg: reg,
		RowsRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_read_total",
			Help:      "Source rows read.",
		}),
		RowsClean: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_clean_total",
			Help:      "Rows that survived cleaning and deduplication.",
		}),
		RowsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Rows skipped by the cleaner.",
		}, []string{"reason"}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_duplicate_total",
			Help:      "Exact duplicate rows dropped.",
		}),
		ConflictWarnings: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consistency_warnings",
			Help:      "Rows whose attributes disagreed with the first occurrence of their key.",
		}, []string{"entity"}),
		TableRows: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "table_rows",
			Help:      "Rows per output table.",
		}, []string{"table"}),
		StageDuration: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of the last execution of each stage.",
		}, []string{"stage"}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Runs by final status.",
		}, []string{"status"}),
		LastRunTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Completion time of the last run.",
		}),
		LastSuccessTime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Completion time of the last successful run.",
		}),
		IdempotenceIssues: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotence_violations_total",
			Help:      "Tables whose content changed although the input did not.",
		}),
	}
}

// Gatherer returns the underlying registry for inspection.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// ObserveStage records the duration of a finished stage.
func (r *Registry) ObserveStage(stage string, d time.Duration) {
	r.StageDuration.WithLabelValues(stage).Set(d.Seconds())
}

// ObserveRun records the outcome of a run completed at t.
func (r *Registry) ObserveRun(status string, t time.Time) {
	r.RunsTotal.WithLabelValues(status).Inc()
	r.LastRunTimestamp.Set(float64(t.Unix()))
	if status == "completed" {
		r.LastSuccessTime.Set(float64(t.Unix()))
	}
}

// WriteFile writes the registry atomically in the text exposition format.
func (r *Registry) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}
