// Package metrics exports the outcome of a run in the Prometheus text
// format, for pickup by node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/clxrityy/tapbump/internal/updater"
)

const namespace = "tapbump"

// Recorder holds the metrics for one process. Each Recorder owns its own
// registry so tests and repeated runs never collide on the global one.
type Recorder struct {
	registry *prometheus.Registry

	checks       *prometheus.CounterVec
	upToDate     *prometheus.GaugeVec
	lastRun      prometheus.Gauge
	lastDuration prometheus.Gauge
	updated      prometheus.Gauge
}

// New creates a Recorder with all metrics registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		checks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "package_checks_total",
			Help:      "Package checks by terminal outcome.",
		}, []string{"package", "outcome"}),

		upToDate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "package_up_to_date",
			Help:      "1 if the formula matched the latest release after the last run, 0 otherwise.",
		}, []string{"package"}),

		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),

		lastDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),

		updated: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_updated_packages",
			Help:      "Number of formulas rewritten by the last run.",
		}),
	}
}

// Observe records a finished run.
func (r *Recorder) Observe(report *updater.Report, started, finished time.Time) {
	updatedCount := 0
	for _, res := range report.Results {
		// Every outcome series exists from the first run, so rate() and
		// absence alerts work before a package first fails.
		for _, o := range updater.Outcomes() {
			r.checks.WithLabelValues(res.Package.Name, string(o))
		}
		r.checks.WithLabelValues(res.Package.Name, string(res.Outcome)).Inc()

		current := 0.0
		if res.Outcome == updater.OutcomeUpToDate || res.Outcome == updater.OutcomeUpdated {
			current = 1
		}
		r.upToDate.WithLabelValues(res.Package.Name).Set(current)

		if res.Outcome == updater.OutcomeUpdated {
			updatedCount++
		}
	}
	r.updated.Set(float64(updatedCount))
	r.lastRun.Set(float64(finished.Unix()))
	r.lastDuration.Set(finished.Sub(started).Seconds())
}

// Gatherer exposes the underlying registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile writes all metrics to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
