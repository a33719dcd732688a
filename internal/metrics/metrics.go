// Package metrics provides Prometheus metrics for keywatch.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/good-yellow-bee/keywatch/internal/alerting"
)

const (
	namespace = "keywatch"
)

// Scan metrics
var (
	// ScanRunsTotal counts scan runs by outcome.
	ScanRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "runs_total",
			Help:      "Total number of scan runs",
		},
		[]string{"status"}, // completed, error
	)

	// ScanRunDuration tracks scan run latency.
	ScanRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "run_duration_seconds",
			Help:      "Scan run duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// ScanRunsSkipped counts scheduler ticks skipped because a run was
	// still active.
	ScanRunsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "runs_skipped_total",
			Help:      "Total scheduler ticks skipped while a run was active",
		},
	)

	// ScanLastSuccess records the time of the last completed run.
	ScanLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last completed scan run",
		},
	)

	// ScanProjectsTotal counts project outcomes.
	ScanProjectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "projects_total",
			Help:      "Total projects by scan outcome",
		},
		[]string{"result"}, // processed, failed, skipped
	)

	// ScanMonitorActions counts alarm transitions.
	ScanMonitorActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "monitor_actions_total",
			Help:      "Total monitor evaluations by resulting action",
		},
		[]string{"action"},
	)

	// ScanMonitorErrors counts failed monitor evaluations.
	ScanMonitorErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "monitor_errors_total",
			Help:      "Total monitor evaluations that failed",
		},
	)

	// ScanMatchesTotal counts surviving matches.
	ScanMatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "matches_total",
			Help:      "Total keyword matches that survived exclusion",
		},
	)
)

// Notification metrics
var (
	// NotificationsTotal counts notifications by result.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "notifications_total",
			Help:      "Total notifications by action",
		},
		[]string{"action"},
	)
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// ObserveRun records a finished scan run. report may be nil when the run
// failed before any project was attempted.
func ObserveRun(report *alerting.RunReport, err error, took time.Duration) {
	ScanRunDuration.Observe(took.Seconds())
	if err != nil || report == nil {
		ScanRunsTotal.WithLabelValues("error").Inc()
		return
	}
	ScanRunsTotal.WithLabelValues(strings.ToLower(report.Status)).Inc()
	ScanLastSuccess.Set(float64(report.FinishedAt.Unix()))

	stats := report.Stats()
	ScanProjectsTotal.WithLabelValues("processed").Add(float64(stats.ProjectsProcessed))
	ScanProjectsTotal.WithLabelValues("failed").Add(float64(stats.ProjectsFailed))
	ScanProjectsTotal.WithLabelValues("skipped").Add(float64(stats.ProjectsSkipped))
	ScanMonitorErrors.Add(float64(stats.MonitorsFailed))

	for i := range report.Projects {
		for _, r := range report.Projects[i].Results {
			ScanMonitorActions.WithLabelValues(string(r.Action)).Inc()
			ScanMatchesTotal.Add(float64(r.MatchCount))
			if r.Notified {
				NotificationsTotal.WithLabelValues(string(r.Action)).Inc()
			}
		}
	}
}
