package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	workerRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cohort",
		Name:      "worker_running",
		Help:      "Running state of workers in the job group (1=running, 0=stopped).",
	}, []string{"worker"})

	workerExits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cohort",
		Name:      "worker_exits_total",
		Help:      "Total number of observed worker exits, labelled by outcome.",
	}, []string{"worker", "outcome"})

	stopSignals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cohort",
		Name:      "stop_signals_total",
		Help:      "Total number of stop signals sent to workers during group teardown.",
	}, []string{"worker", "signal"})

	supervisionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cohort",
		Name:      "supervision_duration_seconds",
		Help:      "Wall-clock duration of a supervision run from launch to group stop.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cohort",
		Name:      "build_info",
		Help:      "Build metadata for the running cohort binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(workerRunning, workerExits, stopSignals, supervisionDuration, buildInfo)
}

// Registry returns the Prometheus registry containing all cohort metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetWorkerRunning records the running state for the provided worker.
func SetWorkerRunning(worker string, running bool) {
	if worker == "" {
		return
	}
	value := 0.0
	if running {
		value = 1.0
	}
	workerRunning.WithLabelValues(worker).Set(value)
}

// IncrementWorkerExit counts one observed exit for a worker with the given outcome.
func IncrementWorkerExit(worker, outcome string) {
	if worker == "" {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	workerExits.WithLabelValues(worker, outcome).Inc()
}

// IncrementStopSignal counts one stop signal sent to a worker. The signal label
// is "terminate" for the graceful request and "kill" for the escalation.
func IncrementStopSignal(worker, signal string) {
	if worker == "" || signal == "" {
		return
	}
	stopSignals.WithLabelValues(worker, signal).Inc()
}

// ObserveSupervisionDuration records the wall-clock duration of a supervision run.
func ObserveSupervisionDuration(d time.Duration) {
	supervisionDuration.Observe(d.Seconds())
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

// ResetWorker clears the per-worker series after a supervision run finishes.
func ResetWorker(worker string) {
	if worker == "" {
		return
	}
	workerRunning.DeleteLabelValues(worker)
	workerExits.DeletePartialMatch(prometheus.Labels{"worker": worker})
	stopSignals.DeletePartialMatch(prometheus.Labels{"worker": worker})
}
