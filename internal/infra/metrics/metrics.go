// Package metrics provides Prometheus metrics for secfleet: job and task
// outcomes, lock contention, reconcile actions, broadcast delivery and
// health.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/secfleet/secfleet/internal/domain"
)

// ─── Jobs ───────────────────────────────────────────────────────────────────

// JobsStarted tracks jobs that began lock acquisition.
var JobsStarted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "secfleet",
	Name:      "jobs_started_total",
	Help:      "Total jobs started.",
})

// JobsCompleted tracks completed jobs by status.
var JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "secfleet",
	Name:      "jobs_completed_total",
	Help:      "Total completed jobs.",
}, []string{"status"})

// JobsActive tracks jobs locking or running.
var JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "secfleet",
	Name:      "jobs_active",
	Help:      "Number of jobs currently locking or running.",
})

// JobDuration tracks job run time from start to completion.
var JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "secfleet",
	Name:      "job_duration_seconds",
	Help:      "Job run time in seconds.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
})

// ─── Tasks ──────────────────────────────────────────────────────────────────

// TasksFinished tracks task nodes reaching a terminal state.
var TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "secfleet",
	Name:      "tasks_finished_total",
	Help:      "Total task nodes finished, by terminal state.",
}, []string{"state"})

// ─── Locks ──────────────────────────────────────────────────────────────────

// LockWait tracks how long jobs waited for their lock set.
var LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "secfleet",
	Name:      "lock_wait_seconds",
	Help:      "Time jobs waited to acquire all of their locks.",
	Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
})

// LockTimeouts tracks jobs aborted because their locks were not granted in time.
var LockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "secfleet",
	Name:      "lock_timeouts_total",
	Help:      "Total jobs aborted on lock acquisition timeout.",
})

// ─── Reconcile ──────────────────────────────────────────────────────────────

// ReconcileActions tracks corrective actions by kind and result.
var ReconcileActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "secfleet",
	Name:      "reconcile_actions_total",
	Help:      "Total corrective actions applied, by action and result.",
}, []string{"action", "result"})

// ─── Broadcast ──────────────────────────────────────────────────────────────

// BroadcastEvents tracks published change events.
var BroadcastEvents = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "secfleet",
	Name:      "broadcast_events",
	Help:      "Change events published since start.",
})

// BroadcastDropped tracks deliveries missed by slow subscribers.
var BroadcastDropped = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "secfleet",
	Name:      "broadcast_dropped",
	Help:      "Change event deliveries dropped since start.",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "secfleet",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// ─── Recorder ───────────────────────────────────────────────────────────────

// Recorder feeds engine and reconcile events into the collectors above. It
// satisfies job.Observer and conform.ActionRecorder.
type Recorder struct{}

func (Recorder) JobStarted() {
	JobsStarted.Inc()
	JobsActive.Inc()
}

func (Recorder) JobFinished(status domain.JobStatus, elapsed time.Duration) {
	JobsActive.Dec()
	JobsCompleted.WithLabelValues(string(status)).Inc()
	JobDuration.Observe(elapsed.Seconds())
}

func (Recorder) TaskFinished(state domain.TaskState) {
	TasksFinished.WithLabelValues(string(state)).Inc()
}

func (Recorder) LocksAcquired(wait time.Duration) { LockWait.Observe(wait.Seconds()) }

func (Recorder) LockTimedOut() { LockTimeouts.Inc() }

func (Recorder) ReconcileAction(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ReconcileActions.WithLabelValues(action, result).Inc()
}

// SetBroadcast publishes broadcaster counters.
func SetBroadcast(published, dropped int64) {
	BroadcastEvents.Set(float64(published))
	BroadcastDropped.Set(float64(dropped))
}
