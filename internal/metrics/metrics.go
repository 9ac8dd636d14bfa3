// Package metrics exposes the Prometheus series of the relocation pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task metrics
	taskRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "libops_relocation_task_runs_total",
			Help: "Total number of relocation task deliveries",
		},
		[]string{"task", "result"}, // result: success, retry, failed, skipped
	)

	taskAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "libops_relocation_task_attempts",
			Help:    "Attempt number recorded for each task delivery",
			Buckets: []float64{1, 2, 3, 5, 10, 30, 61},
		},
		[]string{"task"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "libops_relocation_task_duration_seconds",
			Help: "Duration of relocation task bodies in seconds",
			Buckets: []float64{
				0.1, // 100 ms
				0.5, // 500 ms
				1,   // 1 second
				5,   // 5 seconds
				30,  // 30 seconds
				120, // 2 minutes
				600, // 10 minutes (large imports)
			},
		},
		[]string{"task"},
	)

	// Relocation lifecycle metrics
	relocationsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "libops_relocation_started_total",
			Help: "Total number of relocations accepted for processing",
		},
	)

	relocationsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "libops_relocation_finished_total",
			Help: "Total number of relocations that reached a terminal status",
		},
		[]string{"status", "step"}, // status: SUCCESS/FAILURE, step: where it stopped
	)

	// Validation metrics
	buildPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "libops_relocation_build_polls_total",
			Help: "Total number of validation build status polls",
		},
		[]string{"status"}, // remote build status
	)

	validationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "libops_relocation_validation_runs_total",
			Help: "Total number of finished validation builds by outcome",
		},
		[]string{"outcome"}, // VALID, INVALID, TIMEOUT, FAILURE
	)

	// Queue metrics
	queueDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "libops_relocation_queue_deliveries_total",
			Help: "Total number of task queue deliveries by outcome",
		},
		[]string{"task", "outcome"}, // outcome: done, retry, dead_letter
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "libops_relocation_queue_depth",
			Help: "Number of relocation tasks waiting to be claimed",
		},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "libops_relocation_notifications_total",
			Help: "Total number of notification events published",
		},
		[]string{"outcome"}, // sent, failed, dead_letter
	)
)

// RecordTaskRun records one delivery of task.
func RecordTaskRun(task, result string) {
	taskRunsTotal.WithLabelValues(task, result).Inc()
}

// RecordTaskAttempt records the attempt counter a delivery ran under.
func RecordTaskAttempt(task string, attempt int) {
	taskAttempts.WithLabelValues(task).Observe(float64(attempt))
}

// RecordTaskDuration records how long a task body ran
func RecordTaskDuration(task string, seconds float64) {
	taskDuration.WithLabelValues(task).Observe(seconds)
}

// RecordRelocationStarted records an accepted upload
func RecordRelocationStarted() {
	relocationsStartedTotal.Inc()
}

// RecordRelocationFinished records a relocation reaching status in step.
func RecordRelocationFinished(status, step string) {
	relocationsFinishedTotal.WithLabelValues(status, step).Inc()
}

// RecordBuildPoll records an observed remote build status
func RecordBuildPoll(status string) {
	buildPollsTotal.WithLabelValues(status).Inc()
}

// RecordValidationRun records the outcome of a validation build
func RecordValidationRun(outcome string) {
	validationRunsTotal.WithLabelValues(outcome).Inc()
}

// RecordQueueDelivery records a task queue delivery outcome
func RecordQueueDelivery(task, outcome string) {
	queueDeliveriesTotal.WithLabelValues(task, outcome).Inc()
}

// SetQueueDepth sets the number of pending tasks
func SetQueueDepth(n int64) {
	queueDepth.Set(float64(n))
}

// RecordNotification records a notification publish outcome
func RecordNotification(outcome string) {
	notificationsTotal.WithLabelValues(outcome).Inc()
}
