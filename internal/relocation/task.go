package relocation

import "fmt"

// Task names one retryable unit of work in the pipeline.
type Task string

const (
	TaskUploadingComplete           Task = "uploading_complete"
	TaskPreprocessingScan           Task = "preprocessing_scan"
	TaskPreprocessingBaselineConfig Task = "preprocessing_baseline_config"
	TaskPreprocessingCollidingUsers Task = "preprocessing_colliding_users"
	TaskPreprocessingComplete       Task = "preprocessing_complete"
	TaskValidatingStart             Task = "validating_start"
	TaskValidatingPoll              Task = "validating_poll"
	TaskValidatingComplete          Task = "validating_complete"
	TaskImporting                   Task = "importing"
	TaskPostprocessing              Task = "postprocessing"
	TaskNotifyingUsers              Task = "notifying_users"
	TaskNotifyingOwner              Task = "notifying_owner"
	TaskCompleted                   Task = "completed"
)

// Tasks lists every task in pipeline order.
var Tasks = []Task{
	TaskUploadingComplete,
	TaskPreprocessingScan,
	TaskPreprocessingBaselineConfig,
	TaskPreprocessingCollidingUsers,
	TaskPreprocessingComplete,
	TaskValidatingStart,
	TaskValidatingPoll,
	TaskValidatingComplete,
	TaskImporting,
	TaskPostprocessing,
	TaskNotifyingUsers,
	TaskNotifyingOwner,
	TaskCompleted,
}

// ParseTask validates a task name read from the queue or database.
func ParseTask(name string) (Task, error) {
	for _, t := range Tasks {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown relocation task %q", name)
}

func (t Task) String() string { return string(t) }
