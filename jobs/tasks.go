package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gapt-edu/gapt/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskNotificationDeliver fans a stored notification out to live subscribers.
	TaskNotificationDeliver = "notification:deliver"
	// TaskNotificationPrune deletes inbox entries past their retention.
	TaskNotificationPrune = "notification:prune"
)

// DeliverPayload carries the notification to deliver.
type DeliverPayload struct {
	Notification notify.Notification `json:"notification"`
}

// NewDeliverTask constructs a delivery task. The notification id doubles as
// the task id so a retried enqueue does not deliver twice.
func NewDeliverTask(n notify.Notification) (*asynq.Task, error) {
	if n.ID == "" {
		return nil, fmt.Errorf("jobs: notification without id")
	}
	data, err := json.Marshal(DeliverPayload{Notification: n})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotificationDeliver, data, asynq.TaskID("deliver:"+n.ID), asynq.MaxRetry(5)), nil
}

// PrunePayload configures a prune run.
type PrunePayload struct {
	Retention time.Duration `json:"retention"`
}

// NewPruneTask constructs a prune task.
func NewPruneTask(retention time.Duration) (*asynq.Task, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("jobs: retention must be positive")
	}
	data, err := json.Marshal(PrunePayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotificationPrune, data), nil
}
