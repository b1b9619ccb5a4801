package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/gapt-edu/gapt/internal/jobs"
)

// Pruner deletes notifications created before a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// PruneJob enforces inbox retention.
type PruneJob struct {
	pruner  Pruner
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	now     func() time.Time
}

// NewPruneJob constructs a PruneJob.
func NewPruneJob(pruner Pruner, logger *slog.Logger, metrics *jobmetrics.Metrics) *PruneJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PruneJob{pruner: pruner, logger: logger, metrics: metrics, now: time.Now}
}

// Handle processes TaskNotificationPrune tasks.
func (j *PruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track(TaskNotificationPrune)
	var payload PrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Retention <= 0 {
		return tracker.End(fmt.Errorf("invalid prune payload: %w", asynq.SkipRetry))
	}
	cutoff := j.now().UTC().Add(-payload.Retention)
	removed, err := j.pruner.Prune(ctx, cutoff)
	if err != nil {
		return tracker.End(err)
	}
	j.logger.Info("notifications pruned", slog.Int64("removed", removed), slog.Time("before", cutoff))
	return tracker.End(nil)
}
