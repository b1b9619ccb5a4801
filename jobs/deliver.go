package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/gapt-edu/gapt/internal/jobs"
)

// BroadcastChannel receives notifications addressed to everyone.
const BroadcastChannel = "gapt:notify:broadcast"

// UserChannel returns the pub/sub channel for one user's notifications.
func UserChannel(userID string) string {
	return "gapt:notify:user:" + userID
}

// Publisher is the subset of the Redis client used for fan-out.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// DeliveryJob publishes stored notifications to Redis so connected clients can
// refresh their inbox without polling.
type DeliveryJob struct {
	publisher Publisher
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewDeliveryJob constructs a DeliveryJob.
func NewDeliveryJob(publisher Publisher, logger *slog.Logger, metrics *jobmetrics.Metrics) *DeliveryJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeliveryJob{publisher: publisher, logger: logger, metrics: metrics}
}

// Handle processes TaskNotificationDeliver tasks.
func (j *DeliveryJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track(TaskNotificationDeliver)
	var payload DeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		j.logger.Warn("drop malformed delivery", slog.Any("error", err))
		return tracker.End(fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry))
	}
	n := payload.Notification
	channel := BroadcastChannel
	if !n.Broadcast() {
		channel = UserChannel(n.UserID)
	}
	body, err := json.Marshal(n)
	if err != nil {
		return tracker.End(fmt.Errorf("encode notification: %v: %w", err, asynq.SkipRetry))
	}
	receivers, err := j.publisher.Publish(ctx, channel, body).Result()
	if err != nil {
		return tracker.End(fmt.Errorf("publish %s: %w", channel, err))
	}
	j.metrics.AddDelivered(string(n.Kind), receivers)
	j.logger.Debug("notification delivered",
		slog.String("id", n.ID),
		slog.String("kind", string(n.Kind)),
		slog.String("channel", channel),
		slog.Int64("receivers", receivers),
	)
	return tracker.End(nil)
}
