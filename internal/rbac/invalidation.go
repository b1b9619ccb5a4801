package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// InvalidationChannel is the redis channel carrying matrix changes.
const InvalidationChannel = "gapt:access-matrix:changed"

// Refresher reloads the matrix from storage.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type invalidationMessage struct {
	Origin  string `json:"origin"`
	Role    string `json:"role"`
	Feature string `json:"feature"`
	Level   string `json:"level"`
}

// RedisInvalidator fans matrix changes out to every instance over pub/sub.
type RedisInvalidator struct {
	client *redis.Client
	origin string
	logger *slog.Logger
}

// NewRedisInvalidator constructs an invalidator with a random instance id.
func NewRedisInvalidator(client *redis.Client, logger *slog.Logger) *RedisInvalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisInvalidator{client: client, origin: uuid.NewString(), logger: logger}
}

// Publish announces a change made by this instance.
func (i *RedisInvalidator) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(invalidationMessage{
		Origin:  i.origin,
		Role:    change.Role.String(),
		Feature: change.Feature.String(),
		Level:   change.Level.String(),
	})
	if err != nil {
		return err
	}
	if err := i.client.Publish(ctx, InvalidationChannel, payload).Err(); err != nil {
		return fmt.Errorf("rbac: publish invalidation: %w", err)
	}
	return nil
}

// Start subscribes and refreshes target on every change published by another
// instance. It returns once the subscription is confirmed; stop closes it.
func (i *RedisInvalidator) Start(ctx context.Context, target Refresher) (stop func(), err error) {
	sub := i.client.Subscribe(ctx, InvalidationChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("rbac: subscribe invalidation: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				i.handle(ctx, target, msg.Payload)
			}
		}
	}()
	return func() {
		cancel()
		_ = sub.Close()
		<-done
	}, nil
}

func (i *RedisInvalidator) handle(ctx context.Context, target Refresher, payload string) {
	var msg invalidationMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		i.logger.Warn("decode matrix invalidation", slog.Any("error", err))
		return
	}
	if msg.Origin == i.origin {
		return
	}
	if err := target.Refresh(ctx); err != nil {
		i.logger.Error("refresh matrix after invalidation", slog.String("origin", msg.Origin), slog.Any("error", err))
		return
	}
	i.logger.Debug("matrix refreshed", slog.String("role", msg.Role), slog.String("feature", msg.Feature), slog.String("level", msg.Level))
}

var _ Publisher = (*RedisInvalidator)(nil)
