package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyMessage rejects notifications without text.
var ErrEmptyMessage = errors.New("notify: message required")

// Repository persists inbox entries.
type Repository interface {
	Append(ctx context.Context, n Notification) error
	ListFor(ctx context.Context, userID string) ([]Notification, error)
	ClearFor(ctx context.Context, userID string) (int64, error)
}

// Enqueuer hands a stored notification to the delivery worker.
type Enqueuer interface {
	EnqueueNotification(ctx context.Context, n Notification) error
}

// Emitter is the side-effect port used by the access-control services.
type Emitter interface {
	Emit(ctx context.Context, n Notification) (Notification, error)
}

// Service stores notifications and schedules their delivery.
type Service struct {
	repo     Repository
	enqueuer Enqueuer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service. enqueuer may be nil when no worker runs.
func NewService(repo Repository, enqueuer Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, enqueuer: enqueuer, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Emit stores n, filling id, kind and timestamp, then enqueues delivery.
// A failed enqueue is logged; the stored entry still reaches the inbox.
func (s *Service) Emit(ctx context.Context, n Notification) (Notification, error) {
	n.Message = strings.TrimSpace(n.Message)
	if n.Message == "" {
		return Notification{}, ErrEmptyMessage
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Kind == "" {
		n.Kind = KindSystem
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	if err := s.repo.Append(ctx, n); err != nil {
		return Notification{}, err
	}
	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueNotification(ctx, n); err != nil {
			s.logger.Warn("enqueue notification", slog.String("id", n.ID), slog.Any("error", err))
		}
	}
	return n, nil
}

// ListFor returns the user's own notifications plus broadcasts, newest first.
func (s *Service) ListFor(ctx context.Context, userID string) ([]Notification, error) {
	return s.repo.ListFor(ctx, userID)
}

// ClearFor deletes the user's own notifications. Broadcasts are kept.
func (s *Service) ClearFor(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, nil
	}
	return s.repo.ClearFor(ctx, userID)
}

var _ Emitter = (*Service)(nil)
