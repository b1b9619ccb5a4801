package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/gapt-edu/gapt/internal/access"
	"github.com/gapt-edu/gapt/internal/notify"
	"github.com/gapt-edu/gapt/internal/shared"
)

// Repository persists matrix cells.
type Repository interface {
	LoadMatrix(ctx context.Context) ([]Grant, error)
	SaveMatrixCell(ctx context.Context, g Grant) error
}

// Publisher tells peer instances that the stored matrix changed.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// ServiceConfig carries the optional collaborators of Service.
type ServiceConfig struct {
	Logger    *slog.Logger
	Audit     shared.AuditRecorder
	Notifier  notify.Emitter
	Publisher Publisher
}

// Service owns the in-memory permission matrix. Readers see whole snapshots only.
type Service struct {
	repo      Repository
	logger    *slog.Logger
	audit     shared.AuditRecorder
	notifier  notify.Emitter
	publisher Publisher

	snapshot atomic.Pointer[Matrix]
	writeMu  sync.Mutex
	refresh  singleflight.Group
}

// NewService constructs a Service holding an empty matrix until Load succeeds.
func NewService(repo Repository, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:      repo,
		logger:    logger,
		audit:     cfg.Audit,
		notifier:  cfg.Notifier,
		publisher: cfg.Publisher,
	}
	empty := NewMatrix()
	s.snapshot.Store(&empty)
	return s
}

// SetPublisher attaches the cross-instance publisher after construction.
func (s *Service) SetPublisher(p Publisher) {
	s.writeMu.Lock()
	s.publisher = p
	s.writeMu.Unlock()
}

// Load replaces the snapshot with the stored matrix. On failure the service
// falls back to an empty matrix so every decision resolves to NO_ACCESS.
func (s *Service) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	grants, err := s.repo.LoadMatrix(ctx)
	if err != nil {
		empty := NewMatrix()
		s.snapshot.Store(&empty)
		s.logger.Error("load permission matrix", slog.Any("error", err))
		return shared.StorageError("load matrix", err)
	}
	for _, g := range grants {
		if !access.IsAssignable(g.Role, g.Level) {
			s.logger.Warn("stored grant outside assignable set",
				slog.String("role", g.Role.String()),
				slog.String("feature", g.Feature.String()),
				slog.String("level", g.Level.String()))
		}
	}
	m := NewMatrix(grants...)
	s.snapshot.Store(&m)
	s.logger.Info("permission matrix loaded", slog.Int("cells", m.Len()))
	return nil
}

// Seed stores the default grant for every cell that has none yet, then reloads.
// Existing cells are left untouched.
func (s *Service) Seed(ctx context.Context) (int, error) {
	stored, err := s.repo.LoadMatrix(ctx)
	if err != nil {
		return 0, shared.StorageError("load matrix", err)
	}
	existing := NewMatrix(stored...)
	seeded := 0
	for _, g := range DefaultGrants() {
		if _, ok := existing.cells[cell{g.Role, g.Feature}]; ok {
			continue
		}
		if err := s.repo.SaveMatrixCell(ctx, g); err != nil {
			return seeded, shared.StorageError("seed matrix cell", err)
		}
		seeded++
	}
	return seeded, s.Load(ctx)
}

// Refresh reloads the matrix, collapsing concurrent refreshes into one load.
func (s *Service) Refresh(ctx context.Context) error {
	_, err, _ := s.refresh.Do("matrix", func() (any, error) {
		return nil, s.Load(ctx)
	})
	return err
}

// GetAll returns the current snapshot.
func (s *Service) GetAll() Matrix {
	return *s.snapshot.Load()
}

// GetLevel returns the current level of a cell, NO_ACCESS when unset.
func (s *Service) GetLevel(role access.Role, feature access.Feature) access.Level {
	return s.snapshot.Load().GetLevel(role, feature)
}

// SetLevel validates and persists one cell, then swaps in a new snapshot.
// Invalid grants fail with ErrInvalidGrant before anything is written.
func (s *Service) SetLevel(ctx context.Context, actor shared.Identity, role access.Role, feature access.Feature, level access.Level) (Change, error) {
	if !feature.Valid() {
		return Change{}, fmt.Errorf("%w: %w", ErrInvalidGrant, access.ErrUnknownFeature)
	}
	if err := access.ValidateGrant(role, level); err != nil {
		return Change{}, fmt.Errorf("%w: %w", ErrInvalidGrant, err)
	}
	grant := Grant{Role: role, Feature: feature, Level: level}

	s.writeMu.Lock()
	current := s.snapshot.Load()
	change := Change{Role: role, Feature: feature, Previous: current.GetLevel(role, feature), Level: level}
	if err := s.repo.SaveMatrixCell(ctx, grant); err != nil {
		s.writeMu.Unlock()
		return Change{}, shared.StorageError("save matrix cell", err)
	}
	next := current.With(grant)
	s.snapshot.Store(&next)
	publisher := s.publisher
	s.writeMu.Unlock()

	s.logger.Info("permission matrix updated",
		slog.String("actor", actor.UserID),
		slog.String("role", role.String()),
		slog.String("feature", feature.String()),
		slog.String("from", change.Previous.String()),
		slog.String("to", level.String()))

	s.recordAudit(ctx, actor, change)
	s.announce(ctx, change)
	if publisher != nil {
		if err := publisher.Publish(ctx, change); err != nil {
			s.logger.Warn("publish matrix change", slog.Any("error", err))
		}
	}
	return change, nil
}

// GovernanceMessage renders the broadcast sent after a matrix change.
func GovernanceMessage(c Change) string {
	return fmt.Sprintf("Governance Alert: Authority for [%s] on module [%s] synchronized to %s.",
		c.Role.Label(), c.Feature.Label(), c.Level.Label())
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Identity, c Change) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   "access_matrix.set_level",
		Entity:   "access_matrix",
		EntityID: c.Role.String() + "/" + c.Feature.String(),
		Meta: map[string]any{
			"from":       c.Previous.String(),
			"to":         c.Level.String(),
			"actor_view": actor.View.String(),
		},
	})
	if err != nil {
		s.logger.Warn("audit matrix change", slog.Any("error", err))
	}
}

func (s *Service) announce(ctx context.Context, c Change) {
	if s.notifier == nil {
		return
	}
	_, err := s.notifier.Emit(ctx, notify.Notification{
		Message: GovernanceMessage(c),
		Kind:    notify.KindAccessGranted,
	})
	if err != nil {
		s.logger.Warn("announce matrix change", slog.Any("error", err))
	}
}
