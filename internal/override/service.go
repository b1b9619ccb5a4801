package override

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/gapt-edu/gapt/internal/access"
	"github.com/gapt-edu/gapt/internal/notify"
	"github.com/gapt-edu/gapt/internal/shared"
)

// Repository persists override requests. UpsertRequest inserts the row or ORs
// the given approval flags into the stored one, returning the stored result.
// GetRequest returns ErrRequestNotFound for unknown rows.
type Repository interface {
	LoadRequests(ctx context.Context) ([]Request, error)
	GetRequest(ctx context.Context, requesterID string, day shared.Day) (Request, error)
	UpsertRequest(ctx context.Context, req Request) (Request, error)
}

// ServiceConfig carries the optional collaborators of Service.
type ServiceConfig struct {
	Logger    *slog.Logger
	Notifier  notify.Emitter
	Audit     shared.AuditRecorder
	Clock     *shared.Clock
	CacheSize int
}

// Service runs the petition and approval workflow.
type Service struct {
	repo     Repository
	logger   *slog.Logger
	notifier notify.Emitter
	audit    shared.AuditRecorder
	clock    *shared.Clock
	unlocked *unlockedCache
}

// NewService constructs a Service.
func NewService(repo Repository, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = shared.NewClock(nil)
	}
	return &Service{
		repo:     repo,
		logger:   logger,
		notifier: cfg.Notifier,
		audit:    cfg.Audit,
		clock:    clock,
		unlocked: newUnlockedCache(cfg.CacheSize),
	}
}

// Today reports the service's current day.
func (s *Service) Today() shared.Day {
	return s.clock.Today()
}

func (s *Service) requireHistorical(day shared.Day) error {
	if day.IsZero() || !day.Before(s.clock.Today()) {
		return fmt.Errorf("%w: %s", ErrNotHistorical, day)
	}
	return nil
}

// GetRequest returns the stored request for (requesterID, day).
func (s *Service) GetRequest(ctx context.Context, requesterID string, day shared.Day) (Request, error) {
	if req, ok := s.unlocked.get(requesterID, day); ok {
		return req, nil
	}
	req, err := s.repo.GetRequest(ctx, requesterID, day)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return Request{}, err
		}
		return Request{}, shared.StorageError("get override request", err)
	}
	s.unlocked.remember(req)
	return req, nil
}

// Petition files a request for requester to edit day. Repeating a petition
// never creates a second row. route names the approver the petition is
// addressed to; RoleUnknown addresses every approver still missing.
func (s *Service) Petition(ctx context.Context, requester shared.Identity, day shared.Day, route access.Role) (Request, error) {
	if err := s.requireHistorical(day); err != nil {
		return Request{}, err
	}
	if route != access.RoleUnknown && !IsApprover(route) {
		return Request{}, fmt.Errorf("%w: route %s", ErrInvalidApprover, route)
	}
	department := requester.Department
	if department == "" {
		department = "Unassigned"
	}
	stored, err := s.repo.UpsertRequest(ctx, Request{
		ID:            uuid.NewString(),
		RequesterID:   requester.UserID,
		RequesterName: requester.Name,
		Department:    department,
		Day:           day,
		CreatedAt:     s.clock.Now(),
	})
	if err != nil {
		return Request{}, shared.StorageError("upsert override request", err)
	}
	s.unlocked.remember(stored)

	s.logger.Info("override petition filed",
		slog.String("requester", requester.UserID),
		slog.String("day", day.String()),
		slog.String("route", route.String()),
		slog.Bool("unlocked", stored.FullyGranted()))
	s.emit(ctx, notify.Notification{
		Message: PetitionMessage(stored, route),
		Kind:    notify.KindEditRequest,
	})
	return stored, nil
}

// Approve records approverRole's approval of the request for (requesterID, day).
// The request must already exist. Approving twice is a no-op.
func (s *Service) Approve(ctx context.Context, requesterID string, day shared.Day, approverRole access.Role) (Request, error) {
	return s.approve(ctx, requesterID, day, approverRole, nil)
}

func (s *Service) approve(ctx context.Context, requesterID string, day shared.Day, approverRole access.Role, allow func(Request) error) (Request, error) {
	if !IsApprover(approverRole) {
		return Request{}, fmt.Errorf("%w: %s", ErrInvalidApprover, approverRole)
	}
	if err := s.requireHistorical(day); err != nil {
		return Request{}, err
	}
	current, err := s.GetRequest(ctx, requesterID, day)
	if err != nil {
		return Request{}, err
	}
	if allow != nil {
		if err := allow(current); err != nil {
			return Request{}, err
		}
	}
	if current.ApprovedBy(approverRole) {
		return current, nil
	}

	stored, err := s.repo.UpsertRequest(ctx, current.WithApproval(approverRole))
	if err != nil {
		return Request{}, shared.StorageError("upsert override request", err)
	}
	s.unlocked.remember(stored)

	s.logger.Info("override approved",
		slog.String("requester", requesterID),
		slog.String("day", day.String()),
		slog.String("approver", approverRole.String()),
		slog.Bool("unlocked", stored.FullyGranted()))
	s.emit(ctx, notify.Notification{
		UserID:  requesterID,
		Message: ApprovalMessage(approverRole, day),
		Kind:    notify.KindEditApproved,
	})
	if stored.FullyGranted() && !current.FullyGranted() {
		s.emit(ctx, notify.Notification{
			UserID:  requesterID,
			Message: UnlockedMessage(day),
			Kind:    notify.KindLedgerUnlocked,
		})
	}
	return stored, nil
}

// approverRole returns the intrinsic role actor approves as. A projected
// session approves nothing.
func approverRole(actor shared.Identity) (access.Role, error) {
	if actor.Projected() {
		return access.RoleUnknown, fmt.Errorf("%w: %s is acting as %s", ErrInvalidApprover, actor.Intrinsic, actor.View)
	}
	if !IsApprover(actor.Intrinsic) {
		return access.RoleUnknown, fmt.Errorf("%w: %s", ErrInvalidApprover, actor.Intrinsic)
	}
	return actor.Intrinsic, nil
}

// ApproveAs approves on behalf of actor under its intrinsic role and records
// the approval in the audit log. HODs approve only their own department.
func (s *Service) ApproveAs(ctx context.Context, actor shared.Identity, requesterID string, day shared.Day) (Request, error) {
	role, err := approverRole(actor)
	if err != nil {
		return Request{}, err
	}
	req, err := s.approve(ctx, requesterID, day, role, func(current Request) error {
		if role == access.RoleHOD && !current.InDepartment(actor.Department) {
			return fmt.Errorf("%w: %s is outside %q", ErrInvalidApprover, current.Department, actor.Department)
		}
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.UserID,
			Action:   "override.approve",
			Entity:   "override_request",
			EntityID: requesterID + "/" + day.String(),
			Meta: map[string]any{
				"approver_role": role.String(),
				"unlocked":      req.FullyGranted(),
			},
		})
		if err != nil {
			s.logger.Warn("audit override approval", slog.Any("error", err))
		}
	}
	return req, nil
}

// IsUnlocked reports whether the request for (requesterID, day) is fully
// granted. A missing request is locked, not an error.
func (s *Service) IsUnlocked(ctx context.Context, requesterID string, day shared.Day) (bool, error) {
	req, err := s.GetRequest(ctx, requesterID, day)
	if errors.Is(err, ErrRequestNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return req.FullyGranted(), nil
}

// State classifies day for requesterID. Future days are outside the editable
// window and report HISTORICAL_LOCKED.
func (s *Service) State(ctx context.Context, requesterID string, day shared.Day) (State, error) {
	today := s.clock.Today()
	if day == today {
		return StateCurrent, nil
	}
	if !day.Before(today) {
		return StateHistoricalLocked, nil
	}
	unlocked, err := s.IsUnlocked(ctx, requesterID, day)
	if err != nil {
		return StateHistoricalLocked, err
	}
	if unlocked {
		return StateHistoricalUnlocked, nil
	}
	return StateHistoricalLocked, nil
}

// ListPending returns the requests still awaiting approver's intrinsic role,
// oldest day first. HODs only see requests from their own department.
func (s *Service) ListPending(ctx context.Context, approver shared.Identity) ([]Request, error) {
	role, err := approverRole(approver)
	if err != nil {
		return nil, err
	}
	all, err := s.repo.LoadRequests(ctx)
	if err != nil {
		return nil, shared.StorageError("load override requests", err)
	}
	out := make([]Request, 0, len(all))
	for _, req := range all {
		if !req.PendingFor(role) {
			continue
		}
		if role == access.RoleHOD && !req.InDepartment(approver.Department) {
			continue
		}
		out = append(out, req)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day.Before(out[j].Day)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Service) emit(ctx context.Context, n notify.Notification) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Emit(ctx, n); err != nil {
		s.logger.Warn("emit override notification", slog.String("kind", string(n.Kind)), slog.Any("error", err))
	}
}

// PetitionMessage renders the broadcast announcing a petition.
func PetitionMessage(req Request, route access.Role) string {
	if req.FullyGranted() {
		return fmt.Sprintf("Ledger Authority Petition: [%s] for %s. Already unlocked.", req.RequesterName, req.Day)
	}
	if route != access.RoleUnknown {
		return fmt.Sprintf("Ledger Authority Petition: [%s] for %s. Route: %s.", req.RequesterName, req.Day, route.Label())
	}
	missing := req.Missing()
	names := make([]string, 0, len(missing))
	for _, role := range missing {
		names = append(names, role.Label())
	}
	return fmt.Sprintf("Ledger Authority Petition: [%s] for %s. Awaiting: %s.", req.RequesterName, req.Day, strings.Join(names, ", "))
}

// ApprovalMessage renders the note sent to the requester after one approval.
func ApprovalMessage(approver access.Role, day shared.Day) string {
	return fmt.Sprintf("Ledger Authority Update: %s has authorized modification access for %s.", approver.Label(), day)
}

// UnlockedMessage renders the note sent once the quorum is complete.
func UnlockedMessage(day shared.Day) string {
	return fmt.Sprintf("Ledger Unlocked: all approvals received, records for %s are open for modification.", day)
}
