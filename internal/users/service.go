package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/gapt-edu/gapt/internal/access"
	"github.com/gapt-edu/gapt/internal/platform/httpx"
	"github.com/gapt-edu/gapt/internal/rbac"
	"github.com/gapt-edu/gapt/internal/shared"
)

// RepositoryPort defines data access methods for members.
type RepositoryPort interface {
	ListMembers(ctx context.Context) ([]Member, error)
	GetMember(ctx context.Context, id string) (Member, error)
	SetActive(ctx context.Context, id string, active bool) error
	SetMentor(ctx context.Context, id, mentorID string) error
}

// Service handles directory business logic.
type Service struct {
	repo   RepositoryPort
	authz  *rbac.Authorizer
	audit  shared.AuditRecorder
	logger *slog.Logger
}

// NewService builds Service instance. audit may be nil.
func NewService(repo RepositoryPort, authz *rbac.Authorizer, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, authz: authz, audit: audit, logger: logger}
}

func (s *Service) decide(viewer shared.Identity, feature access.Feature, m Member) rbac.Decision {
	q := rbac.Query{Role: viewer.View, Feature: feature, Self: m.ID == viewer.UserID}
	q.Target, q.AdminTarget = rbac.TargetFor(m.Role)
	return s.authz.Decide(q)
}

// List returns the members viewer may see, filtered to role when set. A member
// is visible through the member directory or the directory of its own kind.
func (s *Service) List(ctx context.Context, viewer shared.Identity, role access.Role) ([]Listing, error) {
	members, err := s.repo.ListMembers(ctx)
	if err != nil {
		return nil, shared.StorageError("list members", err)
	}
	out := make([]Listing, 0, len(members))
	for _, m := range members {
		if role != access.RoleUnknown && m.Role != role {
			continue
		}
		d := s.decide(viewer, access.FeatureUserDirectory, m)
		if !d.CanView {
			d = s.decide(viewer, directoryFeature(m.Role), m)
		}
		if !d.CanView {
			continue
		}
		out = append(out, Listing{Member: m, Role: m.Role.String(), CanEdit: d.CanEdit})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Member.Role != out[j].Member.Role {
			return out[i].Member.Role.Seniority() > out[j].Member.Role.Seniority()
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Get returns one member if viewer may see it.
func (s *Service) Get(ctx context.Context, viewer shared.Identity, id string) (Listing, error) {
	m, err := s.load(ctx, id)
	if err != nil {
		return Listing{}, err
	}
	d := s.decide(viewer, access.FeatureUserDirectory, m)
	if !d.CanView {
		d = s.decide(viewer, directoryFeature(m.Role), m)
	}
	if !d.CanView {
		return Listing{}, httpx.ErrForbidden
	}
	return Listing{Member: m, Role: m.Role.String(), CanEdit: d.CanEdit}, nil
}

// SetActive activates or suspends a member. The viewer needs edit rights on
// the member's category in the member directory.
func (s *Service) SetActive(ctx context.Context, actor shared.Identity, id string, active bool) (Listing, error) {
	m, err := s.load(ctx, id)
	if err != nil {
		return Listing{}, err
	}
	if m.ID == actor.UserID {
		return Listing{}, fmt.Errorf("%w: cannot change own status", httpx.ErrForbidden)
	}
	d := s.decide(actor, access.FeatureUserDirectory, m)
	if !d.CanEdit {
		return Listing{}, httpx.ErrForbidden
	}
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return Listing{}, shared.StorageError("set member status", err)
	}
	m.IsActive = active
	s.record(ctx, actor, "member.set_active", id, map[string]any{"active": active})
	return Listing{Member: m, Role: m.Role.String(), CanEdit: d.CanEdit}, nil
}

// AssignMentor links a student to a mentor. Mentorship decides who approves
// the student's leave.
func (s *Service) AssignMentor(ctx context.Context, actor shared.Identity, studentID, mentorID string) (Listing, error) {
	student, err := s.load(ctx, studentID)
	if err != nil {
		return Listing{}, err
	}
	if student.Role != access.RoleStudent {
		return Listing{}, fmt.Errorf("%w: %s is not a student", httpx.ErrValidation, studentID)
	}
	mentor, err := s.load(ctx, mentorID)
	if err != nil {
		return Listing{}, err
	}
	if !canMentor(mentor.Role) || !mentor.IsActive {
		return Listing{}, fmt.Errorf("%w: %w", httpx.ErrValidation, ErrInvalidMentor)
	}
	d := s.decide(actor, access.FeatureMentorAssignment, student)
	if !d.CanEdit {
		return Listing{}, httpx.ErrForbidden
	}
	if err := s.repo.SetMentor(ctx, studentID, mentorID); err != nil {
		return Listing{}, shared.StorageError("set mentor", err)
	}
	student.MentorID = mentorID
	s.record(ctx, actor, "member.assign_mentor", studentID, map[string]any{"mentor_id": mentorID})
	return Listing{Member: student, Role: student.Role.String(), CanEdit: d.CanEdit}, nil
}

// CanApproveLeave reports whether approver may approve leave for requesterID.
func (s *Service) CanApproveLeave(ctx context.Context, approver shared.Identity, requesterID string) (bool, error) {
	requester, err := s.load(ctx, requesterID)
	if err != nil {
		return false, err
	}
	return rbac.CanApproveLeave(approver.UserID, requester.MentorID), nil
}

func (s *Service) load(ctx context.Context, id string) (Member, error) {
	m, err := s.repo.GetMember(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Member{}, err
		}
		return Member{}, shared.StorageError("get member", err)
	}
	return m, nil
}

func (s *Service) record(ctx context.Context, actor shared.Identity, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "user",
		EntityID: entityID,
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit member change", slog.String("action", action), slog.Any("error", err))
	}
}
