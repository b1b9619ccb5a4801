package rbac

import (
	"context"

	"github.com/gapt-edu/gapt/internal/access"
	"github.com/gapt-edu/gapt/internal/shared"
)

// LevelSource answers matrix lookups. Matrix and Service both satisfy it.
type LevelSource interface {
	GetLevel(role access.Role, feature access.Feature) access.Level
}

// Query asks what Role may do on Feature. Target narrows editing to one subject
// category, AdminTarget to an administrator record, Self to the actor's own records.
type Query struct {
	Role        access.Role
	Feature     access.Feature
	Target      *access.Category
	AdminTarget bool
	Self        bool
}

// Decision is the outcome of an authorization query.
type Decision struct {
	Level   access.Level `json:"-"`
	CanView bool         `json:"can_view"`
	CanEdit bool         `json:"can_edit"`
}

// TargetFor builds the target fields of a Query for a record owned by role.
func TargetFor(role access.Role) (target *access.Category, admin bool) {
	if role == access.RoleAdmin {
		return nil, true
	}
	if c, ok := role.Category(); ok {
		return &c, false
	}
	return nil, false
}

// Decide evaluates q against levels. Unknown roles and features resolve to
// NO_ACCESS; the function never fails.
func Decide(levels LevelSource, q Query) Decision {
	if levels == nil || !q.Role.Valid() || !q.Feature.Valid() {
		return Decision{}
	}
	level := levels.GetLevel(q.Role, q.Feature)
	d := Decision{Level: level, CanView: level.CanView()}
	scope := access.SubjectScope(level)
	switch {
	case q.AdminTarget:
		d.CanEdit = level.Administers()
	case q.Target != nil:
		d.CanEdit = scope.Has(*q.Target)
	case q.Self:
		d.CanEdit = false
	default:
		d.CanEdit = !scope.Empty()
	}
	if q.Self {
		// Own records are always readable; editing them needs the matrix or a self-service feature.
		d.CanView = true
		d.CanEdit = d.CanEdit || q.Feature.SelfService()
	}
	return d
}

// GateHistorical restricts editing of windowed records to today, or to a past
// day whose override is fully granted. Future days stay locked. Viewing is
// unaffected and editing is never widened.
func GateHistorical(d Decision, day, today shared.Day, unlocked bool) Decision {
	if day == today {
		return d
	}
	if day.Before(today) && unlocked {
		return d
	}
	d.CanEdit = false
	return d
}

// CanApproveLeave reports whether approver mentors the requester. Leave
// approval follows mentorship, not the matrix.
func CanApproveLeave(approverID, mentorID string) bool {
	return approverID != "" && approverID == mentorID
}

// OverrideChecker reports whether a requester's past day is unlocked.
type OverrideChecker interface {
	IsUnlocked(ctx context.Context, requesterID string, day shared.Day) (bool, error)
}

// DecisionObserver counts decisions for metrics.
type DecisionObserver interface {
	ObserveDecision(feature string, canView, canEdit bool)
}

// Authorizer combines the live matrix with override state.
type Authorizer struct {
	levels    LevelSource
	overrides OverrideChecker
	clock     *shared.Clock
	observer  DecisionObserver
}

// NewAuthorizer constructs an Authorizer. overrides may be nil, in which case
// every past day stays locked.
func NewAuthorizer(levels LevelSource, overrides OverrideChecker, clock *shared.Clock) *Authorizer {
	if clock == nil {
		clock = shared.NewClock(nil)
	}
	return &Authorizer{levels: levels, overrides: overrides, clock: clock}
}

// WithObserver attaches a decision observer.
func (a *Authorizer) WithObserver(o DecisionObserver) *Authorizer {
	a.observer = o
	return a
}

// Decide answers a query for the role the session currently acts as.
func (a *Authorizer) Decide(q Query) Decision {
	d := Decide(a.levels, q)
	if a.observer != nil {
		a.observer.ObserveDecision(q.Feature.String(), d.CanView, d.CanEdit)
	}
	return d
}

// DecideOn answers for id acting on a dated record. Windowed features are gated
// by day; override state is fetched only when it can change the outcome.
// Lookup failures keep the day locked and are returned alongside the decision.
func (a *Authorizer) DecideOn(ctx context.Context, id shared.Identity, q Query, day shared.Day) (Decision, error) {
	q.Role = id.View
	d := a.Decide(q)
	if !q.Feature.Windowed() || !d.CanEdit {
		return d, nil
	}
	today := a.clock.Today()
	if day == today || !day.Before(today) || a.overrides == nil {
		return GateHistorical(d, day, today, false), nil
	}
	unlocked, err := a.overrides.IsUnlocked(ctx, id.UserID, day)
	if err != nil {
		return GateHistorical(d, day, today, false), err
	}
	return GateHistorical(d, day, today, unlocked), nil
}

// Today exposes the authorizer's current day.
func (a *Authorizer) Today() shared.Day {
	return a.clock.Today()
}
