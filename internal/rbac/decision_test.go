package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gapt-edu/gapt/internal/access"
	"github.com/gapt-edu/gapt/internal/shared"
)

type fakeOverrides struct {
	unlocked map[string]bool
	err      error
	calls    int
}

func (f *fakeOverrides) IsUnlocked(ctx context.Context, requesterID string, day shared.Day) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.unlocked[requesterID+"/"+day.String()], nil
}

type countingObserver struct {
	views, edits, total int
}

func (c *countingObserver) ObserveDecision(feature string, canView, canEdit bool) {
	c.total++
	if canView {
		c.views++
	}
	if canEdit {
		c.edits++
	}
}

func fixedClock(t *testing.T, day string) *shared.Clock {
	t.Helper()
	d, err := shared.ParseDay(day)
	require.NoError(t, err)
	noon := d.Time().Add(12 * time.Hour)
	return shared.NewClock(time.UTC).WithNow(func() time.Time { return noon })
}

func mustDay(t *testing.T, raw string) shared.Day {
	t.Helper()
	d, err := shared.ParseDay(raw)
	require.NoError(t, err)
	return d
}

func TestDecideFailsClosedForMissingCells(t *testing.T) {
	empty := NewMatrix()
	for _, role := range access.Roles() {
		for _, feature := range access.Features() {
			d := Decide(empty, Query{Role: role, Feature: feature})
			assert.False(t, d.CanView, "%s %s", role, feature)
			assert.False(t, d.CanEdit, "%s %s", role, feature)
		}
	}
	assert.Equal(t, Decision{}, Decide(nil, Query{Role: access.RoleAdmin, Feature: access.FeatureMarkEntry}))
	assert.Equal(t, Decision{}, Decide(DefaultMatrix(), Query{Role: access.RoleUnknown, Feature: access.FeatureMarkEntry}))
	assert.Equal(t, Decision{}, Decide(DefaultMatrix(), Query{Role: access.RoleAdmin, Feature: access.FeatureUnknown}))
}

func TestDecideTargetsFollowSubjectScope(t *testing.T) {
	m := NewMatrix(
		Grant{Role: access.RoleHOD, Feature: access.FeatureUserDirectory, Level: access.LevelEditStaff},
		Grant{Role: access.RoleStaff, Feature: access.FeatureUserDirectory, Level: access.LevelViewAll},
		Grant{Role: access.RoleDean, Feature: access.FeatureUserDirectory, Level: access.LevelEditAll},
	)
	query := func(role, target access.Role) Decision {
		q := Query{Role: role, Feature: access.FeatureUserDirectory}
		q.Target, q.AdminTarget = TargetFor(target)
		return Decide(m, q)
	}

	d := query(access.RoleHOD, access.RoleStaff)
	assert.True(t, d.CanView)
	assert.True(t, d.CanEdit)
	assert.False(t, query(access.RoleHOD, access.RoleStudent).CanEdit)
	assert.False(t, query(access.RoleHOD, access.RoleDean).CanEdit)

	d = query(access.RoleStaff, access.RoleStudent)
	assert.True(t, d.CanView)
	assert.False(t, d.CanEdit)

	assert.True(t, query(access.RoleDean, access.RoleDean).CanEdit)
	assert.True(t, query(access.RoleDean, access.RoleAdmin).CanEdit)
	assert.True(t, Decide(m, Query{Role: access.RoleHOD, Feature: access.FeatureUserDirectory}).CanEdit)
	assert.False(t, Decide(m, Query{Role: access.RoleStaff, Feature: access.FeatureUserDirectory}).CanEdit)
}

func TestDecideAdminTargetNeedsEditAll(t *testing.T) {
	m := NewMatrix(Grant{Role: access.RoleDean, Feature: access.FeatureUserDirectory, Level: access.LevelEditHODStaffStudents})
	target, adminTarget := TargetFor(access.RoleAdmin)
	require.Nil(t, target)
	require.True(t, adminTarget)

	d := Decide(m, Query{Role: access.RoleDean, Feature: access.FeatureUserDirectory, AdminTarget: true})
	assert.True(t, d.CanView)
	assert.False(t, d.CanEdit)
}

func TestDecideSelfTarget(t *testing.T) {
	m := NewMatrix()
	leave := Decide(m, Query{Role: access.RoleStudent, Feature: access.FeatureLeaveManagement, Self: true})
	assert.True(t, leave.CanView)
	assert.True(t, leave.CanEdit)

	marks := Decide(m, Query{Role: access.RoleStudent, Feature: access.FeatureMarkEntry, Self: true})
	assert.True(t, marks.CanView)
	assert.False(t, marks.CanEdit)
}

func TestGateHistoricalNeverWidens(t *testing.T) {
	today := mustDay(t, "2024-03-10")
	past := mustDay(t, "2024-03-05")
	future := mustDay(t, "2024-03-11")
	editable := Decision{Level: access.LevelEditAll, CanView: true, CanEdit: true}
	readOnly := Decision{Level: access.LevelViewAll, CanView: true}

	assert.True(t, GateHistorical(editable, today, today, false).CanEdit)
	assert.False(t, GateHistorical(editable, past, today, false).CanEdit)
	assert.True(t, GateHistorical(editable, past, today, true).CanEdit)
	assert.False(t, GateHistorical(editable, future, today, true).CanEdit)

	for _, unlocked := range []bool{true, false} {
		for _, day := range []shared.Day{past, today, future} {
			got := GateHistorical(readOnly, day, today, unlocked)
			assert.False(t, got.CanEdit)
			assert.True(t, got.CanView)
		}
	}
}

func TestDecideOnLocksPastDaysUntilUnlocked(t *testing.T) {
	m := NewMatrix(Grant{Role: access.RoleHOD, Feature: access.FeatureAttendanceTracking, Level: access.LevelEditAll})
	overrides := &fakeOverrides{unlocked: map[string]bool{}}
	authz := NewAuthorizer(m, overrides, fixedClock(t, "2024-03-10"))
	hod := shared.NewIdentity("hod-1", "Head", "Computer Science", access.RoleHOD)
	q := Query{Feature: access.FeatureAttendanceTracking}
	day := mustDay(t, "2024-03-05")

	d, err := authz.DecideOn(context.Background(), hod, q, day)
	require.NoError(t, err)
	assert.True(t, d.CanView)
	assert.False(t, d.CanEdit)

	overrides.unlocked["hod-1/2024-03-05"] = true
	d, err = authz.DecideOn(context.Background(), hod, q, day)
	require.NoError(t, err)
	assert.True(t, d.CanEdit)

	d, err = authz.DecideOn(context.Background(), hod, q, mustDay(t, "2024-03-10"))
	require.NoError(t, err)
	assert.True(t, d.CanEdit)
	assert.Equal(t, 2, overrides.calls)
}

func TestDecideOnIgnoresDayForUnwindowedFeatures(t *testing.T) {
	m := NewMatrix(Grant{Role: access.RoleStaff, Feature: access.FeatureMarkEntry, Level: access.LevelEditStudents})
	overrides := &fakeOverrides{}
	authz := NewAuthorizer(m, overrides, fixedClock(t, "2024-03-10"))
	staff := shared.NewIdentity("staff-1", "Lecturer", "Physics", access.RoleStaff)

	d, err := authz.DecideOn(context.Background(), staff, Query{Feature: access.FeatureMarkEntry}, mustDay(t, "2023-01-01"))
	require.NoError(t, err)
	assert.True(t, d.CanEdit)
	assert.Zero(t, overrides.calls)
}

func TestDecideOnLookupFailureKeepsDayLocked(t *testing.T) {
	m := NewMatrix(Grant{Role: access.RoleHOD, Feature: access.FeatureAttendanceTracking, Level: access.LevelEditAll})
	authz := NewAuthorizer(m, &fakeOverrides{err: errors.New("timeout")}, fixedClock(t, "2024-03-10"))
	hod := shared.NewIdentity("hod-1", "Head", "Computer Science", access.RoleHOD)

	d, err := authz.DecideOn(context.Background(), hod, Query{Feature: access.FeatureAttendanceTracking}, mustDay(t, "2024-03-05"))
	require.Error(t, err)
	assert.True(t, d.CanView)
	assert.False(t, d.CanEdit)
}

func TestDecideOnUsesCurrentView(t *testing.T) {
	m := NewMatrix(
		Grant{Role: access.RoleHOD, Feature: access.FeatureMarkEntry, Level: access.LevelEditStaff},
		Grant{Role: access.RoleStudent, Feature: access.FeatureMarkEntry, Level: access.LevelViewAll},
	)
	authz := NewAuthorizer(m, nil, nil)
	hod := shared.NewIdentity("hod-1", "Head", "Computer Science", access.RoleHOD)
	require.NoError(t, hod.SetView(access.RoleStudent))

	d, err := authz.DecideOn(context.Background(), hod, Query{Role: access.RoleHOD, Feature: access.FeatureMarkEntry}, authz.Today())
	require.NoError(t, err)
	assert.Equal(t, access.LevelViewAll, d.Level)
	assert.False(t, d.CanEdit)
}

func TestAuthorizerReportsDecisions(t *testing.T) {
	observer := &countingObserver{}
	authz := NewAuthorizer(DefaultMatrix(), nil, nil).WithObserver(observer)

	authz.Decide(Query{Role: access.RoleAdmin, Feature: access.FeatureAccessMatrix})
	authz.Decide(Query{Role: access.RoleStudent, Feature: access.FeatureAccessMatrix})

	assert.Equal(t, 2, observer.total)
	assert.Equal(t, 1, observer.views)
	assert.Equal(t, 1, observer.edits)
}

func TestCanApproveLeaveFollowsMentorship(t *testing.T) {
	assert.True(t, CanApproveLeave("staff-7", "staff-7"))
	assert.False(t, CanApproveLeave("staff-8", "staff-7"))
	assert.False(t, CanApproveLeave("", ""))
}
