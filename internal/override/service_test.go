package override

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gapt-edu/gapt/internal/access"
	"github.com/gapt-edu/gapt/internal/notify"
	"github.com/gapt-edu/gapt/internal/rbac"
	"github.com/gapt-edu/gapt/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	rows    map[key]Request
	gets    int
	err     error
	upserts int
}

func newMemoryRepo(rows ...Request) *memoryRepo {
	m := &memoryRepo{rows: make(map[key]Request)}
	for _, r := range rows {
		m.rows[keyOf(r.RequesterID, r.Day)] = r
	}
	return m
}

func (m *memoryRepo) LoadRequests(ctx context.Context) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []Request
	for _, r := range m.rows {
		if !r.FullyGranted() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryRepo) GetRequest(ctx context.Context, requesterID string, day shared.Day) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.err != nil {
		return Request{}, m.err
	}
	r, ok := m.rows[keyOf(requesterID, day)]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	return r, nil
}

func (m *memoryRepo) UpsertRequest(ctx context.Context, req Request) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Request{}, m.err
	}
	m.upserts++
	k := keyOf(req.RequesterID, req.Day)
	if stored, ok := m.rows[k]; ok {
		req = stored.Merge(req)
	}
	m.rows[k] = req
	return req, nil
}

type recordingEmitter struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (e *recordingEmitter) Emit(ctx context.Context, n notify.Notification) (notify.Notification, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, n)
	return n, nil
}

func (e *recordingEmitter) kinds() []notify.Kind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]notify.Kind, 0, len(e.sent))
	for _, n := range e.sent {
		out = append(out, n.Kind)
	}
	return out
}

func clockAt(t *testing.T, day string) *shared.Clock {
	t.Helper()
	d := mustDay(t, day)
	at := d.Time().Add(9 * time.Hour)
	return shared.NewClock(time.UTC).WithNow(func() time.Time { return at })
}

func mustDay(t *testing.T, raw string) shared.Day {
	t.Helper()
	d, err := shared.ParseDay(raw)
	require.NoError(t, err)
	return d
}

var hod = shared.NewIdentity("hod-1", "Dr. Rao", "Computer Science (CSE)", access.RoleHOD)

func TestPetitionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	emitter := &recordingEmitter{}
	svc := NewService(repo, ServiceConfig{Notifier: emitter, Clock: clockAt(t, "2024-03-10")})
	day := mustDay(t, "2024-03-05")

	first, err := svc.Petition(ctx, hod, day, access.RoleUnknown)
	require.NoError(t, err)
	second, err := svc.Petition(ctx, hod, day, access.RoleDean)
	require.NoError(t, err)

	assert.Len(t, repo.rows, 1)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Computer Science (CSE)", second.Department)
	require.Len(t, emitter.sent, 2)
	assert.Equal(t, "Ledger Authority Petition: [Dr. Rao] for 2024-03-05. Awaiting: ADMIN, DEAN, HOD.", emitter.sent[0].Message)
	assert.Equal(t, "Ledger Authority Petition: [Dr. Rao] for 2024-03-05. Route: DEAN.", emitter.sent[1].Message)
	assert.Equal(t, notify.KindEditRequest, emitter.sent[0].Kind)
	assert.True(t, emitter.sent[0].Broadcast())
}

func TestPetitionOnUnlockedRequestStillNotifies(t *testing.T) {
	day := mustDay(t, "2024-03-05")
	repo := newMemoryRepo(Request{
		ID:            "req-1",
		RequesterID:   "hod-1",
		RequesterName: "Dr. Rao",
		Department:    "Computer Science (CSE)",
		Day:           day,
		AdminApproved: true,
		DeanApproved:  true,
		HODApproved:   true,
	})
	emitter := &recordingEmitter{}
	svc := NewService(repo, ServiceConfig{Notifier: emitter, Clock: clockAt(t, "2024-03-10")})

	req, err := svc.Petition(context.Background(), hod, day, access.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, req.FullyGranted())
	require.Len(t, emitter.sent, 1)
	assert.Equal(t, notify.KindEditRequest, emitter.sent[0].Kind)
	assert.Equal(t, "Ledger Authority Petition: [Dr. Rao] for 2024-03-05. Already unlocked.", emitter.sent[0].Message)
}

func TestPetitionRejectsTodayAndFuture(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{Clock: clockAt(t, "2024-03-10")})

	for _, raw := range []string{"2024-03-10", "2024-03-11"} {
		_, err := svc.Petition(ctx, hod, mustDay(t, raw), access.RoleUnknown)
		require.ErrorIs(t, err, ErrNotHistorical, raw)
	}
	_, err := svc.Petition(ctx, hod, shared.Day{}, access.RoleUnknown)
	require.ErrorIs(t, err, ErrNotHistorical)
	assert.Zero(t, repo.upserts)
}

func TestPetitionRejectsNonApproverRoute(t *testing.T) {
	svc := NewService(newMemoryRepo(), ServiceConfig{Clock: clockAt(t, "2024-03-10")})
	_, err := svc.Petition(context.Background(), hod, mustDay(t, "2024-03-01"), access.RoleStaff)
	require.ErrorIs(t, err, ErrInvalidApprover)
}

func TestQuorumNeedsAllThreeInAnyOrder(t *testing.T) {
	orders := [][]access.Role{
		{access.RoleAdmin, access.RoleDean, access.RoleHOD},
		{access.RoleHOD, access.RoleAdmin, access.RoleDean},
		{access.RoleDean, access.RoleHOD, access.RoleAdmin},
	}
	day := mustDay(t, "2024-03-05")
	for _, order := range orders {
		ctx := context.Background()
		emitter := &recordingEmitter{}
		svc := NewService(newMemoryRepo(), ServiceConfig{Notifier: emitter, Clock: clockAt(t, "2024-03-10")})
		_, err := svc.Petition(ctx, hod, day, access.RoleUnknown)
		require.NoError(t, err)

		for i, role := range order {
			unlocked, err := svc.IsUnlocked(ctx, hod.UserID, day)
			require.NoError(t, err)
			assert.False(t, unlocked, "before approval %d of %v", i+1, order)

			_, err = svc.Approve(ctx, hod.UserID, day, role)
			require.NoError(t, err)
		}
		unlocked, err := svc.IsUnlocked(ctx, hod.UserID, day)
		require.NoError(t, err)
		assert.True(t, unlocked, "%v", order)

		state, err := svc.State(ctx, hod.UserID, day)
		require.NoError(t, err)
		assert.Equal(t, StateHistoricalUnlocked, state)

		assert.Equal(t, []notify.Kind{
			notify.KindEditRequest,
			notify.KindEditApproved,
			notify.KindEditApproved,
			notify.KindEditApproved,
			notify.KindLedgerUnlocked,
		}, emitter.kinds())
	}
}

func TestApproveValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo(), ServiceConfig{Clock: clockAt(t, "2024-03-10")})
	past := mustDay(t, "2024-03-05")

	_, err := svc.Approve(ctx, "hod-1", past, access.RoleStaff)
	require.ErrorIs(t, err, ErrInvalidApprover)
	_, err = svc.Approve(ctx, "hod-1", past, access.RoleStudent)
	require.ErrorIs(t, err, ErrInvalidApprover)
	_, err = svc.Approve(ctx, "hod-1", past, access.RoleAdmin)
	require.ErrorIs(t, err, ErrRequestNotFound)
	_, err = svc.Approve(ctx, "hod-1", mustDay(t, "2024-03-10"), access.RoleAdmin)
	require.ErrorIs(t, err, ErrNotHistorical)
}

func TestApproveTwiceIsNoop(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	emitter := &recordingEmitter{}
	svc := NewService(repo, ServiceConfig{Notifier: emitter, Clock: clockAt(t, "2024-03-10")})
	day := mustDay(t, "2024-03-05")
	_, err := svc.Petition(ctx, hod, day, access.RoleUnknown)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, hod.UserID, day, access.RoleDean)
	require.NoError(t, err)
	again, err := svc.Approve(ctx, hod.UserID, day, access.RoleDean)
	require.NoError(t, err)

	assert.True(t, again.DeanApproved)
	assert.Equal(t, 2, repo.upserts)
	assert.Len(t, emitter.sent, 2)
	assert.Equal(t, "Ledger Authority Update: DEAN has authorized modification access for 2024-03-05.", emitter.sent[1].Message)
	assert.Equal(t, hod.UserID, emitter.sent[1].UserID)
}

func TestApprovalsNeverClobberEachOther(t *testing.T) {
	ctx := context.Background()
	day := mustDay(t, "2024-03-05")
	repo := newMemoryRepo(Request{ID: "r-1", RequesterID: "staff-1", Day: day})
	svc := NewService(repo, ServiceConfig{Clock: clockAt(t, "2024-03-10")})

	var wg sync.WaitGroup
	for _, role := range Approvers() {
		wg.Add(1)
		go func(role access.Role) {
			defer wg.Done()
			_, err := svc.Approve(ctx, "staff-1", day, role)
			assert.NoError(t, err)
		}(role)
	}
	wg.Wait()

	unlocked, err := svc.IsUnlocked(ctx, "staff-1", day)
	require.NoError(t, err)
	assert.True(t, unlocked)
}

func TestUnlockedRequestsAreServedFromCache(t *testing.T) {
	ctx := context.Background()
	day := mustDay(t, "2024-03-05")
	repo := newMemoryRepo(Request{RequesterID: "staff-1", Day: day, AdminApproved: true, DeanApproved: true, HODApproved: true})
	svc := NewService(repo, ServiceConfig{Clock: clockAt(t, "2024-03-10")})

	for i := 0; i < 3; i++ {
		unlocked, err := svc.IsUnlocked(ctx, "staff-1", day)
		require.NoError(t, err)
		assert.True(t, unlocked)
	}
	assert.Equal(t, 1, repo.gets)
	assert.Equal(t, 1, svc.unlocked.len())
}

func TestLockedRequestsAreNotCached(t *testing.T) {
	ctx := context.Background()
	day := mustDay(t, "2024-03-05")
	repo := newMemoryRepo(Request{RequesterID: "staff-1", Day: day, AdminApproved: true})
	svc := NewService(repo, ServiceConfig{Clock: clockAt(t, "2024-03-10")})

	for i := 0; i < 2; i++ {
		unlocked, err := svc.IsUnlocked(ctx, "staff-1", day)
		require.NoError(t, err)
		assert.False(t, unlocked)
	}
	assert.Equal(t, 2, repo.gets)

	unlocked, err := svc.IsUnlocked(ctx, "nobody", day)
	require.NoError(t, err)
	assert.False(t, unlocked)
}

func TestStorageFailuresAreWrapped(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	repo.err = errors.New("conn refused")
	svc := NewService(repo, ServiceConfig{Clock: clockAt(t, "2024-03-10")})
	day := mustDay(t, "2024-03-05")

	_, err := svc.IsUnlocked(ctx, "staff-1", day)
	require.ErrorIs(t, err, shared.ErrStorage)
	_, err = svc.Petition(ctx, hod, day, access.RoleUnknown)
	require.ErrorIs(t, err, shared.ErrStorage)
	state, err := svc.State(ctx, "staff-1", day)
	require.ErrorIs(t, err, shared.ErrStorage)
	assert.Equal(t, StateHistoricalLocked, state)
}

func TestStateClassifiesDays(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo(), ServiceConfig{Clock: clockAt(t, "2024-03-10")})

	state, err := svc.State(ctx, "staff-1", mustDay(t, "2024-03-10"))
	require.NoError(t, err)
	assert.Equal(t, StateCurrent, state)

	state, err = svc.State(ctx, "staff-1", mustDay(t, "2024-03-09"))
	require.NoError(t, err)
	assert.Equal(t, StateHistoricalLocked, state)

	state, err = svc.State(ctx, "staff-1", mustDay(t, "2024-03-12"))
	require.NoError(t, err)
	assert.Equal(t, StateHistoricalLocked, state)
	assert.Equal(t, "HISTORICAL_LOCKED", state.String())
}

func TestListPendingFiltersByApprover(t *testing.T) {
	ctx := context.Background()
	day := mustDay(t, "2024-03-05")
	repo := newMemoryRepo(
		Request{RequesterID: "staff-cse", Department: "Computer Science (CSE)", Day: day, AdminApproved: true},
		Request{RequesterID: "staff-mech", Department: "Mechanical (MECH)", Day: day, DeanApproved: true},
		Request{RequesterID: "staff-done", Department: "Computer Science (CSE)", Day: day, AdminApproved: true, DeanApproved: true, HODApproved: true},
	)
	svc := NewService(repo, ServiceConfig{Clock: clockAt(t, "2024-03-10")})

	requesters := func(id shared.Identity) []string {
		pending, err := svc.ListPending(ctx, id)
		require.NoError(t, err)
		var out []string
		for _, r := range pending {
			out = append(out, r.RequesterID)
		}
		return out
	}

	admin := shared.NewIdentity("admin-1", "Registrar", "", access.RoleAdmin)
	dean := shared.NewIdentity("dean-1", "Dean", "", access.RoleDean)
	mechHOD := shared.NewIdentity("hod-2", "Dr. Iyer", "Mechanical (MECH)", access.RoleHOD)
	orphanHOD := shared.NewIdentity("hod-3", "Dr. Sen", "", access.RoleHOD)

	assert.Equal(t, []string{"staff-mech"}, requesters(admin))
	assert.Equal(t, []string{"staff-cse"}, requesters(dean))
	assert.Equal(t, []string{"staff-cse"}, requesters(hod))
	assert.Equal(t, []string{"staff-mech"}, requesters(mechHOD))
	assert.Empty(t, requesters(orphanHOD))

	staff := shared.NewIdentity("staff-1", "Lecturer", "Computer Science (CSE)", access.RoleStaff)
	_, err := svc.ListPending(ctx, staff)
	require.ErrorIs(t, err, ErrInvalidApprover)
}

func TestHistoricalEditGatedUntilUnlocked(t *testing.T) {
	ctx := context.Background()
	clock := clockAt(t, "2024-03-10")
	day := mustDay(t, "2024-03-05")
	repo := newMemoryRepo(Request{
		RequesterID:   "hod-1",
		RequesterName: "Dr. Rao",
		Department:    "Computer Science (CSE)",
		Day:           day,
		AdminApproved: true,
		DeanApproved:  true,
	})
	svc := NewService(repo, ServiceConfig{Clock: clock})
	matrix := rbac.NewMatrix(rbac.Grant{Role: access.RoleHOD, Feature: access.FeatureAttendanceTracking, Level: access.LevelEditAll})
	authz := rbac.NewAuthorizer(matrix, svc, clock)
	q := rbac.Query{Feature: access.FeatureAttendanceTracking}

	d, err := authz.DecideOn(ctx, hod, q, day)
	require.NoError(t, err)
	assert.True(t, d.CanView)
	assert.False(t, d.CanEdit)

	_, err = svc.Approve(ctx, "hod-1", day, access.RoleHOD)
	require.NoError(t, err)
	unlocked, err := svc.IsUnlocked(ctx, "hod-1", day)
	require.NoError(t, err)
	require.True(t, unlocked)

	d, err = authz.DecideOn(ctx, hod, q, day)
	require.NoError(t, err)
	assert.True(t, d.CanEdit)
}

func TestHistoricalEditLockedWithoutRequest(t *testing.T) {
	clock := clockAt(t, "2024-03-10")
	svc := NewService(newMemoryRepo(), ServiceConfig{Clock: clock})
	matrix := rbac.NewMatrix(rbac.Grant{Role: access.RoleStaff, Feature: access.FeatureAttendanceTracking, Level: access.LevelEditAll})
	authz := rbac.NewAuthorizer(matrix, svc, clock)
	staff := shared.NewIdentity("staff-1", "Lecturer", "Physics", access.RoleStaff)

	for _, raw := range []string{"2024-03-09", "2024-01-01"} {
		d, err := authz.DecideOn(context.Background(), staff, rbac.Query{Feature: access.FeatureAttendanceTracking}, mustDay(t, raw))
		require.NoError(t, err)
		assert.False(t, d.CanEdit, raw)
	}
	d, err := authz.DecideOn(context.Background(), staff, rbac.Query{Feature: access.FeatureAttendanceTracking}, mustDay(t, "2024-03-10"))
	require.NoError(t, err)
	assert.True(t, d.CanEdit)
}

func TestDepartmentBase(t *testing.T) {
	assert.Equal(t, "Computer Science", DepartmentBase("Computer Science (CSE)"))
	assert.Equal(t, "Physics", DepartmentBase("Physics"))
	assert.Equal(t, "", DepartmentBase(""))
}

func TestApproveAsUsesIntrinsicRole(t *testing.T) {
	ctx := context.Background()
	day := mustDay(t, "2024-03-05")
	svc := NewService(newMemoryRepo(), ServiceConfig{Clock: clockAt(t, "2024-03-10")})
	_, err := svc.Petition(ctx, hod, day, access.RoleUnknown)
	require.NoError(t, err)

	admin := shared.NewIdentity("admin-1", "Registrar", "", access.RoleAdmin)
	req, err := svc.ApproveAs(ctx, admin, "hod-1", day)
	require.NoError(t, err)
	assert.True(t, req.AdminApproved)

	for _, view := range []access.Role{access.RoleDean, access.RoleHOD} {
		projected := admin
		require.NoError(t, projected.SetView(view))
		_, err = svc.ApproveAs(ctx, projected, "hod-1", day)
		require.ErrorIs(t, err, ErrInvalidApprover, view.String())
		_, err = svc.ListPending(ctx, projected)
		require.ErrorIs(t, err, ErrInvalidApprover, view.String())
	}

	req, err = svc.GetRequest(ctx, "hod-1", day)
	require.NoError(t, err)
	assert.False(t, req.DeanApproved)
	assert.False(t, req.HODApproved)
}

func TestApproveAsKeepsHODToOwnDepartment(t *testing.T) {
	ctx := context.Background()
	day := mustDay(t, "2024-03-05")
	svc := NewService(newMemoryRepo(), ServiceConfig{Clock: clockAt(t, "2024-03-10")})
	staff := shared.NewIdentity("staff-1", "Lecturer", "Computer Science (CSE)", access.RoleStaff)
	_, err := svc.Petition(ctx, staff, day, access.RoleUnknown)
	require.NoError(t, err)

	mechHOD := shared.NewIdentity("hod-2", "Dr. Iyer", "Mechanical (MECH)", access.RoleHOD)
	_, err = svc.ApproveAs(ctx, mechHOD, "staff-1", day)
	require.ErrorIs(t, err, ErrInvalidApprover)

	req, err := svc.ApproveAs(ctx, hod, "staff-1", day)
	require.NoError(t, err)
	assert.True(t, req.HODApproved)
}
