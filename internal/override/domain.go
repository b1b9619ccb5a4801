// Package override implements the three-approver workflow that reopens past
// days of windowed records for editing.
package override

import (
	"errors"
	"strings"
	"time"

	"github.com/gapt-edu/gapt/internal/access"
	"github.com/gapt-edu/gapt/internal/shared"
)

var (
	// ErrInvalidApprover rejects approvals from roles outside the quorum.
	ErrInvalidApprover = errors.New("override: role cannot approve ledger overrides")
	// ErrNotHistorical rejects petitions and approvals for today or later.
	ErrNotHistorical = errors.New("override: day is not in the past")
	// ErrRequestNotFound is returned when no petition exists for the day.
	ErrRequestNotFound = errors.New("override: request not found")
)

// State describes whether a requester may edit a given day.
type State uint8

const (
	StateCurrent State = iota
	StateHistoricalLocked
	StateHistoricalUnlocked
)

func (s State) String() string {
	switch s {
	case StateCurrent:
		return "CURRENT"
	case StateHistoricalUnlocked:
		return "HISTORICAL_UNLOCKED"
	default:
		return "HISTORICAL_LOCKED"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Approvers lists the quorum roles in the order approvals are reported.
func Approvers() []access.Role {
	return []access.Role{access.RoleAdmin, access.RoleDean, access.RoleHOD}
}

// IsApprover reports whether role belongs to the quorum.
func IsApprover(role access.Role) bool {
	switch role {
	case access.RoleAdmin, access.RoleDean, access.RoleHOD:
		return true
	}
	return false
}

// Request is one petition to edit a past day. Approval flags only ever go
// from false to true.
type Request struct {
	ID            string     `json:"id"`
	RequesterID   string     `json:"requester_id"`
	RequesterName string     `json:"requester_name"`
	Department    string     `json:"department"`
	Day           shared.Day `json:"day"`
	AdminApproved bool       `json:"admin_approved"`
	DeanApproved  bool       `json:"dean_approved"`
	HODApproved   bool       `json:"hod_approved"`
	CreatedAt     time.Time  `json:"created_at"`
}

// FullyGranted reports whether all three approvals are present.
func (r Request) FullyGranted() bool {
	return r.AdminApproved && r.DeanApproved && r.HODApproved
}

// ApprovedBy reports whether role has already approved.
func (r Request) ApprovedBy(role access.Role) bool {
	switch role {
	case access.RoleAdmin:
		return r.AdminApproved
	case access.RoleDean:
		return r.DeanApproved
	case access.RoleHOD:
		return r.HODApproved
	}
	return false
}

// WithApproval returns r carrying role's approval.
func (r Request) WithApproval(role access.Role) Request {
	switch role {
	case access.RoleAdmin:
		r.AdminApproved = true
	case access.RoleDean:
		r.DeanApproved = true
	case access.RoleHOD:
		r.HODApproved = true
	}
	return r
}

// Merge ORs the approval flags of other into r.
func (r Request) Merge(other Request) Request {
	r.AdminApproved = r.AdminApproved || other.AdminApproved
	r.DeanApproved = r.DeanApproved || other.DeanApproved
	r.HODApproved = r.HODApproved || other.HODApproved
	return r
}

// Missing lists the quorum roles that have not approved yet.
func (r Request) Missing() []access.Role {
	var out []access.Role
	for _, role := range Approvers() {
		if !r.ApprovedBy(role) {
			out = append(out, role)
		}
	}
	return out
}

// PendingFor reports whether the request still waits on role.
func (r Request) PendingFor(role access.Role) bool {
	return IsApprover(role) && !r.ApprovedBy(role)
}

// DepartmentBase strips the parenthesised suffix of a department name, so
// "Computer Science (CSE)" becomes "Computer Science".
func DepartmentBase(department string) string {
	base, _, _ := strings.Cut(department, " (")
	return strings.TrimSpace(base)
}

// InDepartment reports whether the request belongs to the department of an
// HOD named department. An HOD without a department matches nothing.
func (r Request) InDepartment(department string) bool {
	base := DepartmentBase(department)
	if base == "" {
		return false
	}
	return strings.HasPrefix(r.Department, base)
}

type key struct {
	requester string
	day       shared.Day
}

func keyOf(requesterID string, day shared.Day) key {
	return key{requester: requesterID, day: day}
}
