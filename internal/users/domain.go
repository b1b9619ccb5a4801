// Package users serves the member directory and mentor links.
package users

import (
	"errors"
	"time"

	"github.com/gapt-edu/gapt/internal/access"
)

// ErrInvalidMentor rejects mentor links that do not point at a staff-side member.
var ErrInvalidMentor = errors.New("users: mentor must be staff, HOD or dean")

// Member is a directory entry.
type Member struct {
	ID         string       `json:"id"`
	Email      string       `json:"email"`
	Name       string       `json:"name"`
	Role       access.Role  `json:"-"`
	Grade      access.Grade `json:"grade,omitempty"`
	Department string       `json:"department,omitempty"`
	MentorID   string       `json:"mentor_id,omitempty"`
	IsActive   bool         `json:"is_active"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Listing is a member as seen by a particular viewer.
type Listing struct {
	Member
	Role    string `json:"role"`
	CanEdit bool   `json:"can_edit"`
}

// directoryFeature picks the directory a member is listed under.
func directoryFeature(role access.Role) access.Feature {
	switch role {
	case access.RoleStudent:
		return access.FeatureStudentDirectory
	case access.RoleStaff, access.RoleHOD, access.RoleDean:
		return access.FeatureStaffDirectory
	}
	return access.FeatureUserDirectory
}

func canMentor(role access.Role) bool {
	switch role {
	case access.RoleStaff, access.RoleHOD, access.RoleDean:
		return true
	}
	return false
}
