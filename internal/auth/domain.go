package auth

import (
	"time"

	"github.com/gapt-edu/gapt/internal/access"
	"github.com/gapt-edu/gapt/internal/shared"
)

// User represents a portal account.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         access.Role
	Grade        access.Grade
	Department   string
	MentorID     string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity returns the request identity of u acting as its own role.
func (u User) Identity() shared.Identity {
	id := shared.NewIdentity(u.ID, u.Name, u.Department, u.Role)
	id.Grade = u.Grade
	return id
}
