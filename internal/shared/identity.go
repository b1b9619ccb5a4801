package shared

import (
	"fmt"

	"github.com/gapt-edu/gapt/internal/access"
)

// ViewSessionKey stores the projected role in the session.
const ViewSessionKey = "view_role"

// Identity is the authenticated actor of a request. View is the role the
// session currently acts as and never exceeds Intrinsic.
type Identity struct {
	UserID     string
	Name       string
	Department string
	Intrinsic  access.Role
	Grade      access.Grade
	View       access.Role
}

// NewIdentity builds an identity acting as its own role.
func NewIdentity(userID, name, department string, role access.Role) Identity {
	return Identity{
		UserID:     userID,
		Name:       name,
		Department: department,
		Intrinsic:  role,
		View:       role,
	}
}

// SetView projects the session onto role. Junior or equal roles are accepted;
// anything senior fails with ErrViewEscalation and leaves the view unchanged.
func (i *Identity) SetView(role access.Role) error {
	if !role.Valid() {
		return fmt.Errorf("shared: set view: %w", access.ErrUnknownRole)
	}
	if role.Seniority() > i.Intrinsic.Seniority() {
		return fmt.Errorf("shared: %s cannot act as %s: %w", i.Intrinsic, role, ErrViewEscalation)
	}
	i.View = role
	return nil
}

// Projected reports whether the session acts below its intrinsic role.
func (i Identity) Projected() bool {
	return i.View != i.Intrinsic
}

// PersistView writes the current view into the session. An unprojected view clears the key.
func (i Identity) PersistView(sess *Session) {
	if sess == nil {
		return
	}
	if !i.Projected() {
		sess.Delete(ViewSessionKey)
		return
	}
	sess.Set(ViewSessionKey, i.View.String())
}

// RestoreView applies a view stored by PersistView. Unparseable or senior
// values are dropped from the session and the view falls back to the intrinsic role.
func (i *Identity) RestoreView(sess *Session) {
	i.View = i.Intrinsic
	if sess == nil {
		return
	}
	raw := sess.Get(ViewSessionKey)
	if raw == "" {
		return
	}
	role, _, err := access.ParseRole(raw)
	if err != nil || i.SetView(role) != nil {
		sess.Delete(ViewSessionKey)
	}
}
