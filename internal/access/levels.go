package access

import (
	"errors"
	"fmt"
	"strings"
)

// Level is a grant held by a role on a feature. Declaration order is a linear
// extension of the privilege partial order and is the order used for rendering.
type Level uint8

const (
	LevelNoAccess Level = iota
	LevelViewAll
	LevelEditStudents
	LevelEditStaff
	LevelEditHOD
	LevelEditDean
	LevelEditStaffStudents
	LevelEditHODStaff
	LevelEditHODStaffStudents
	LevelEditAll
	levelSentinel
)

type levelInfo struct {
	name  string
	scope Scope
	view  bool
}

var levelTable = [...]levelInfo{
	LevelNoAccess:             {name: "NO_ACCESS"},
	LevelViewAll:              {name: "VIEW_ALL", view: true},
	LevelEditStudents:         {name: "EDIT_STUDENTS", view: true, scope: ScopeOf(CategoryStudent)},
	LevelEditStaff:            {name: "EDIT_STAFF", view: true, scope: ScopeOf(CategoryStaff)},
	LevelEditHOD:              {name: "EDIT_HOD", view: true, scope: ScopeOf(CategoryHOD)},
	LevelEditDean:             {name: "EDIT_DEAN", view: true, scope: ScopeOf(CategoryDean)},
	LevelEditStaffStudents:    {name: "EDIT_STAFF_STUDENTS", view: true, scope: ScopeOf(CategoryStaff, CategoryStudent)},
	LevelEditHODStaff:         {name: "EDIT_HOD_STAFF", view: true, scope: ScopeOf(CategoryHOD, CategoryStaff)},
	LevelEditHODStaffStudents: {name: "EDIT_HOD_STAFF_STUDENTS", view: true, scope: ScopeOf(CategoryHOD, CategoryStaff, CategoryStudent)},
	LevelEditAll:              {name: "EDIT_ALL", view: true, scope: ScopeAll},
}

// Levels lists every level in increasing-privilege order.
func Levels() []Level {
	out := make([]Level, 0, int(levelSentinel))
	for l := LevelNoAccess; l < levelSentinel; l++ {
		out = append(out, l)
	}
	return out
}

func (l Level) String() string {
	if !l.Valid() {
		return "UNKNOWN"
	}
	return levelTable[l].name
}

// Valid reports whether l is a declared level.
func (l Level) Valid() bool {
	return l < levelSentinel
}

// CanView reports whether the level grants read access.
func (l Level) CanView() bool {
	return l.Valid() && levelTable[l].view
}

// Administers reports whether the level reaches the administrative surface itself.
func (l Level) Administers() bool {
	return l == LevelEditAll
}

// Covers reports whether l grants at least everything other grants.
func (l Level) Covers(other Level) bool {
	if !l.Valid() || !other.Valid() {
		return false
	}
	if other == LevelNoAccess {
		return true
	}
	if other.CanView() && !l.CanView() {
		return false
	}
	if other.Administers() && !l.Administers() {
		return false
	}
	return SubjectScope(l).Contains(SubjectScope(other))
}

// ErrUnknownLevel is returned when parsing an unrecognised level name.
var ErrUnknownLevel = errors.New("access: unknown level")

// ParseLevel converts a stored level name.
func ParseLevel(raw string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	for l := LevelNoAccess; l < levelSentinel; l++ {
		if levelTable[l].name == name {
			return l, nil
		}
	}
	return LevelNoAccess, fmt.Errorf("%w: %q", ErrUnknownLevel, raw)
}

// SubjectScope returns the categories a level may mutate. View-only and
// unknown levels have an empty scope.
func SubjectScope(l Level) Scope {
	if !l.Valid() {
		return ScopeNone
	}
	return levelTable[l].scope
}

var (
	studentLevels = []Level{LevelNoAccess, LevelViewAll}
	staffLevels   = append(append([]Level{}, studentLevels...), LevelEditStudents)
	hodLevels     = append(append([]Level{}, staffLevels...), LevelEditStaff)
)

// AssignableLevels returns the levels role may hold, in increasing-privilege order.
// Each role's set contains every set of the roles junior to it.
func AssignableLevels(role Role) []Level {
	var src []Level
	switch role {
	case RoleStudent:
		src = studentLevels
	case RoleStaff:
		src = staffLevels
	case RoleHOD:
		src = hodLevels
	case RoleDean, RoleAdmin:
		return Levels()
	default:
		return nil
	}
	out := make([]Level, len(src))
	copy(out, src)
	return out
}

// IsAssignable reports whether level may be stored for role.
func IsAssignable(role Role, level Level) bool {
	for _, l := range AssignableLevels(role) {
		if l == level {
			return true
		}
	}
	return false
}

// ErrConfiguration marks an attempted grant outside the role's assignable set.
var ErrConfiguration = errors.New("access: level not assignable to role")

// ValidateGrant returns an error wrapping ErrConfiguration when level cannot be stored for role.
func ValidateGrant(role Role, level Level) error {
	if !role.Valid() {
		return fmt.Errorf("%w: role %s", ErrConfiguration, role)
	}
	if !level.Valid() {
		return fmt.Errorf("%w: level %d", ErrConfiguration, level)
	}
	if !IsAssignable(role, level) {
		return fmt.Errorf("%w: %s cannot hold %s", ErrConfiguration, role, level)
	}
	return nil
}

// Clamp returns the most privileged level assignable to role that level covers.
// Assignable levels are returned unchanged.
func Clamp(role Role, level Level) Level {
	best := LevelNoAccess
	for _, l := range AssignableLevels(role) {
		if level.Covers(l) {
			best = l
		}
	}
	return best
}
