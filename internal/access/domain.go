package access

import (
	"errors"
	"fmt"
	"strings"
)

// Role classifies an actor. Values are ordered by seniority.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleStudent
	RoleStaff
	RoleHOD
	RoleDean
	RoleAdmin
)

// Roles lists every valid role in increasing seniority.
func Roles() []Role {
	return []Role{RoleStudent, RoleStaff, RoleHOD, RoleDean, RoleAdmin}
}

var roleNames = map[Role]string{
	RoleStudent: "STUDENT",
	RoleStaff:   "STAFF",
	RoleHOD:     "HOD",
	RoleDean:    "DEAN",
	RoleAdmin:   "ADMIN",
}

// String returns the storage name of the role.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid reports whether r is one of the five portal roles.
func (r Role) Valid() bool {
	return r >= RoleStudent && r <= RoleAdmin
}

// Seniority ranks the role; unknown roles rank below students.
func (r Role) Seniority() int {
	if !r.Valid() {
		return 0
	}
	return int(r)
}

// Category maps a role onto the subject category it belongs to when it is the target of an edit.
// Admins are not a subject category; only EDIT_ALL reaches them.
func (r Role) Category() (Category, bool) {
	switch r {
	case RoleStudent:
		return CategoryStudent, true
	case RoleStaff:
		return CategoryStaff, true
	case RoleHOD:
		return CategoryHOD, true
	case RoleDean:
		return CategoryDean, true
	}
	return 0, false
}

// Grade is a staff sub-grade carried on the user record.
type Grade string

const (
	GradeNone         Grade = ""
	GradeAssocProfI   Grade = "ASSOC_PROF_I"
	GradeAssocProfII  Grade = "ASSOC_PROF_II"
	GradeAssocProfIII Grade = "ASSOC_PROF_III"
)

// ErrUnknownRole is returned when parsing an unrecognised role name.
var ErrUnknownRole = errors.New("access: unknown role")

// ParseRole converts a stored role name. Staff sub-grades resolve to RoleStaff along with their grade.
func ParseRole(raw string) (Role, Grade, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	switch Grade(name) {
	case GradeAssocProfI, GradeAssocProfII, GradeAssocProfIII:
		return RoleStaff, Grade(name), nil
	}
	for role, n := range roleNames {
		if n == name {
			return role, GradeNone, nil
		}
	}
	return RoleUnknown, GradeNone, fmt.Errorf("%w: %q", ErrUnknownRole, raw)
}

// Feature is a capability domain gated by the permission matrix.
type Feature uint8

const (
	FeatureUnknown Feature = iota
	FeatureUserDirectory
	FeatureStaffDirectory
	FeatureStudentDirectory
	FeatureCohortRegistry
	FeatureAccessRequests
	FeatureIdentityCreator
	FeatureInterlinkControl
	FeatureBrandingHub
	FeatureAccessMatrix
	FeatureMarkEntry
	FeatureAttendanceTracking
	FeatureStudyMaterials
	FeatureStaffAssignment
	FeatureLeaveManagement
	FeatureAssignments
	FeatureAcademicAnalytics
	FeatureGreenInsights
	FeatureMentorAssignment
	featureSentinel
)

var featureNames = map[Feature]string{
	FeatureUserDirectory:      "USER_DIRECTORY",
	FeatureStaffDirectory:     "STAFF_DIRECTORY",
	FeatureStudentDirectory:   "STUDENT_DIRECTORY",
	FeatureCohortRegistry:     "COHORT_REGISTRY",
	FeatureAccessRequests:     "ACCESS_REQUESTS",
	FeatureIdentityCreator:    "IDENTITY_CREATOR",
	FeatureInterlinkControl:   "INTERLINK_CONTROL",
	FeatureBrandingHub:        "BRANDING_HUB",
	FeatureAccessMatrix:       "ACCESS_MATRIX",
	FeatureMarkEntry:          "MARK_ENTRY",
	FeatureAttendanceTracking: "ATTENDANCE_TRACKING",
	FeatureStudyMaterials:     "STUDY_MATERIALS",
	FeatureStaffAssignment:    "STAFF_ASSIGNMENT",
	FeatureLeaveManagement:    "LEAVE_MANAGEMENT",
	FeatureAssignments:        "ASSIGNMENTS",
	FeatureAcademicAnalytics:  "ACADEMIC_ANALYTICS",
	FeatureGreenInsights:      "GREEN_INSIGHTS",
	FeatureMentorAssignment:   "MENTOR_ASSIGNMENT",
}

// Features lists the closed feature set in declaration order.
func Features() []Feature {
	out := make([]Feature, 0, len(featureNames))
	for f := FeatureUserDirectory; f < featureSentinel; f++ {
		out = append(out, f)
	}
	return out
}

func (f Feature) String() string {
	if name, ok := featureNames[f]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid reports whether f belongs to the closed feature set.
func (f Feature) Valid() bool {
	return f > FeatureUnknown && f < featureSentinel
}

// Windowed reports whether records of the feature freeze once their day has passed.
func (f Feature) Windowed() bool {
	return f == FeatureAttendanceTracking
}

// SelfService reports whether an actor always edits their own records of the feature,
// independent of the matrix.
func (f Feature) SelfService() bool {
	return f == FeatureLeaveManagement
}

// ErrUnknownFeature is returned when parsing an unrecognised feature name.
var ErrUnknownFeature = errors.New("access: unknown feature")

// ParseFeature converts a stored feature name.
func ParseFeature(raw string) (Feature, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	for f, n := range featureNames {
		if n == name {
			return f, nil
		}
	}
	return FeatureUnknown, fmt.Errorf("%w: %q", ErrUnknownFeature, raw)
}

// Category is a subject category an edit grant may reach.
type Category uint8

const (
	CategoryStudent Category = iota + 1
	CategoryStaff
	CategoryHOD
	CategoryDean
)

// Categories lists every subject category.
func Categories() []Category {
	return []Category{CategoryStudent, CategoryStaff, CategoryHOD, CategoryDean}
}

func (c Category) String() string {
	switch c {
	case CategoryStudent:
		return "STUDENT"
	case CategoryStaff:
		return "STAFF"
	case CategoryHOD:
		return "HOD"
	case CategoryDean:
		return "DEAN"
	}
	return "UNKNOWN"
}

// ParseCategory converts a category name.
func ParseCategory(raw string) (Category, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	for _, c := range Categories() {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("access: unknown category %q", raw)
}

// Scope is a set of subject categories.
type Scope uint8

const (
	ScopeNone Scope = 0
	ScopeAll  Scope = 1<<CategoryStudent | 1<<CategoryStaff | 1<<CategoryHOD | 1<<CategoryDean
)

// ScopeOf builds a scope from categories.
func ScopeOf(categories ...Category) Scope {
	var s Scope
	for _, c := range categories {
		s |= 1 << c
	}
	return s
}

// Has reports whether c is in the scope.
func (s Scope) Has(c Category) bool {
	return s&(1<<c) != 0
}

// Empty reports whether the scope grants nothing.
func (s Scope) Empty() bool {
	return s == ScopeNone
}

// Contains reports whether s is a superset of other.
func (s Scope) Contains(other Scope) bool {
	return s&other == other
}

// Categories expands the scope in category order.
func (s Scope) Categories() []Category {
	var out []Category
	for _, c := range Categories() {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}
