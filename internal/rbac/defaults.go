package rbac

import "github.com/gapt-edu/gapt/internal/access"

type defaultRow map[access.Feature]access.Level

// portalDefaults are the shipped grants before clamping. Several exceed what the
// role may hold and are reduced by DefaultMatrix.
var portalDefaults = map[access.Role]defaultRow{
	access.RoleDean: {
		access.FeatureUserDirectory:      access.LevelEditHODStaffStudents,
		access.FeatureStaffDirectory:     access.LevelViewAll,
		access.FeatureStudentDirectory:   access.LevelViewAll,
		access.FeatureCohortRegistry:     access.LevelViewAll,
		access.FeatureIdentityCreator:    access.LevelViewAll,
		access.FeatureInterlinkControl:   access.LevelViewAll,
		access.FeatureBrandingHub:        access.LevelViewAll,
		access.FeatureMarkEntry:          access.LevelViewAll,
		access.FeatureAttendanceTracking: access.LevelViewAll,
		access.FeatureStudyMaterials:     access.LevelViewAll,
		access.FeatureStaffAssignment:    access.LevelViewAll,
		access.FeatureLeaveManagement:    access.LevelEditAll,
		access.FeatureAssignments:        access.LevelViewAll,
		access.FeatureAcademicAnalytics:  access.LevelViewAll,
		access.FeatureGreenInsights:      access.LevelViewAll,
		access.FeatureMentorAssignment:   access.LevelViewAll,
	},
	access.RoleHOD: {
		access.FeatureUserDirectory:      access.LevelEditStaffStudents,
		access.FeatureStaffDirectory:     access.LevelViewAll,
		access.FeatureStudentDirectory:   access.LevelViewAll,
		access.FeatureCohortRegistry:     access.LevelViewAll,
		access.FeatureMarkEntry:          access.LevelEditAll,
		access.FeatureAttendanceTracking: access.LevelEditAll,
		access.FeatureStudyMaterials:     access.LevelEditAll,
		access.FeatureStaffAssignment:    access.LevelEditAll,
		access.FeatureLeaveManagement:    access.LevelEditAll,
		access.FeatureAssignments:        access.LevelEditAll,
		access.FeatureAcademicAnalytics:  access.LevelViewAll,
		access.FeatureGreenInsights:      access.LevelViewAll,
		access.FeatureMentorAssignment:   access.LevelEditAll,
	},
	access.RoleStaff: {
		access.FeatureUserDirectory:      access.LevelEditStudents,
		access.FeatureStaffDirectory:     access.LevelViewAll,
		access.FeatureStudentDirectory:   access.LevelViewAll,
		access.FeatureAttendanceTracking: access.LevelEditAll,
		access.FeatureStudyMaterials:     access.LevelEditAll,
		access.FeatureStaffAssignment:    access.LevelViewAll,
		access.FeatureLeaveManagement:    access.LevelEditAll,
		access.FeatureAssignments:        access.LevelEditAll,
		access.FeatureAcademicAnalytics:  access.LevelViewAll,
		access.FeatureGreenInsights:      access.LevelViewAll,
	},
	access.RoleStudent: {
		access.FeatureUserDirectory:     access.LevelViewAll,
		access.FeatureStaffDirectory:    access.LevelViewAll,
		access.FeatureStudentDirectory:  access.LevelViewAll,
		access.FeatureStudyMaterials:    access.LevelViewAll,
		access.FeatureLeaveManagement:   access.LevelEditAll,
		access.FeatureAcademicAnalytics: access.LevelViewAll,
		access.FeatureGreenInsights:     access.LevelViewAll,
	},
}

// DefaultGrants returns the seed grants: every admin cell is EDIT_ALL and the
// remaining roles carry the portal defaults clamped to their assignable sets.
func DefaultGrants() []Grant {
	var out []Grant
	for _, role := range access.Roles() {
		for _, feature := range access.Features() {
			level := access.LevelEditAll
			if role != access.RoleAdmin {
				level = access.Clamp(role, portalDefaults[role][feature])
			}
			out = append(out, Grant{Role: role, Feature: feature, Level: level})
		}
	}
	return out
}

// DefaultMatrix returns the seed matrix.
func DefaultMatrix() Matrix {
	return NewMatrix(DefaultGrants()...)
}
