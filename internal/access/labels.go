package access

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Casers carry state, so each call builds its own.
func upper(s string) string { return cases.Upper(language.English).String(s) }

func title(s string) string { return cases.Title(language.English).String(s) }

// featureDisplay holds the portal names that differ from the storage names.
var featureDisplay = map[Feature]string{
	FeatureUserDirectory:      "member directory",
	FeatureAttendanceTracking: "daily attendance",
	FeatureStaffAssignment:    "hours scheduling",
	FeatureAssignments:        "deadline task",
}

func spaced(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

// Label renders the role for notifications and audit text. Role names are
// already upper case.
func (r Role) Label() string {
	return r.String()
}

// Title renders the role in title case for navigation, e.g. "Hod".
func (r Role) Title() string {
	return title(strings.ToLower(r.String()))
}

// Label renders the feature as the portal names it, e.g. "DAILY ATTENDANCE".
func (f Feature) Label() string {
	if name, ok := featureDisplay[f]; ok {
		return upper(name)
	}
	return spaced(f.String())
}

// Title renders the feature in title case for navigation.
func (f Feature) Title() string {
	return title(strings.ToLower(f.Label()))
}

// Label renders the level without underscores, e.g. "EDIT STAFF".
func (l Level) Label() string {
	return spaced(l.String())
}

// Title renders the level in title case.
func (l Level) Title() string {
	return title(strings.ToLower(l.Label()))
}
