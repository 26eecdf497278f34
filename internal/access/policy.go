package access

import (
	"time"

	"itendance/internal/roster"
)

// Policy decides which class offerings a user may view and mark.
type Policy struct {
	// CheckAssignmentDates additionally requires today to fall inside a
	// substitute assignment's date range. Legacy behavior consults only the
	// active flag; assignments are deactivated by hand. Both are supported
	// until the registrar settles which is authoritative.
	CheckAssignmentDates bool
}

// CanView reports whether user may see attendance for class. First matching
// role rule wins; no match means denied.
//
// assignments are the substitute assignments on file for this user and
// class. today is consulted only when CheckAssignmentDates is set.
func (p Policy) CanView(user roster.User, class roster.ClassOffering, assignments []roster.SubstituteAssignment, today time.Time) bool {
	switch user.Role {
	case roster.RoleAdmin:
		return true
	case roster.RoleDepartmental:
		return class.Department == user.Department
	case roster.RoleTeacher:
		return class.TeacherID == user.ID
	case roster.RoleGuestTeacher:
		for _, a := range assignments {
			if a.ClassID != class.ID || a.SubstituteID != user.ID || !a.Active {
				continue
			}
			if p.CheckAssignmentDates && !withinDays(today, a.StartDate, a.EndDate) {
				continue
			}
			return true
		}
		return false
	default:
		return false
	}
}

// withinDays reports whether t falls in [start, end] at day granularity.
func withinDays(t, start, end time.Time) bool {
	d := roster.Day(t)
	return !d.Before(roster.Day(start)) && !d.After(roster.Day(end))
}
