package risk

import (
	"sort"
	"time"

	"itendance/internal/roster"
)

// Streak is an unbroken trailing run of absences for one student in one
// class. Dates are ascending for display.
type Streak struct {
	Count int         `json:"count"`
	Dates []time.Time `json:"dates"`
}

// ConsecutiveAbsences returns the trailing run of absent records for
// (studentID, classID) ending at or before asOf.
//
// Days with no record are not absences: a gap in recording neither extends
// nor breaks the run. The run ends at the first record whose status is
// present, late, or excused.
func ConsecutiveAbsences(records []roster.AttendanceRecord, studentID, classID string, asOf time.Time) (Streak, []Warning) {
	cutoff := roster.Day(asOf)
	scoped := make([]roster.AttendanceRecord, 0, len(records))
	for _, r := range records {
		if r.StudentID == studentID && r.ClassID == classID && !roster.Day(r.Date).After(cutoff) {
			scoped = append(scoped, r)
		}
	}
	deduped, warns := Dedupe(scoped)
	sort.Slice(deduped, func(i, j int) bool {
		return deduped[i].Date.After(deduped[j].Date)
	})

	var dates []time.Time
	for _, r := range deduped {
		if r.Status != roster.StatusAbsent {
			break
		}
		dates = append(dates, roster.Day(r.Date))
	}
	for i, j := 0, len(dates)-1; i < j; i, j = i+1, j-1 {
		dates[i], dates[j] = dates[j], dates[i]
	}
	return Streak{Count: len(dates), Dates: dates}, warns
}
