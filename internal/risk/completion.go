package risk

import (
	"fmt"
	"time"

	"itendance/internal/roster"
)

// CompletionRate returns the percentage of expected attendance records that
// actually exist for crn between start and end, both inclusive.
//
// Expected counts one record per enrolled student per calendar day. Weekends
// and holidays are not excluded: every calendar day is a session day. A
// dropped student stops contributing expected days after their drop date, so
// a student dropped before the range adds nothing.
//
// Returns 0 when the expected count is 0. Duplicate submissions for one day
// inflate the actual count; the store-level uniqueness invariant is enforced
// upstream, not here.
func CompletionRate(students []roster.Student, records []roster.AttendanceRecord, crn string, start, end time.Time) (float64, error) {
	start, end = roster.Day(start), roster.Day(end)
	if end.Before(start) {
		return 0, fmt.Errorf("completion for %s: %w: %s to %s", crn,
			roster.ErrInvalidRange, start.Format(time.DateOnly), end.Format(time.DateOnly))
	}

	expected := 0
	for _, s := range students {
		last := end
		if s.Dropped && s.DropDate != nil {
			if drop := roster.Day(*s.DropDate); drop.Before(last) {
				last = drop
			}
		}
		if last.Before(start) {
			continue
		}
		expected += daysInclusive(start, last)
	}
	if expected == 0 {
		return 0, nil
	}

	actual := 0
	for _, r := range records {
		if r.CRN != crn {
			continue
		}
		d := roster.Day(r.Date)
		if !d.Before(start) && !d.After(end) {
			actual++
		}
	}
	return float64(actual) / float64(expected) * 100, nil
}

// daysInclusive counts calendar days from a through b. Both are UTC
// midnights, so plain division is safe.
func daysInclusive(a, b time.Time) int {
	return int(b.Sub(a)/(24*time.Hour)) + 1
}
