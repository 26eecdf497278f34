package risk

import (
	"time"

	"itendance/internal/roster"
)

const (
	// DefaultThreshold is the consecutive-absence count at which a student
	// counts as at risk.
	DefaultThreshold = 3
	// CriticalThreshold is the stricter cut callers use to prioritize cases.
	CriticalThreshold = 5
)

// Entry is one student-class pair at or above the absence threshold.
type Entry struct {
	StudentID string      `json:"student_id"`
	ClassID   string      `json:"class_id"`
	Count     int         `json:"count"`
	Dates     []time.Time `json:"dates"`
}

// AtRisk scans every distinct student-class pair in records and keeps those
// whose trailing absence run as of refDate meets threshold. The result
// carries no ordering; callers sort for display. Pure function of its
// arguments: refDate must be supplied, never read from a clock.
func AtRisk(records []roster.AttendanceRecord, threshold int, refDate time.Time) ([]Entry, []Warning) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	type pair struct{ student, class string }
	seen := make(map[pair]bool)
	var entries []Entry
	var warns []Warning
	for _, r := range records {
		p := pair{r.StudentID, r.ClassID}
		if seen[p] {
			continue
		}
		seen[p] = true
		streak, w := ConsecutiveAbsences(records, p.student, p.class, refDate)
		warns = append(warns, w...)
		if streak.Count >= threshold {
			entries = append(entries, Entry{
				StudentID: p.student,
				ClassID:   p.class,
				Count:     streak.Count,
				Dates:     streak.Dates,
			})
		}
	}
	return entries, warns
}
