package risk

import (
	"time"

	"itendance/internal/roster"
)

// Warning flags a store-level invariant violation found during a scan: more
// than one record exists for the same student, class, and date. The scan
// keeps going; the caller decides whether to alert on it.
type Warning struct {
	StudentID string    `json:"student_id"`
	ClassID   string    `json:"class_id"`
	Date      time.Time `json:"date"`
}

// Dedupe collapses duplicate records for the same (student, class, date),
// keeping the most recently marked one, and reports each collision.
func Dedupe(records []roster.AttendanceRecord) ([]roster.AttendanceRecord, []Warning) {
	type key struct {
		student, class string
		day            time.Time
	}
	seen := make(map[key]int, len(records))
	out := make([]roster.AttendanceRecord, 0, len(records))
	var warns []Warning
	for _, r := range records {
		k := key{r.StudentID, r.ClassID, roster.Day(r.Date)}
		if i, ok := seen[k]; ok {
			warns = append(warns, Warning{StudentID: r.StudentID, ClassID: r.ClassID, Date: k.day})
			if r.MarkedAt.After(out[i].MarkedAt) {
				out[i] = r
			}
			continue
		}
		seen[k] = len(out)
		out = append(out, r)
	}
	return out, warns
}
