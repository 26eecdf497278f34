package risk

import (
	"time"

	"itendance/internal/roster"
)

// Missing pairs an offering with how much of its roster was marked on a
// date. Marked of 0 means nothing was submitted; 0 < Marked < Enrolled means
// a partial submission. Both land in the report.
type Missing struct {
	Offering roster.ClassOffering `json:"offering"`
	Marked   int                  `json:"marked"`
	Enrolled int                  `json:"enrolled"`
}

// MissingAttendance returns every offering whose record count on date is
// strictly below its enrolled-student count. A non-empty termCode narrows
// the scan to offerings in that term.
func MissingAttendance(offerings []roster.ClassOffering, records []roster.AttendanceRecord, date time.Time, termCode string) []Missing {
	day := roster.Day(date)
	counts := make(map[string]int)
	for _, r := range records {
		if roster.Day(r.Date).Equal(day) {
			counts[r.ClassID]++
		}
	}
	var out []Missing
	for _, off := range offerings {
		if termCode != "" && off.TermCode != termCode {
			continue
		}
		if counts[off.ID] < off.StudentCount {
			out = append(out, Missing{Offering: off, Marked: counts[off.ID], Enrolled: off.StudentCount})
		}
	}
	return out
}
