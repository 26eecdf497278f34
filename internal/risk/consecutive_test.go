package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itendance/internal/roster"
)

func day(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return d
}

func rec(studentID, classID, date string, status roster.Status) roster.AttendanceRecord {
	return roster.AttendanceRecord{
		StudentID: studentID,
		ClassID:   classID,
		CRN:       "10001",
		Date:      day(date),
		Status:    status,
		MarkedAt:  day(date).Add(8 * time.Hour),
	}
}

func TestConsecutiveAbsences(t *testing.T) {
	tests := []struct {
		name      string
		records   []roster.AttendanceRecord
		asOf      string
		wantCount int
		wantDates []string
	}{
		{
			name: "trailing run ends at first non-absent",
			records: []roster.AttendanceRecord{
				rec("s1", "c1", "2024-12-02", roster.StatusPresent),
				rec("s1", "c1", "2024-12-03", roster.StatusAbsent),
				rec("s1", "c1", "2024-12-04", roster.StatusAbsent),
				rec("s1", "c1", "2024-12-05", roster.StatusAbsent),
			},
			asOf:      "2024-12-05",
			wantCount: 3,
			wantDates: []string{"2024-12-03", "2024-12-04", "2024-12-05"},
		},
		{
			name: "most recent record not absent means zero",
			records: []roster.AttendanceRecord{
				rec("s1", "c1", "2024-12-04", roster.StatusAbsent),
				rec("s1", "c1", "2024-12-05", roster.StatusLate),
			},
			asOf:      "2024-12-05",
			wantCount: 0,
		},
		{
			name:      "no records",
			asOf:      "2024-12-05",
			wantCount: 0,
		},
		{
			name: "all history absent has no cap",
			records: []roster.AttendanceRecord{
				rec("s1", "c1", "2024-12-01", roster.StatusAbsent),
				rec("s1", "c1", "2024-12-02", roster.StatusAbsent),
				rec("s1", "c1", "2024-12-03", roster.StatusAbsent),
				rec("s1", "c1", "2024-12-04", roster.StatusAbsent),
				rec("s1", "c1", "2024-12-05", roster.StatusAbsent),
				rec("s1", "c1", "2024-12-06", roster.StatusAbsent),
			},
			asOf:      "2024-12-06",
			wantCount: 6,
		},
		{
			name: "unrecorded day does not break the run",
			records: []roster.AttendanceRecord{
				rec("s1", "c1", "2024-12-02", roster.StatusPresent),
				rec("s1", "c1", "2024-12-03", roster.StatusAbsent),
				// nothing recorded on 12-04
				rec("s1", "c1", "2024-12-05", roster.StatusAbsent),
			},
			asOf:      "2024-12-05",
			wantCount: 2,
			wantDates: []string{"2024-12-03", "2024-12-05"},
		},
		{
			name: "excused breaks the run like present",
			records: []roster.AttendanceRecord{
				rec("s1", "c1", "2024-12-03", roster.StatusAbsent),
				rec("s1", "c1", "2024-12-04", roster.StatusExcused),
				rec("s1", "c1", "2024-12-05", roster.StatusAbsent),
			},
			asOf:      "2024-12-05",
			wantCount: 1,
			wantDates: []string{"2024-12-05"},
		},
		{
			name: "asOf excludes later records",
			records: []roster.AttendanceRecord{
				rec("s1", "c1", "2024-12-04", roster.StatusAbsent),
				rec("s1", "c1", "2024-12-05", roster.StatusAbsent),
				rec("s1", "c1", "2024-12-06", roster.StatusPresent),
			},
			asOf:      "2024-12-05",
			wantCount: 2,
			wantDates: []string{"2024-12-04", "2024-12-05"},
		},
		{
			name: "other students and classes ignored",
			records: []roster.AttendanceRecord{
				rec("s1", "c1", "2024-12-05", roster.StatusAbsent),
				rec("s2", "c1", "2024-12-05", roster.StatusPresent),
				rec("s1", "c2", "2024-12-05", roster.StatusPresent),
			},
			asOf:      "2024-12-05",
			wantCount: 1,
			wantDates: []string{"2024-12-05"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			streak, warns := ConsecutiveAbsences(tt.records, "s1", "c1", day(tt.asOf))
			assert.Empty(t, warns)
			assert.Equal(t, tt.wantCount, streak.Count)
			require.Len(t, streak.Dates, len(tt.wantDates))
			for i, want := range tt.wantDates {
				assert.Equal(t, day(want), streak.Dates[i])
			}
		})
	}
}

func TestConsecutiveAbsencesDuplicateDay(t *testing.T) {
	early := rec("s1", "c1", "2024-12-05", roster.StatusAbsent)
	late := rec("s1", "c1", "2024-12-05", roster.StatusPresent)
	late.MarkedAt = early.MarkedAt.Add(time.Hour)

	streak, warns := ConsecutiveAbsences([]roster.AttendanceRecord{early, late}, "s1", "c1", day("2024-12-05"))

	// The later submission wins, so the run is broken.
	assert.Equal(t, 0, streak.Count)
	require.Len(t, warns, 1)
	assert.Equal(t, "s1", warns[0].StudentID)
	assert.Equal(t, day("2024-12-05"), warns[0].Date)
}
