package report

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itendance/internal/access"
	"itendance/internal/queue"
	"itendance/internal/risk"
	"itendance/internal/roster"
)

func day(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return d
}

// fakeStore is an in-memory Store for service tests.
type fakeStore struct {
	students    map[string]roster.Student
	enrollments map[string][]string
	offerings   map[string]roster.ClassOffering
	records     []roster.AttendanceRecord
	assignments []roster.SubstituteAssignment
	audits      []roster.AuditEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		students:    make(map[string]roster.Student),
		enrollments: make(map[string][]string),
		offerings:   make(map[string]roster.ClassOffering),
	}
}

func (f *fakeStore) addStudent(s roster.Student, classIDs ...string) {
	f.students[s.ID] = s
	for _, id := range classIDs {
		f.enrollments[id] = append(f.enrollments[id], s.ID)
	}
}

func (f *fakeStore) UpsertRecord(_ context.Context, rec roster.AttendanceRecord) (roster.AttendanceRecord, error) {
	rec.Date = roster.Day(rec.Date)
	if rec.MarkedAt.IsZero() {
		rec.MarkedAt = time.Now().UTC()
	}
	for i, existing := range f.records {
		if existing.StudentID == rec.StudentID && existing.ClassID == rec.ClassID && existing.Date.Equal(rec.Date) {
			rec.ID = existing.ID
			f.records[i] = rec
			return rec, nil
		}
	}
	rec.ID = fmt.Sprintf("r%d", len(f.records)+1)
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeStore) RecordsForStudentClass(_ context.Context, studentID, classID string, from, to time.Time) ([]roster.AttendanceRecord, error) {
	var out []roster.AttendanceRecord
	for _, r := range f.records {
		if r.StudentID != studentID || r.ClassID != classID {
			continue
		}
		if !from.IsZero() && r.Date.Before(roster.Day(from)) {
			continue
		}
		if !to.IsZero() && r.Date.After(roster.Day(to)) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) RecordsForCRN(_ context.Context, crn string, from, to time.Time) ([]roster.AttendanceRecord, error) {
	var out []roster.AttendanceRecord
	for _, r := range f.records {
		if r.CRN == crn && !r.Date.Before(roster.Day(from)) && !r.Date.After(roster.Day(to)) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) RecordsThrough(_ context.Context, asOf time.Time) ([]roster.AttendanceRecord, error) {
	var out []roster.AttendanceRecord
	for _, r := range f.records {
		if !r.Date.After(roster.Day(asOf)) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) RecordsOn(_ context.Context, d time.Time) ([]roster.AttendanceRecord, error) {
	var out []roster.AttendanceRecord
	for _, r := range f.records {
		if r.Date.Equal(roster.Day(d)) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) GetStudent(_ context.Context, id string) (roster.Student, error) {
	s, ok := f.students[id]
	if !ok {
		return roster.Student{}, fmt.Errorf("student %s: %w", id, roster.ErrNotFound)
	}
	return s, nil
}

func (f *fakeStore) StudentsForClass(_ context.Context, classID string) ([]roster.Student, error) {
	var out []roster.Student
	for _, id := range f.enrollments[classID] {
		out = append(out, f.students[id])
	}
	return out, nil
}

func (f *fakeStore) GetOffering(_ context.Context, id string) (roster.ClassOffering, error) {
	off, ok := f.offerings[id]
	if !ok {
		return roster.ClassOffering{}, fmt.Errorf("class offering %s: %w", id, roster.ErrNotFound)
	}
	return off, nil
}

func (f *fakeStore) GetOfferingByCRN(_ context.Context, crn string) (roster.ClassOffering, error) {
	for _, off := range f.offerings {
		if off.CRN == crn {
			return off, nil
		}
	}
	return roster.ClassOffering{}, fmt.Errorf("class offering %s: %w", crn, roster.ErrNotFound)
}

func (f *fakeStore) ListOfferings(_ context.Context) ([]roster.ClassOffering, error) {
	var out []roster.ClassOffering
	for _, off := range f.offerings {
		out = append(out, off)
	}
	return out, nil
}

func (f *fakeStore) AssignmentsFor(_ context.Context, userID, classID string) ([]roster.SubstituteAssignment, error) {
	var out []roster.SubstituteAssignment
	for _, a := range f.assignments {
		if a.SubstituteID == userID && a.ClassID == classID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertAudit(_ context.Context, e roster.AuditEntry) error {
	f.audits = append(f.audits, e)
	return nil
}

func (f *fakeStore) ListAudit(_ context.Context, limit int) ([]roster.AuditEntry, error) {
	if limit > 0 && limit < len(f.audits) {
		return f.audits[len(f.audits)-limit:], nil
	}
	return f.audits, nil
}

// captureQueue records published messages.
type captureQueue struct {
	msgs []queue.Message
}

func (q *captureQueue) Publish(_ context.Context, m queue.Message) error {
	q.msgs = append(q.msgs, m)
	return nil
}

func (q *captureQueue) Consume(context.Context) (<-chan queue.Message, error) {
	return nil, nil
}

var (
	teacher = roster.User{ID: "t1", Name: "Sarah Johnson", Role: roster.RoleTeacher}
	guest   = roster.User{ID: "g1", Name: "Mike Chen", Role: roster.RoleGuestTeacher}
	admin   = roster.User{ID: "adm", Name: "Linda Martinez", Role: roster.RoleAdmin}
)

func seedStore() *fakeStore {
	fs := newFakeStore()
	fs.offerings["c1"] = roster.ClassOffering{
		ID: "c1", CRN: "10001", Name: "Mathematics 101", TermCode: "F24",
		Department: "Mathematics", TeacherID: "t1",
		StartDate: day("2024-09-01"), EndDate: day("2024-12-20"), StudentCount: 2,
	}
	fs.offerings["c2"] = roster.ClassOffering{
		ID: "c2", CRN: "10002", Name: "World History", TermCode: "F24",
		Department: "History", TeacherID: "t2",
		StartDate: day("2024-09-01"), EndDate: day("2024-12-20"), StudentCount: 1,
	}
	fs.addStudent(roster.Student{ID: "s1", StudentNumber: "STU001", Name: "Alex Anderson"}, "c1")
	fs.addStudent(roster.Student{ID: "s2", StudentNumber: "STU002", Name: "Beth Brown"}, "c1")
	fs.addStudent(roster.Student{ID: "s3", StudentNumber: "STU003", Name: "Charlie Clark"}, "c2")
	return fs
}

func newTestService(fs *fakeStore, q queue.Queue) *Service {
	return NewService(fs, q, access.Policy{}, risk.DefaultThreshold)
}

func TestSubmitRoster(t *testing.T) {
	fs := seedStore()
	q := &captureQueue{}
	svc := newTestService(fs, q)

	saved, err := svc.SubmitRoster(context.Background(), teacher, RosterSubmission{
		ClassID: "c1",
		Date:    day("2024-12-05"),
		Entries: []RosterEntry{
			{StudentID: "s1", Status: roster.StatusPresent},
			{StudentID: "s2", Status: roster.StatusAbsent, Notes: "no contact"},
		},
	})
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, "10001", saved[0].CRN)
	assert.Equal(t, roster.MarkedByInstructor, saved[0].MarkedByRole)
	assert.Equal(t, "t1", saved[0].MarkedBy)

	require.Len(t, fs.audits, 1)
	assert.Equal(t, "roster.submit", fs.audits[0].Action)
	assert.Equal(t, "c1", fs.audits[0].EntityID)

	require.Len(t, q.msgs, 1)
	assert.Equal(t, "roster", q.msgs[0].Type)
}

func TestSubmitRosterResubmissionSupersedes(t *testing.T) {
	fs := seedStore()
	svc := newTestService(fs, &captureQueue{})

	_, err := svc.SubmitRoster(context.Background(), teacher, RosterSubmission{
		ClassID: "c1", Date: day("2024-12-05"),
		Entries: []RosterEntry{{StudentID: "s1", Status: roster.StatusAbsent}},
	})
	require.NoError(t, err)

	_, err = svc.SubmitRoster(context.Background(), teacher, RosterSubmission{
		ClassID: "c1", Date: day("2024-12-05"),
		Entries: []RosterEntry{{StudentID: "s1", Status: roster.StatusLate}},
	})
	require.NoError(t, err)

	require.Len(t, fs.records, 1)
	assert.Equal(t, roster.StatusLate, fs.records[0].Status)
}

func TestSubmitRosterErrors(t *testing.T) {
	fs := seedStore()
	svc := newTestService(fs, &captureQueue{})
	ctx := context.Background()
	d := day("2024-12-05")

	_, err := svc.SubmitRoster(ctx, teacher, RosterSubmission{ClassID: "c1", Date: d})
	assert.Error(t, err) // empty roster

	_, err = svc.SubmitRoster(ctx, teacher, RosterSubmission{
		ClassID: "nope", Date: d,
		Entries: []RosterEntry{{StudentID: "s1", Status: roster.StatusPresent}},
	})
	assert.ErrorIs(t, err, roster.ErrNotFound)

	_, err = svc.SubmitRoster(ctx, teacher, RosterSubmission{
		ClassID: "c1", Date: d,
		Entries: []RosterEntry{{StudentID: "s3", Status: roster.StatusPresent}},
	})
	assert.ErrorIs(t, err, roster.ErrNotFound) // not enrolled in c1

	_, err = svc.SubmitRoster(ctx, teacher, RosterSubmission{
		ClassID: "c1", Date: d,
		Entries: []RosterEntry{{StudentID: "s1", Status: "asleep"}},
	})
	assert.Error(t, err) // bad status

	_, err = svc.SubmitRoster(ctx, guest, RosterSubmission{
		ClassID: "c1", Date: d,
		Entries: []RosterEntry{{StudentID: "s1", Status: roster.StatusPresent}},
	})
	assert.ErrorIs(t, err, ErrForbidden) // no substitute assignment
}

func TestSubmitRosterBySubstitute(t *testing.T) {
	fs := seedStore()
	fs.assignments = append(fs.assignments, roster.SubstituteAssignment{
		ID: "a1", ClassID: "c1", CRN: "10001", SubstituteID: "g1",
		StartDate: day("2024-12-01"), EndDate: day("2024-12-31"), Active: true,
	})
	svc := newTestService(fs, &captureQueue{})

	saved, err := svc.SubmitRoster(context.Background(), guest, RosterSubmission{
		ClassID: "c1", Date: day("2024-12-05"),
		Entries: []RosterEntry{{StudentID: "s1", Status: roster.StatusPresent}},
	})
	require.NoError(t, err)
	assert.Equal(t, roster.MarkedBySubstitute, saved[0].MarkedByRole)
}

func markAbsent(t *testing.T, svc *Service, user roster.User, classID, studentID string, dates ...string) {
	t.Helper()
	for _, d := range dates {
		_, err := svc.SubmitRoster(context.Background(), user, RosterSubmission{
			ClassID: classID, Date: day(d),
			Entries: []RosterEntry{{StudentID: studentID, Status: roster.StatusAbsent}},
		})
		require.NoError(t, err)
	}
}

func TestAtRiskReportScopedAndSorted(t *testing.T) {
	fs := seedStore()
	svc := newTestService(fs, &captureQueue{})
	ctx := context.Background()

	markAbsent(t, svc, teacher, "c1", "s1", "2024-12-03", "2024-12-04", "2024-12-05")
	markAbsent(t, svc, teacher, "c1", "s2", "2024-12-01", "2024-12-02", "2024-12-03", "2024-12-04", "2024-12-05")
	markAbsent(t, svc, admin, "c2", "s3", "2024-12-03", "2024-12-04", "2024-12-05")

	// Teacher t1 only sees c1.
	rep, err := svc.AtRiskReport(ctx, teacher, day("2024-12-05"))
	require.NoError(t, err)
	require.Len(t, rep.Entries, 2)
	assert.Equal(t, "s2", rep.Entries[0].StudentID) // longest streak first
	assert.Equal(t, 5, rep.Entries[0].Count)
	assert.True(t, rep.Entries[0].Critical)
	assert.Equal(t, "Beth Brown", rep.Entries[0].StudentName)
	assert.False(t, rep.Entries[1].Critical)

	// Admin sees both classes.
	rep, err = svc.AtRiskReport(ctx, admin, day("2024-12-05"))
	require.NoError(t, err)
	assert.Len(t, rep.Entries, 3)
}

func TestStudentStreak(t *testing.T) {
	fs := seedStore()
	svc := newTestService(fs, &captureQueue{})
	ctx := context.Background()

	markAbsent(t, svc, teacher, "c1", "s1", "2024-12-04", "2024-12-05")

	streak, warns, err := svc.StudentStreak(ctx, teacher, "s1", "c1", day("2024-12-05"))
	require.NoError(t, err)
	assert.Empty(t, warns)
	assert.Equal(t, 2, streak.Count)

	_, _, err = svc.StudentStreak(ctx, teacher, "ghost", "c1", day("2024-12-05"))
	assert.ErrorIs(t, err, roster.ErrNotFound)

	_, _, err = svc.StudentStreak(ctx, guest, "s1", "c1", day("2024-12-05"))
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCompletionThroughService(t *testing.T) {
	fs := seedStore()
	svc := newTestService(fs, &captureQueue{})
	ctx := context.Background()

	// Both c1 students marked on two of four days: 4 of 8 expected.
	for _, d := range []string{"2024-12-02", "2024-12-03"} {
		_, err := svc.SubmitRoster(ctx, teacher, RosterSubmission{
			ClassID: "c1", Date: day(d),
			Entries: []RosterEntry{
				{StudentID: "s1", Status: roster.StatusPresent},
				{StudentID: "s2", Status: roster.StatusPresent},
			},
		})
		require.NoError(t, err)
	}

	pct, err := svc.Completion(ctx, teacher, "10001", day("2024-12-02"), day("2024-12-05"))
	require.NoError(t, err)
	assert.InDelta(t, 50.0, pct, 0.001)

	_, err = svc.Completion(ctx, teacher, "10001", day("2024-12-05"), day("2024-12-02"))
	assert.ErrorIs(t, err, roster.ErrInvalidRange)

	_, err = svc.Completion(ctx, teacher, "99999", day("2024-12-02"), day("2024-12-05"))
	assert.ErrorIs(t, err, roster.ErrNotFound)

	_, err = svc.Completion(ctx, teacher, "10002", day("2024-12-02"), day("2024-12-05"))
	assert.ErrorIs(t, err, ErrForbidden) // t1 does not teach c2
}

func TestMissingAttendanceThroughService(t *testing.T) {
	fs := seedStore()
	svc := newTestService(fs, &captureQueue{})
	ctx := context.Background()

	// Only one of c1's two students marked; c2 untouched.
	_, err := svc.SubmitRoster(ctx, teacher, RosterSubmission{
		ClassID: "c1", Date: day("2024-12-05"),
		Entries: []RosterEntry{{StudentID: "s1", Status: roster.StatusPresent}},
	})
	require.NoError(t, err)

	missing, err := svc.MissingAttendance(ctx, admin, day("2024-12-05"), "")
	require.NoError(t, err)
	require.Len(t, missing, 2)

	// Teacher only sees their own class in the report.
	missing, err = svc.MissingAttendance(ctx, teacher, day("2024-12-05"), "")
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "c1", missing[0].Offering.ID)
	assert.Equal(t, 1, missing[0].Marked)
}

func TestAuditTrailAdminOnly(t *testing.T) {
	fs := seedStore()
	svc := newTestService(fs, &captureQueue{})
	ctx := context.Background()

	markAbsent(t, svc, teacher, "c1", "s1", "2024-12-05")

	entries, err := svc.AuditTrail(ctx, admin, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = svc.AuditTrail(ctx, teacher, 10)
	assert.ErrorIs(t, err, ErrForbidden)
}
