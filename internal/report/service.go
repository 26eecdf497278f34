package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"itendance/internal/access"
	"itendance/internal/queue"
	"itendance/internal/risk"
	"itendance/internal/roster"
)

// ErrForbidden means the access policy denied the caller for this class or
// report.
var ErrForbidden = errors.New("access denied")

// Store is the persistence contract the reporting service needs.
// *roster.Repository satisfies it; tests use an in-memory fake.
type Store interface {
	UpsertRecord(ctx context.Context, rec roster.AttendanceRecord) (roster.AttendanceRecord, error)
	RecordsForStudentClass(ctx context.Context, studentID, classID string, from, to time.Time) ([]roster.AttendanceRecord, error)
	RecordsForCRN(ctx context.Context, crn string, from, to time.Time) ([]roster.AttendanceRecord, error)
	RecordsThrough(ctx context.Context, asOf time.Time) ([]roster.AttendanceRecord, error)
	RecordsOn(ctx context.Context, day time.Time) ([]roster.AttendanceRecord, error)

	GetStudent(ctx context.Context, id string) (roster.Student, error)
	StudentsForClass(ctx context.Context, classID string) ([]roster.Student, error)

	GetOffering(ctx context.Context, id string) (roster.ClassOffering, error)
	GetOfferingByCRN(ctx context.Context, crn string) (roster.ClassOffering, error)
	ListOfferings(ctx context.Context) ([]roster.ClassOffering, error)

	AssignmentsFor(ctx context.Context, userID, classID string) ([]roster.SubstituteAssignment, error)

	InsertAudit(ctx context.Context, e roster.AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]roster.AuditEntry, error)
}

// Service answers report queries and accepts roster submissions. Every call
// takes the acting user and an explicit reference date; nothing here reads
// the clock, so results are reproducible.
type Service struct {
	store     Store
	q         queue.Queue
	policy    access.Policy
	threshold int
}

// NewService wires a service. q may be nil when no worker is running.
func NewService(store Store, q queue.Queue, policy access.Policy, threshold int) *Service {
	if threshold <= 0 {
		threshold = risk.DefaultThreshold
	}
	return &Service{store: store, q: q, policy: policy, threshold: threshold}
}

func (s *Service) canView(ctx context.Context, user roster.User, class roster.ClassOffering, today time.Time) (bool, error) {
	var assignments []roster.SubstituteAssignment
	if user.Role == roster.RoleGuestTeacher {
		var err error
		assignments, err = s.store.AssignmentsFor(ctx, user.ID, class.ID)
		if err != nil {
			return false, err
		}
	}
	return s.policy.CanView(user, class, assignments, today), nil
}

func (s *Service) visibleOfferings(ctx context.Context, user roster.User, today time.Time) ([]roster.ClassOffering, error) {
	all, err := s.store.ListOfferings(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]roster.ClassOffering, 0, len(all))
	for _, off := range all {
		ok, err := s.canView(ctx, user, off, today)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, off)
		}
	}
	return visible, nil
}

// AtRiskEntry is one at-risk student-class pair, enriched for display.
type AtRiskEntry struct {
	StudentID   string      `json:"student_id"`
	StudentName string      `json:"student_name,omitempty"`
	ClassID     string      `json:"class_id"`
	ClassName   string      `json:"class_name"`
	CRN         string      `json:"crn"`
	Count       int         `json:"count"`
	Dates       []time.Time `json:"dates"`
	Critical    bool        `json:"critical"`
}

// AtRiskReport lists at-risk students across the classes visible to the
// requesting user, sorted by streak length descending.
type AtRiskReport struct {
	AsOf     time.Time      `json:"as_of"`
	Entries  []AtRiskEntry  `json:"entries"`
	Warnings []risk.Warning `json:"warnings,omitempty"`
}

// AtRiskReport builds the at-risk report as of the given date.
func (s *Service) AtRiskReport(ctx context.Context, user roster.User, asOf time.Time) (AtRiskReport, error) {
	offerings, err := s.visibleOfferings(ctx, user, asOf)
	if err != nil {
		return AtRiskReport{}, err
	}
	byID := make(map[string]roster.ClassOffering, len(offerings))
	for _, off := range offerings {
		byID[off.ID] = off
	}

	records, err := s.store.RecordsThrough(ctx, asOf)
	if err != nil {
		return AtRiskReport{}, err
	}
	entries, warns := risk.AtRisk(records, s.threshold, asOf)

	out := AtRiskReport{AsOf: roster.Day(asOf), Warnings: warns}
	for _, e := range entries {
		off, ok := byID[e.ClassID]
		if !ok {
			continue
		}
		entry := AtRiskEntry{
			StudentID: e.StudentID,
			ClassID:   e.ClassID,
			ClassName: off.Name,
			CRN:       off.CRN,
			Count:     e.Count,
			Dates:     e.Dates,
			Critical:  e.Count >= risk.CriticalThreshold,
		}
		student, err := s.store.GetStudent(ctx, e.StudentID)
		switch {
		case err == nil:
			entry.StudentName = student.Name
		case !errors.Is(err, roster.ErrNotFound):
			return AtRiskReport{}, err
		}
		out.Entries = append(out.Entries, entry)
	}
	sort.Slice(out.Entries, func(i, j int) bool {
		if out.Entries[i].Count != out.Entries[j].Count {
			return out.Entries[i].Count > out.Entries[j].Count
		}
		return out.Entries[i].StudentID < out.Entries[j].StudentID
	})
	reportRequests.WithLabelValues("at_risk").Inc()
	return out, nil
}

// StudentStreak returns the consecutive-absence streak for one student in
// one class as of a date, plus any duplicate-record warnings hit on the way.
func (s *Service) StudentStreak(ctx context.Context, user roster.User, studentID, classID string, asOf time.Time) (risk.Streak, []risk.Warning, error) {
	if _, err := s.store.GetStudent(ctx, studentID); err != nil {
		return risk.Streak{}, nil, err
	}
	class, err := s.store.GetOffering(ctx, classID)
	if err != nil {
		return risk.Streak{}, nil, err
	}
	ok, err := s.canView(ctx, user, class, asOf)
	if err != nil {
		return risk.Streak{}, nil, err
	}
	if !ok {
		return risk.Streak{}, nil, ErrForbidden
	}
	records, err := s.store.RecordsForStudentClass(ctx, studentID, classID, time.Time{}, asOf)
	if err != nil {
		return risk.Streak{}, nil, err
	}
	streak, warns := risk.ConsecutiveAbsences(records, studentID, classID, asOf)
	reportRequests.WithLabelValues("streak").Inc()
	return streak, warns, nil
}

// Completion returns the attendance completion percentage for a CRN over
// [start, end] inclusive.
func (s *Service) Completion(ctx context.Context, user roster.User, crn string, start, end time.Time) (float64, error) {
	if roster.Day(end).Before(roster.Day(start)) {
		return 0, fmt.Errorf("completion for %s: %w", crn, roster.ErrInvalidRange)
	}
	class, err := s.store.GetOfferingByCRN(ctx, crn)
	if err != nil {
		return 0, err
	}
	ok, err := s.canView(ctx, user, class, end)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrForbidden
	}
	students, err := s.store.StudentsForClass(ctx, class.ID)
	if err != nil {
		return 0, err
	}
	records, err := s.store.RecordsForCRN(ctx, crn, start, end)
	if err != nil {
		return 0, err
	}
	pct, err := risk.CompletionRate(students, records, crn, start, end)
	if err != nil {
		return 0, err
	}
	reportRequests.WithLabelValues("completion").Inc()
	return pct, nil
}

// MissingAttendance returns the classes visible to the user that have fewer
// records on date than enrolled students.
func (s *Service) MissingAttendance(ctx context.Context, user roster.User, date time.Time, termCode string) ([]risk.Missing, error) {
	offerings, err := s.visibleOfferings(ctx, user, date)
	if err != nil {
		return nil, err
	}
	records, err := s.store.RecordsOn(ctx, date)
	if err != nil {
		return nil, err
	}
	reportRequests.WithLabelValues("missing").Inc()
	return risk.MissingAttendance(offerings, records, date, termCode), nil
}

// RosterEntry is one student's status in a submission.
type RosterEntry struct {
	StudentID string        `json:"student_id"`
	Status    roster.Status `json:"status"`
	Notes     string        `json:"notes,omitempty"`
}

// RosterSubmission is one day's roster for a class.
type RosterSubmission struct {
	ClassID string        `json:"class_id"`
	Date    time.Time     `json:"date"`
	Entries []RosterEntry `json:"entries"`
}

// RosterEvent is the queue payload published after a submission.
type RosterEvent struct {
	ClassID string    `json:"class_id"`
	CRN     string    `json:"crn"`
	Date    time.Time `json:"date"`
}

// SubmitRoster validates and upserts a day's roster, writes an audit entry,
// and notifies the worker. Re-submitting the same day overwrites statuses in
// place; any status may replace any other.
func (s *Service) SubmitRoster(ctx context.Context, user roster.User, sub RosterSubmission) ([]roster.AttendanceRecord, error) {
	if len(sub.Entries) == 0 {
		return nil, errors.New("roster has no entries")
	}
	class, err := s.store.GetOffering(ctx, sub.ClassID)
	if err != nil {
		return nil, err
	}
	ok, err := s.canView(ctx, user, class, sub.Date)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}

	enrolled, err := s.store.StudentsForClass(ctx, class.ID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(enrolled))
	for _, st := range enrolled {
		known[st.ID] = true
	}

	markedRole := roster.MarkedByInstructor
	if user.Role == roster.RoleGuestTeacher {
		markedRole = roster.MarkedBySubstitute
	}

	day := roster.Day(sub.Date)
	saved := make([]roster.AttendanceRecord, 0, len(sub.Entries))
	for _, e := range sub.Entries {
		if !e.Status.Valid() {
			return nil, fmt.Errorf("student %s: invalid status %q", e.StudentID, e.Status)
		}
		if !known[e.StudentID] {
			return nil, fmt.Errorf("student %s not enrolled in class %s: %w", e.StudentID, class.ID, roster.ErrNotFound)
		}
		rec, err := s.store.UpsertRecord(ctx, roster.AttendanceRecord{
			StudentID:    e.StudentID,
			ClassID:      class.ID,
			CRN:          class.CRN,
			Date:         day,
			Status:       e.Status,
			Notes:        e.Notes,
			MarkedBy:     user.ID,
			MarkedByRole: markedRole,
		})
		if err != nil {
			return nil, err
		}
		saved = append(saved, rec)
	}

	if err := s.store.InsertAudit(ctx, roster.AuditEntry{
		UserID:     user.ID,
		Action:     "roster.submit",
		EntityType: "class",
		EntityID:   class.ID,
		Changes:    fmt.Sprintf("%d students marked for %s", len(saved), day.Format(time.DateOnly)),
	}); err != nil {
		return nil, err
	}

	if s.q != nil {
		body, _ := json.Marshal(RosterEvent{ClassID: class.ID, CRN: class.CRN, Date: day})
		if err := s.q.Publish(ctx, queue.Message{Type: "roster", Body: body}); err != nil {
			log.Printf("queue publish failed: %v", err)
		}
	}

	rostersSubmitted.Inc()
	return saved, nil
}

// AuditTrail returns recent audit entries. Admins only.
func (s *Service) AuditTrail(ctx context.Context, user roster.User, limit int) ([]roster.AuditEntry, error) {
	if user.Role != roster.RoleAdmin {
		return nil, ErrForbidden
	}
	return s.store.ListAudit(ctx, limit)
}
