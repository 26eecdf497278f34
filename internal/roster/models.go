package roster

import "time"

// Status is the recorded outcome for one student in one class session.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
	StatusExcused Status = "excused"
)

// Valid reports whether s is one of the four recordable statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusExcused:
		return true
	}
	return false
}

// Role determines what a user may view and edit.
type Role string

const (
	RoleTeacher      Role = "teacher"
	RoleGuestTeacher Role = "guest-teacher"
	RoleAdmin        Role = "admin"
	RoleDepartmental Role = "departmental"
)

// MarkedByRole records whether the instructor of record or a substitute
// submitted the entry.
type MarkedByRole string

const (
	MarkedByInstructor MarkedByRole = "instructor"
	MarkedBySubstitute MarkedByRole = "substitute"
)

// AttendanceRecord is one observation of a student's status in one class
// session on one calendar day. At most one record exists per
// (student, class, date); re-submissions supersede, nothing is deleted.
type AttendanceRecord struct {
	ID           string       `json:"id"`
	StudentID    string       `json:"student_id"`
	ClassID      string       `json:"class_id"`
	CRN          string       `json:"crn"`
	Date         time.Time    `json:"date"`
	Status       Status       `json:"status"`
	Notes        string       `json:"notes,omitempty"`
	MarkedBy     string       `json:"marked_by"`
	MarkedByRole MarkedByRole `json:"marked_by_role"`
	MarkedAt     time.Time    `json:"marked_at"`
}

// Student is an enrolled individual. DropDate is set only when Dropped.
type Student struct {
	ID            string     `json:"id"`
	StudentNumber string     `json:"student_number"`
	Name          string     `json:"name"`
	Dropped       bool       `json:"dropped"`
	DropDate      *time.Time `json:"drop_date,omitempty"`
}

// ClassOffering is one taught section. The CRN is stable across systems and
// distinct from the internal id. The date range is fixed at creation.
type ClassOffering struct {
	ID           string    `json:"id"`
	CRN          string    `json:"crn"`
	Name         string    `json:"name"`
	TermCode     string    `json:"term_code"`
	Department   string    `json:"department"`
	CreditHours  int       `json:"credit_hours"`
	TeacherID    string    `json:"teacher_id"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	StudentCount int       `json:"student_count"`
}

// User is an actor. Department is set only for departmental users.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       Role   `json:"role"`
	Department string `json:"department,omitempty"`
}

// SubstituteAssignment is a time-bounded grant letting a guest teacher mark
// attendance for a class they do not own.
type SubstituteAssignment struct {
	ID           string    `json:"id"`
	ClassID      string    `json:"class_id"`
	CRN          string    `json:"crn"`
	SubstituteID string    `json:"substitute_id"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	Active       bool      `json:"active"`
}

// AuditEntry records who changed what. Entries are append-only.
type AuditEntry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Changes    string    `json:"changes,omitempty"`
	At         time.Time `json:"at"`
}

// Day truncates t to midnight UTC, the granularity attendance is kept at.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	return Day(a).Equal(Day(b))
}
