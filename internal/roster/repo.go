package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository persists roster data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, student_id, class_id, crn, date, status, notes, marked_by, marked_by_role, marked_at`

// UpsertRecord writes one attendance record keyed by (student, class, date).
// A re-submission for the same day supersedes the previous entry in place;
// nothing is ever deleted.
func (r *Repository) UpsertRecord(ctx context.Context, rec AttendanceRecord) (AttendanceRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.MarkedAt.IsZero() {
		rec.MarkedAt = time.Now().UTC()
	}
	rec.Date = Day(rec.Date)
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, student_id, class_id, crn, date, status, notes, marked_by, marked_by_role, marked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (student_id, class_id, date) DO UPDATE SET
			status = EXCLUDED.status,
			notes = EXCLUDED.notes,
			marked_by = EXCLUDED.marked_by,
			marked_by_role = EXCLUDED.marked_by_role,
			marked_at = EXCLUDED.marked_at
		RETURNING id
	`, rec.ID, rec.StudentID, rec.ClassID, rec.CRN, rec.Date, rec.Status, rec.Notes, rec.MarkedBy, rec.MarkedByRole, rec.MarkedAt)
	if err := row.Scan(&rec.ID); err != nil {
		return AttendanceRecord{}, err
	}
	return rec, nil
}

// RecordsForStudentClass returns records for one student in one class,
// optionally bounded by from/to (zero times leave the bound open).
func (r *Repository) RecordsForStudentClass(ctx context.Context, studentID, classID string, from, to time.Time) ([]AttendanceRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance_records WHERE student_id = $1 AND class_id = $2`
	args := []any{studentID, classID}
	if !from.IsZero() {
		args = append(args, Day(from))
		query += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, Day(to))
		query += fmt.Sprintf(" AND date <= $%d", len(args))
	}
	query += " ORDER BY date"
	return r.queryRecords(ctx, query, args...)
}

// RecordsForCRN returns records for an offering's CRN within [from, to].
func (r *Repository) RecordsForCRN(ctx context.Context, crn string, from, to time.Time) ([]AttendanceRecord, error) {
	return r.queryRecords(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE crn = $1 AND date >= $2 AND date <= $3
		ORDER BY date
	`, crn, Day(from), Day(to))
}

// RecordsThrough returns every record dated on or before asOf.
func (r *Repository) RecordsThrough(ctx context.Context, asOf time.Time) ([]AttendanceRecord, error) {
	return r.queryRecords(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE date <= $1
		ORDER BY date
	`, Day(asOf))
}

// RecordsOn returns every record dated exactly that day.
func (r *Repository) RecordsOn(ctx context.Context, day time.Time) ([]AttendanceRecord, error) {
	return r.queryRecords(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE date = $1
	`, Day(day))
}

func (r *Repository) queryRecords(ctx context.Context, query string, args ...any) ([]AttendanceRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AttendanceRecord
	for rows.Next() {
		var rec AttendanceRecord
		var notes sql.NullString
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.ClassID, &rec.CRN, &rec.Date, &rec.Status, &notes, &rec.MarkedBy, &rec.MarkedByRole, &rec.MarkedAt); err != nil {
			return nil, err
		}
		rec.Notes = notes.String
		res = append(res, rec)
	}
	return res, rows.Err()
}

// GetStudent returns a single student by internal id.
func (r *Repository) GetStudent(ctx context.Context, id string) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_number, name, dropped, drop_date
		FROM students WHERE id = $1
	`, id)
	var s Student
	if err := row.Scan(&s.ID, &s.StudentNumber, &s.Name, &s.Dropped, &s.DropDate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Student{}, fmt.Errorf("student %s: %w", id, ErrNotFound)
		}
		return Student{}, err
	}
	return s, nil
}

// StudentsForClass returns every student enrolled in a class, dropped ones
// included so callers can apply drop-date rules themselves.
func (r *Repository) StudentsForClass(ctx context.Context, classID string) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.student_number, s.name, s.dropped, s.drop_date
		FROM students s
		JOIN class_students cs ON cs.student_id = s.id
		WHERE cs.class_id = $1
		ORDER BY s.student_number
	`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.StudentNumber, &s.Name, &s.Dropped, &s.DropDate); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

const offeringColumns = `id, crn, name, term_code, department, credit_hours, teacher_id, start_date, end_date, student_count`

// GetOffering returns one class offering by internal id.
func (r *Repository) GetOffering(ctx context.Context, id string) (ClassOffering, error) {
	return r.scanOffering(r.db.QueryRowContext(ctx,
		`SELECT `+offeringColumns+` FROM class_offerings WHERE id = $1`, id), id)
}

// GetOfferingByCRN returns one class offering by course reference number.
func (r *Repository) GetOfferingByCRN(ctx context.Context, crn string) (ClassOffering, error) {
	return r.scanOffering(r.db.QueryRowContext(ctx,
		`SELECT `+offeringColumns+` FROM class_offerings WHERE crn = $1`, crn), crn)
}

func (r *Repository) scanOffering(row *sql.Row, ref string) (ClassOffering, error) {
	var c ClassOffering
	err := row.Scan(&c.ID, &c.CRN, &c.Name, &c.TermCode, &c.Department, &c.CreditHours, &c.TeacherID, &c.StartDate, &c.EndDate, &c.StudentCount)
	if errors.Is(err, sql.ErrNoRows) {
		return ClassOffering{}, fmt.Errorf("class offering %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return ClassOffering{}, err
	}
	return c, nil
}

// ListOfferings returns all class offerings.
func (r *Repository) ListOfferings(ctx context.Context) ([]ClassOffering, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+offeringColumns+` FROM class_offerings ORDER BY crn`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ClassOffering
	for rows.Next() {
		var c ClassOffering
		if err := rows.Scan(&c.ID, &c.CRN, &c.Name, &c.TermCode, &c.Department, &c.CreditHours, &c.TeacherID, &c.StartDate, &c.EndDate, &c.StudentCount); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// AssignmentsFor returns the substitute assignments on file for a user and
// class, active or not. The access policy decides which ones count.
func (r *Repository) AssignmentsFor(ctx context.Context, userID, classID string) ([]SubstituteAssignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, class_id, crn, substitute_id, start_date, end_date, active
		FROM substitute_assignments
		WHERE substitute_id = $1 AND class_id = $2
	`, userID, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SubstituteAssignment
	for rows.Next() {
		var a SubstituteAssignment
		if err := rows.Scan(&a.ID, &a.ClassID, &a.CRN, &a.SubstituteID, &a.StartDate, &a.EndDate, &a.Active); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// GetUserByEmail returns a user for login.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, COALESCE(department, '')
		FROM users WHERE email = $1
	`, email)
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Department); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, fmt.Errorf("user %s: %w", email, ErrNotFound)
		}
		return User{}, err
	}
	return u, nil
}

// InsertAudit appends one audit entry.
func (r *Repository) InsertAudit(ctx context.Context, e AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, user_id, action, entity_type, entity_id, changes, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.UserID, e.Action, e.EntityType, e.EntityID, e.Changes, e.At)
	return err
}

// ListAudit returns the most recent audit entries.
func (r *Repository) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, action, entity_type, entity_id, changes, at
		FROM audit_log
		ORDER BY at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.EntityType, &e.EntityID, &e.Changes, &e.At); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
