package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"attendtrack/internal/calendar"
	"attendtrack/internal/store"
)

// Repository persists attendance records in Postgres.
type Repository struct {
	db  store.DBTX
	loc *time.Location
}

// NewRepository creates a repo. loc is the zone days are interpreted in.
func NewRepository(db store.DBTX, loc *time.Location) *Repository {
	if loc == nil {
		loc = time.Local
	}
	return &Repository{db: db, loc: loc}
}

const recordSelect = `
	SELECT a.id, a.user_id, a.day, a.recorded_at, a.status, a.method, a.check_in_time, a.check_out_time,
		a.confidence, a.notes, COALESCE(a.recorded_by, ''), a.created_at, a.updated_at,
		u.name, u.email, u.department, u.employee_id, u.image_url,
		COALESCE(m.name, ''), COALESCE(m.email, '')
	FROM attendance_records a
	JOIN users u ON u.id = a.user_id
	LEFT JOIN users m ON m.id = a.recorded_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanRecord(row rowScanner) (Record, error) {
	var (
		rec           Record
		day           time.Time
		user          Person
		recorderName  string
		recorderEmail string
	)
	err := row.Scan(&rec.ID, &rec.UserID, &day, &rec.RecordedAt, &rec.Status, &rec.Method, &rec.CheckInTime, &rec.CheckOutTime,
		&rec.Confidence, &rec.Notes, &rec.RecordedBy, &rec.CreatedAt, &rec.UpdatedAt,
		&user.Name, &user.Email, &user.Department, &user.EmployeeID, &user.ImageURL,
		&recorderName, &recorderEmail)
	if err != nil {
		return Record{}, err
	}
	rec.Day = calendar.FromDate(day, r.loc)
	user.ID = rec.UserID
	rec.User = &user
	if rec.RecordedBy != "" && recorderName != "" {
		rec.Recorder = &Person{ID: rec.RecordedBy, Name: recorderName, Email: recorderEmail}
	}
	return rec, nil
}

// Insert writes a new record. A second record for the same user and day
// fails with ErrDuplicateDay.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, user_id, day, recorded_at, status, method, check_in_time, check_out_time, confidence, notes, recorded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULLIF($11, ''))
		RETURNING created_at, updated_at
	`, rec.ID, rec.UserID, calendar.Key(rec.Day), rec.RecordedAt, rec.Status, rec.Method, rec.CheckInTime, rec.CheckOutTime,
		rec.Confidence, rec.Notes, rec.RecordedBy)
	if err := row.Scan(&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if store.IsUniqueViolation(err, store.AttendanceUserDayKey) {
			return Record{}, ErrDuplicateDay
		}
		return Record{}, err
	}
	return rec, nil
}

// FindForDay returns the user's record on day, or nil when none exists.
func (r *Repository) FindForDay(ctx context.Context, userID string, day time.Time) (*Record, error) {
	rec, err := r.scanRecord(r.db.QueryRowContext(ctx, recordSelect+`
		WHERE a.user_id = $1 AND a.day = $2
	`, userID, calendar.Key(day)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Update overwrites the mutable fields of an existing record.
func (r *Repository) Update(ctx context.Context, rec Record) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_records
		SET status = $2, method = $3, check_in_time = $4, check_out_time = $5, confidence = $6,
			notes = $7, recorded_by = NULLIF($8, ''), updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, rec.ID, rec.Status, rec.Method, rec.CheckInTime, rec.CheckOutTime, rec.Confidence, rec.Notes, rec.RecordedBy)
	if err := row.Scan(&rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ListStatEntries returns every record whose day lies in [from, to], with
// the owner's department.
func (r *Repository) ListStatEntries(ctx context.Context, from, to time.Time) ([]StatEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.day, a.check_in_time, a.status, COALESCE(u.department, '')
		FROM attendance_records a
		LEFT JOIN users u ON u.id = a.user_id
		WHERE a.day BETWEEN $1 AND $2
	`, calendar.Key(from), calendar.Key(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatEntry
	for rows.Next() {
		var (
			e   StatEntry
			day sql.NullTime
		)
		if err := rows.Scan(&day, &e.CheckInTime, &e.Status, &e.Department); err != nil {
			return nil, err
		}
		if day.Valid {
			e.Day = calendar.FromDate(day.Time, r.loc)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListPresentOn returns the Present records of day, latest first.
func (r *Repository) ListPresentOn(ctx context.Context, day time.Time) ([]Record, error) {
	return r.queryRecords(ctx, recordSelect+`
		WHERE a.day = $1 AND a.status = $2
		ORDER BY a.recorded_at DESC
	`, calendar.Key(day), StatusPresent)
}

// ListForUser returns a user's records, newest day first.
func (r *Repository) ListForUser(ctx context.Context, userID string, f HistoryFilter) ([]Record, error) {
	args := []any{userID}
	clauses := []string{"a.user_id = $1"}
	clauses, args = dayRange(clauses, args, f.From, f.To)
	if f.Status != "" {
		args = append(args, f.Status)
		clauses = append(clauses, fmt.Sprintf("a.status = $%d", len(args)))
	}
	query := recordSelect + " WHERE " + strings.Join(clauses, " AND ") + " ORDER BY a.day DESC"
	return r.queryRecords(ctx, query, args...)
}

// Report lists records across users, newest day first.
func (r *Repository) Report(ctx context.Context, f ReportFilter) ([]Record, error) {
	var (
		args    []any
		clauses []string
	)
	clauses, args = dayRange(clauses, args, f.From, f.To)
	if f.Status != "" {
		args = append(args, f.Status)
		clauses = append(clauses, fmt.Sprintf("a.status = $%d", len(args)))
	}
	if f.Department != "" {
		args = append(args, f.Department)
		clauses = append(clauses, fmt.Sprintf("u.department = $%d", len(args)))
	}
	query := recordSelect
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY a.day DESC, u.name"
	return r.queryRecords(ctx, query, args...)
}

func dayRange(clauses []string, args []any, from, to time.Time) ([]string, []any) {
	if !from.IsZero() {
		args = append(args, calendar.Key(from))
		clauses = append(clauses, fmt.Sprintf("a.day >= $%d", len(args)))
	}
	if !to.IsZero() {
		args = append(args, calendar.Key(to))
		clauses = append(clauses, fmt.Sprintf("a.day <= $%d", len(args)))
	}
	return clauses, args
}

func (r *Repository) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Record{}
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
