package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"attendtrack/internal/auth"
	"attendtrack/internal/calendar"
	"attendtrack/internal/store"
)

// ErrDuplicateEmail is returned when the email is taken.
var ErrDuplicateEmail = errors.New("email already registered")

const userColumns = `id, name, email, password_hash, role, department, employee_id, image_url, image_public_id, is_active, created_at, updated_at`

// Repository persists users in Postgres.
type Repository struct {
	db store.DBTX
}

// NewRepository creates a repo.
func NewRepository(db store.DBTX) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.Department, &u.EmployeeID,
		&u.ImageURL, &u.ImagePublicID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// Create inserts a user, assigning an id when missing.
func (r *Repository) Create(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, department, employee_id, image_url, image_public_id, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at
	`, u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.Department, u.EmployeeID, u.ImageURL, u.ImagePublicID, u.IsActive)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		if store.IsUniqueViolation(err, store.UsersEmailKey) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, err
	}
	return u, nil
}

// Get returns a user by id, or nil when none exists.
func (r *Repository) Get(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// GetByEmail returns a user by email, or nil when none exists.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// List returns users matching f, newest first.
func (r *Repository) List(ctx context.Context, f UserFilter) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var (
		args    []any
		clauses []string
	)
	if f.Role != "" {
		args = append(args, f.Role)
		clauses = append(clauses, fmt.Sprintf("role = $%d", len(args)))
	}
	if f.Department != "" {
		args = append(args, f.Department)
		clauses = append(clauses, fmt.Sprintf("department = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+escapeLike(f.Search)+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(name ILIKE $%d OR email ILIKE $%d OR employee_id ILIKE $%d)", n, n, n))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"

	return r.queryUsers(ctx, query, args...)
}

// Update writes every mutable field of u.
func (r *Repository) Update(ctx context.Context, u User) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET name = $2, email = $3, role = $4, department = $5, employee_id = $6,
			image_url = $7, image_public_id = $8, is_active = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, u.ID, u.Name, u.Email, u.Role, u.Department, u.EmployeeID, u.ImageURL, u.ImagePublicID, u.IsActive)
	if err := row.Scan(&u.UpdatedAt); err != nil {
		if store.IsUniqueViolation(err, store.UsersEmailKey) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, err
	}
	return u, nil
}

// UpdatePassword replaces the stored hash.
func (r *Repository) UpdatePassword(ctx context.Context, id, hash string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	return err
}

// Delete removes the user. Attendance records go with it through the
// foreign key cascade.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Stats counts the roster. Department counts cover role=user only.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE role = $1),
			COUNT(*) FILTER (WHERE role = $1 AND is_active),
			COUNT(*) FILTER (WHERE role = $2)
		FROM users
	`, auth.RoleUser, auth.RoleAdmin).Scan(&s.TotalUsers, &s.ActiveUsers, &s.TotalAdmins)
	if err != nil {
		return Stats{}, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT department, COUNT(*) FROM users
		WHERE role = $1
		GROUP BY department
		ORDER BY COUNT(*) DESC, department
	`, auth.RoleUser)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	s.DepartmentStats = []DepartmentCount{}
	for rows.Next() {
		var dc DepartmentCount
		if err := rows.Scan(&dc.Department, &dc.Count); err != nil {
			return Stats{}, err
		}
		s.DepartmentStats = append(s.DepartmentStats, dc)
	}
	return s, rows.Err()
}

// CountActiveMembers counts active users with role=user.
func (r *Repository) CountActiveMembers(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role = $1 AND is_active`, auth.RoleUser).Scan(&n)
	return n, err
}

// ListUnrecorded returns active role=user users without an attendance
// record on day.
func (r *Repository) ListUnrecorded(ctx context.Context, day time.Time) ([]User, error) {
	return r.queryUsers(ctx, `
		SELECT `+userColumns+` FROM users u
		WHERE u.role = $1 AND u.is_active
		AND NOT EXISTS (
			SELECT 1 FROM attendance_records a
			WHERE a.user_id = u.id AND a.day = $2
		)
		ORDER BY u.name
	`, auth.RoleUser, calendar.Key(day))
}

func (r *Repository) queryUsers(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
