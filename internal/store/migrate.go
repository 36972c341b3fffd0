package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Constraint names referenced when translating unique violations.
const (
	UsersEmailKey        = "users_email_key"
	AttendanceUserDayKey = "attendance_records_user_day_key"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	email           TEXT NOT NULL,
	password_hash   TEXT NOT NULL,
	role            TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin', 'user')),
	department      TEXT NOT NULL DEFAULT '',
	employee_id     TEXT NOT NULL DEFAULT '',
	image_url       TEXT NOT NULL DEFAULT '',
	image_public_id TEXT NOT NULL DEFAULT '',
	is_active       BOOLEAN NOT NULL DEFAULT TRUE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT users_email_key UNIQUE (email)
);

CREATE INDEX IF NOT EXISTS idx_users_role_active ON users (role, is_active);

CREATE TABLE IF NOT EXISTS attendance_records (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	day            DATE NOT NULL,
	recorded_at    TIMESTAMPTZ NOT NULL,
	status         TEXT NOT NULL DEFAULT 'Present' CHECK (status IN ('Present', 'Absent', 'Late', 'Leave')),
	method         TEXT NOT NULL DEFAULT 'face-recognition' CHECK (method IN ('face-recognition', 'manual')),
	check_in_time  TIMESTAMPTZ,
	check_out_time TIMESTAMPTZ,
	confidence     DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (confidence >= 0 AND confidence <= 100),
	notes          TEXT NOT NULL DEFAULT '',
	recorded_by    TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT attendance_records_user_day_key UNIQUE (user_id, day)
);

CREATE INDEX IF NOT EXISTS idx_attendance_day ON attendance_records (day);
`

// Migrate creates the tables the services need in a single transaction.
// Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	return RunInTx(ctx, db, nil, func(ctx context.Context, tx DBTX) error {
		for _, stmt := range strings.Split(schema, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		return nil
	})
}
