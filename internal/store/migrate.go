package store

import (
	"context"
	"database/sql"
)

// Migrate creates the schema if missing. Statements are idempotent so a
// restart against an existing database is a no-op; a blank database comes up
// usable instead of failing, matching the recreate-on-missing behavior of
// the stores this replaces.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS students (
			roll_number  TEXT PRIMARY KEY,
			student_name TEXT NOT NULL DEFAULT '',
			branch       TEXT NOT NULL DEFAULT '',
			extra        JSONB NOT NULL DEFAULT '{}',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS attendance_records (
			id          UUID PRIMARY KEY,
			roll_number TEXT NOT NULL,
			scope       TEXT NOT NULL,
			day         DATE NOT NULL,
			clock_time  TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS attendance_once_per_day
			ON attendance_records (roll_number, scope, day)`,
		`CREATE TABLE IF NOT EXISTS device_bindings (
			roll_number TEXT PRIMARY KEY,
			device_id   TEXT NOT NULL UNIQUE,
			bound_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS activity_log (
			id      BIGSERIAL PRIMARY KEY,
			at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			action  TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
