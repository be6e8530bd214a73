// Package activity is the append-only audit trail of admin actions and
// accepted check-ins.
package activity

import (
	"context"
	"database/sql"
	"time"
)

// Entry is one logged action.
type Entry struct {
	ID      int64     `json:"id"`
	At      time.Time `json:"at"`
	Action  string    `json:"action"`
	Details string    `json:"details"`
}

// Repository persists the activity log in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Append writes one entry.
func (r *Repository) Append(ctx context.Context, action, details string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activity_log (action, details) VALUES ($1, $2)`, action, details)
	return err
}

// Recent returns the newest entries.
func (r *Repository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, at, action, details
		FROM activity_log ORDER BY at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.At, &e.Action, &e.Details); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
