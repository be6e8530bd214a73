// Package ledger is the append-only source of truth for marked attendance.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DedupSemantics selects what "already marked" means.
type DedupSemantics string

const (
	// DedupPerDay allows one record per (roll, scope) per calendar day.
	DedupPerDay DedupSemantics = "per_day"
	// DedupPerScope allows one record per (roll, scope) ever.
	DedupPerScope DedupSemantics = "per_scope"
)

// Record is one accepted check-in. Records are never mutated; they are only
// appended, and removed solely by the admin bulk clear.
type Record struct {
	ID         string    `json:"id"`
	RollNumber string    `json:"rollnumber"`
	Scope      string    `json:"scope"`
	Day        string    `json:"day"` // YYYY-MM-DD
	ClockTime  string    `json:"time"`
	CreatedAt  time.Time `json:"created_at"`
}

// DayCount is one row of the per-day aggregate.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Find returns the existing record matching the configured duplicate key,
// nil when the student has not been marked yet.
func (r *Repository) Find(ctx context.Context, roll, scope, day string, semantics DedupSemantics) (*Record, error) {
	query := `
		SELECT id, roll_number, scope, to_char(day, 'YYYY-MM-DD'), clock_time, created_at
		FROM attendance_records
		WHERE roll_number = $1 AND scope = $2`
	args := []any{roll, scope}
	if semantics == DedupPerDay {
		query += ` AND day = $3`
		args = append(args, day)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, args...)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.RollNumber, &rec.Scope, &rec.Day, &rec.ClockTime, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Insert appends a record if no record with the same (roll, scope, day) key
// exists. The unique index makes the insert race-safe: of two concurrent
// attempts exactly one reports inserted=true.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, roll_number, scope, day, clock_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (roll_number, scope, day) DO NOTHING
	`, rec.ID, rec.RollNumber, rec.Scope, rec.Day, rec.ClockTime)
	if err != nil {
		return Record{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, false, err
	}
	if n == 0 {
		return Record{}, false, nil
	}
	rec.CreatedAt = time.Now().UTC()
	return rec, true, nil
}

// ListByDay returns records for one calendar day, newest first.
func (r *Repository) ListByDay(ctx context.Context, day string) ([]Record, error) {
	return r.list(ctx, `
		SELECT id, roll_number, scope, to_char(day, 'YYYY-MM-DD'), clock_time, created_at
		FROM attendance_records WHERE day = $1 ORDER BY created_at DESC
	`, day)
}

// ListAll returns every record, newest first.
func (r *Repository) ListAll(ctx context.Context) ([]Record, error) {
	return r.list(ctx, `
		SELECT id, roll_number, scope, to_char(day, 'YYYY-MM-DD'), clock_time, created_at
		FROM attendance_records ORDER BY created_at DESC
	`)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.RollNumber, &rec.Scope, &rec.Day, &rec.ClockTime, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// CountByDay returns how many students were marked on one day.
func (r *Repository) CountByDay(ctx context.Context, day string) (int, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attendance_records WHERE day = $1`, day)
	var n int
	err := row.Scan(&n)
	return n, err
}

// Aggregate returns per-day totals for the most recent days, oldest first.
// This is what the admin dashboard and the summary collaborator consume.
func (r *Repository) Aggregate(ctx context.Context, days int) ([]DayCount, error) {
	if days <= 0 {
		days = 7
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT to_char(day, 'YYYY-MM-DD'), COUNT(*)
		FROM attendance_records
		WHERE day >= CURRENT_DATE - $1::int
		GROUP BY day ORDER BY day
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var counts []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, dc)
	}
	return counts, rows.Err()
}

// Clear removes every record. Admin bulk action.
func (r *Repository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM attendance_records`)
	return err
}
