// Package roster holds the set of identities allowed to check in.
package roster

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Student is one roster identity. RollNumber is the unique key and is stored
// lowercased so lookups are case-insensitive. Extra carries any columns from
// an uploaded sheet beyond the canonical three; they re-join into exports.
type Student struct {
	RollNumber  string            `json:"rollnumber"`
	StudentName string            `json:"studentname"`
	Branch      string            `json:"branch"`
	Extra       map[string]string `json:"extra,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Repository persists the roster in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Upsert creates or updates a student keyed by roll number.
func (r *Repository) Upsert(ctx context.Context, s Student) error {
	roll := strings.ToLower(strings.TrimSpace(s.RollNumber))
	if roll == "" {
		return errors.New("roll number required")
	}
	extra := s.Extra
	if extra == nil {
		extra = map[string]string{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO students (roll_number, student_name, branch, extra)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (roll_number) DO UPDATE SET
			student_name = EXCLUDED.student_name,
			branch = EXCLUDED.branch,
			extra = EXCLUDED.extra
	`, roll, strings.TrimSpace(s.StudentName), strings.TrimSpace(s.Branch), extraJSON)
	return err
}

// Insert adds a student, failing when the roll number already exists.
func (r *Repository) Insert(ctx context.Context, s Student) (bool, error) {
	roll := strings.ToLower(strings.TrimSpace(s.RollNumber))
	if roll == "" {
		return false, errors.New("roll number required")
	}
	extra := s.Extra
	if extra == nil {
		extra = map[string]string{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO students (roll_number, student_name, branch, extra)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (roll_number) DO NOTHING
	`, roll, strings.TrimSpace(s.StudentName), strings.TrimSpace(s.Branch), extraJSON)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Get returns a student by roll number, nil when absent. Matching is
// case-insensitive.
func (r *Repository) Get(ctx context.Context, roll string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT roll_number, student_name, branch, extra, created_at
		FROM students WHERE roll_number = $1
	`, strings.ToLower(strings.TrimSpace(roll)))
	var s Student
	var extraJSON []byte
	if err := row.Scan(&s.RollNumber, &s.StudentName, &s.Branch, &extraJSON, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(extraJSON, &s.Extra); err != nil {
		return nil, err
	}
	return &s, nil
}

// List returns all students ordered by roll number.
func (r *Repository) List(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT roll_number, student_name, branch, extra, created_at
		FROM students ORDER BY roll_number
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var s Student
		var extraJSON []byte
		if err := rows.Scan(&s.RollNumber, &s.StudentName, &s.Branch, &extraJSON, &s.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(extraJSON, &s.Extra); err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// Delete removes a student.
func (r *Repository) Delete(ctx context.Context, roll string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE roll_number = $1`,
		strings.ToLower(strings.TrimSpace(roll)))
	return err
}
