// Package binding persists the one-device-per-student map.
package binding

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Binding ties a roll number to the single device it may check in from.
// The table carries unique constraints on both columns, so the pair is a
// bijection even under concurrent writes.
type Binding struct {
	RollNumber string    `json:"rollnumber"`
	DeviceID   string    `json:"device_id"`
	BoundAt    time.Time `json:"bound_at"`
}

// Repository persists device bindings in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindByRoll returns the binding for a roll number, nil when unbound.
func (r *Repository) FindByRoll(ctx context.Context, roll string) (*Binding, error) {
	return r.find(ctx, `
		SELECT roll_number, device_id, bound_at
		FROM device_bindings WHERE roll_number = $1
	`, strings.ToLower(strings.TrimSpace(roll)))
}

// FindByDevice returns the binding holding a device id, nil when free.
func (r *Repository) FindByDevice(ctx context.Context, deviceID string) (*Binding, error) {
	return r.find(ctx, `
		SELECT roll_number, device_id, bound_at
		FROM device_bindings WHERE device_id = $1
	`, deviceID)
}

func (r *Repository) find(ctx context.Context, query string, arg string) (*Binding, error) {
	row := r.db.QueryRowContext(ctx, query, arg)
	var b Binding
	if err := row.Scan(&b.RollNumber, &b.DeviceID, &b.BoundAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// Bind records a first-time binding. The unique constraints reject a device
// or roll that raced into another binding between check and write.
func (r *Repository) Bind(ctx context.Context, roll, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_bindings (roll_number, device_id)
		VALUES ($1, $2)
	`, strings.ToLower(strings.TrimSpace(roll)), deviceID)
	return err
}

// Unbind releases a student's device. Admin action only.
func (r *Repository) Unbind(ctx context.Context, roll string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM device_bindings WHERE roll_number = $1`,
		strings.ToLower(strings.TrimSpace(roll)))
	return err
}

// List returns all bindings ordered by roll number.
func (r *Repository) List(ctx context.Context) ([]Binding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT roll_number, device_id, bound_at
		FROM device_bindings ORDER BY roll_number
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var bindings []Binding
	for rows.Next() {
		var b Binding
		if err := rows.Scan(&b.RollNumber, &b.DeviceID, &b.BoundAt); err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}
