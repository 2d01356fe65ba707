// Package audit provides the append-only transition log: every lamp
// status change and mode change is recorded with its cause and actor.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Transition actions. ON and OFF record lamp status changes;
// MODE_CHANGE records a switch between AUTO and MANUAL.
const (
	ActionOn         = "ON"
	ActionOff        = "OFF"
	ActionModeChange = "MODE_CHANGE"
)

// Transition represents a single transition log entry.
//
// Mode records the control mode for the entry: AUTO for engine
// decisions, MANUAL for operator commands, and for MODE_CHANGE the
// mode being switched to. Actor identifies the operator for manual
// actions and is empty for engine decisions.
type Transition struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Action    string    `json:"action"`
	Mode      string    `json:"mode"`
	Actor     string    `json:"actor,omitempty"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which transitions to return.
type Filter struct {
	DeviceID string // optional: filter by device
	Action   string // optional: filter by action (ON, OFF, MODE_CHANGE)
	Mode     string // optional: filter by mode (AUTO, MANUAL)
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// ListResult contains the paginated transition log results.
type ListResult struct {
	Transitions []Transition `json:"transitions"`
	Total       int          `json:"total"`
	Limit       int          `json:"limit"`
	Offset      int          `json:"offset"`
}

// Repository defines the interface for transition log operations.
// The log is append-only: there are no update or delete operations;
// entries disappear only when their device is deleted (cascade).
type Repository interface {
	// Create appends a transition entry. ID and CreatedAt are
	// generated if empty.
	Create(ctx context.Context, tr *Transition) error

	// CreateTx appends a transition entry within an existing
	// transaction, so it commits atomically with the status write it
	// describes.
	CreateTx(ctx context.Context, tx *sql.Tx, tr *Transition) error

	// List returns transitions matching the filter, most recent first.
	List(ctx context.Context, filter Filter) (*ListResult, error)

	// ListByDevice returns the most recent transitions for one device.
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]Transition, error)

	// Recent returns all transitions since the given time, most recent first.
	Recent(ctx context.Context, since time.Time) ([]Transition, error)

	// CountAutoOffSince counts engine-driven OFF transitions since the
	// given time. Feeds the dashboard's energy-saved estimate.
	CountAutoOffSince(ctx context.Context, since time.Time) (int, error)
}

// SQLiteRepository stores transition logs in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new transition log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create appends a transition entry.
func (r *SQLiteRepository) Create(ctx context.Context, tr *Transition) error {
	return createTransition(ctx, r.db, tr)
}

// CreateTx appends a transition entry within an existing transaction.
func (r *SQLiteRepository) CreateTx(ctx context.Context, tx *sql.Tx, tr *Transition) error {
	return createTransition(ctx, tx, tr)
}

// execer is an interface that sql.DB and sql.Tx both implement.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func createTransition(ctx context.Context, ex execer, tr *Transition) error {
	if tr.ID == "" {
		tr.ID = "tl-" + uuid.NewString()[:8]
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}

	_, err := ex.ExecContext(ctx,
		`INSERT INTO transition_logs (id, device_id, action, mode, actor, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.DeviceID, tr.Action, tr.Mode,
		nullableString(tr.Actor), tr.Detail,
		tr.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting transition log: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const transitionColumns = `id, device_id, action, mode, actor, detail, created_at`

// List returns transitions matching the filter, ordered most recent first.
// Entries sharing a timestamp are ordered by insertion (rowid).
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Mode != "" {
		conditions = append(conditions, "mode = ?")
		args = append(args, filter.Mode)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Get total count.
	// WHERE clause is built from parameterised conditions (? placeholders) — no user input in SQL string.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transition_logs %s", where)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting transition logs: %w", err)
	}

	// Get paginated results.
	query := fmt.Sprintf(
		"SELECT "+transitionColumns+" FROM transition_logs %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	transitions, err := r.queryTransitions(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &ListResult{
		Transitions: transitions,
		Total:       total,
		Limit:       filter.Limit,
		Offset:      filter.Offset,
	}, nil
}

// ListByDevice returns the most recent transitions for one device.
func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + transitionColumns + ` FROM transition_logs
		WHERE device_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`
	return r.queryTransitions(ctx, query, deviceID, limit)
}

// Recent returns all transitions since the given time, most recent first.
func (r *SQLiteRepository) Recent(ctx context.Context, since time.Time) ([]Transition, error) {
	query := "SELECT " + transitionColumns + ` FROM transition_logs
		WHERE created_at >= ?
		ORDER BY created_at DESC, rowid DESC`
	return r.queryTransitions(ctx, query, since.UTC().Format(time.RFC3339))
}

// CountAutoOffSince counts engine-driven OFF transitions since the given time.
func (r *SQLiteRepository) CountAutoOffSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transition_logs
		 WHERE action = ? AND mode = 'AUTO' AND created_at >= ?`,
		ActionOff, since.UTC().Format(time.RFC3339),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting auto off transitions: %w", err)
	}
	return count, nil
}

func (r *SQLiteRepository) queryTransitions(ctx context.Context, query string, args ...any) ([]Transition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transition logs: %w", err)
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var tr Transition
		var actor sql.NullString
		var createdAt string

		if err := rows.Scan(&tr.ID, &tr.DeviceID, &tr.Action, &tr.Mode,
			&actor, &tr.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning transition log: %w", err)
		}

		if actor.Valid {
			tr.Actor = actor.String
		}

		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing transition log timestamp %q: %w", createdAt, err)
		}
		tr.CreatedAt = t

		transitions = append(transitions, tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transition logs: %w", err)
	}

	if transitions == nil {
		transitions = []Transition{}
	}

	return transitions, nil
}
