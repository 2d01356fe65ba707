// Package settings provides the system_settings key-value store for
// runtime-tunable configuration such as the automation light threshold.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Well-known setting keys.
const (
	// KeyLightThreshold is the lux threshold the decision engine
	// compares readings against.
	KeyLightThreshold = "light_threshold"

	// KeyAutoModeEnabled globally gates automation evaluation.
	KeyAutoModeEnabled = "auto_mode_enabled"

	// KeyPollingInterval is the controller-side reporting interval in
	// milliseconds. Stored for the fleet, not consumed by Core.
	KeyPollingInterval = "polling_interval"
)

// DefaultLightThreshold applies when the light_threshold key is missing
// or unparseable.
const DefaultLightThreshold = 300.0

// ErrSettingNotFound is returned when a setting key does not exist.
var ErrSettingNotFound = errors.New("settings: not found")

// Setting represents a single key-value entry.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository defines the interface for system settings operations.
type Repository interface {
	// Get returns the raw value for a key.
	// Returns ErrSettingNotFound if the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// GetFloat returns a numeric setting, or fallback when the key is
	// missing or not a number.
	GetFloat(ctx context.Context, key string, fallback float64) (float64, error)

	// GetBool returns a boolean setting ("true"/"false"), or fallback
	// when the key is missing or not a boolean.
	GetBool(ctx context.Context, key string, fallback bool) (bool, error)

	// Set creates or replaces a setting.
	Set(ctx context.Context, key, value string) error

	// GetAll returns every setting.
	GetAll(ctx context.Context) ([]Setting, error)
}

// SQLiteRepository stores settings in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new settings repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Get returns the raw value for a key.
func (r *SQLiteRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		"SELECT value FROM system_settings WHERE key = ?", key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrSettingNotFound
		}
		return "", fmt.Errorf("querying setting %q: %w", key, err)
	}
	return value, nil
}

// GetFloat returns a numeric setting, or fallback when missing or unparseable.
func (r *SQLiteRepository) GetFloat(ctx context.Context, key string, fallback float64) (float64, error) {
	raw, err := r.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrSettingNotFound) {
			return fallback, nil
		}
		return 0, err
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback, nil
	}
	return value, nil
}

// GetBool returns a boolean setting, or fallback when missing or unparseable.
func (r *SQLiteRepository) GetBool(ctx context.Context, key string, fallback bool) (bool, error) {
	raw, err := r.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrSettingNotFound) {
			return fallback, nil
		}
		return false, err
	}

	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, nil
	}
	return value, nil
}

// Set creates or replaces a setting.
func (r *SQLiteRepository) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("settings: key is required")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO system_settings (key, value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	return nil
}

// GetAll returns every setting, ordered by key.
func (r *SQLiteRepository) GetAll(ctx context.Context) ([]Setting, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT key, value, updated_at FROM system_settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	var all []Setting
	for rows.Next() {
		var s Setting
		var updatedAt string
		if err := rows.Scan(&s.Key, &s.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}

		t, err := time.Parse(time.RFC3339, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing setting timestamp %q: %w", updatedAt, err)
		}
		s.UpdatedAt = t

		all = append(all, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating settings: %w", err)
	}

	if all == nil {
		all = []Setting{}
	}

	return all, nil
}
