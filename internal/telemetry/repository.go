package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository defines persistence operations for sensor readings.
type Repository interface {
	Create(ctx context.Context, r *Reading) error
	HistoryByDevice(ctx context.Context, deviceID string, limit, offset int) ([]Reading, error)
	LatestPerDevice(ctx context.Context) ([]LatestReading, error)
	StatsByDevice(ctx context.Context, deviceID string, since time.Time) (*Stats, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite reading repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create stores a reading. A missing ID or timestamp is filled in.
func (r *SQLiteRepository) Create(ctx context.Context, reading *Reading) error {
	if reading.ID == "" {
		reading.ID = "rd-" + uuid.NewString()[:8]
	}
	if reading.RecordedAt.IsZero() {
		reading.RecordedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sensor_readings (id, device_id, light_intensity, recorded_at)
		 VALUES (?, ?, ?, ?)`,
		reading.ID, reading.DeviceID, reading.Intensity,
		reading.RecordedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting sensor reading: %w", err)
	}
	return nil
}

// HistoryByDevice returns a device's readings, most recent first.
func (r *SQLiteRepository) HistoryByDevice(ctx context.Context, deviceID string, limit, offset int) ([]Reading, error) {
	// Clamp limit.
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, light_intensity, recorded_at
		 FROM sensor_readings
		 WHERE device_id = ?
		 ORDER BY recorded_at DESC, rowid DESC
		 LIMIT ? OFFSET ?`,
		deviceID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying reading history: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		var reading Reading
		var recordedAt string
		if err := rows.Scan(&reading.ID, &reading.DeviceID, &reading.Intensity, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		reading.RecordedAt, err = time.Parse(time.RFC3339, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}

// LatestPerDevice returns the most recent reading for every device
// that has at least one, joined with the device's current state.
func (r *SQLiteRepository) LatestPerDevice(ctx context.Context) ([]LatestReading, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT d.id, d.name, d.status, d.mode, sr.light_intensity, sr.recorded_at
		 FROM devices d
		 JOIN sensor_readings sr ON sr.rowid = (
		     SELECT rowid FROM sensor_readings
		     WHERE device_id = d.id
		     ORDER BY recorded_at DESC, rowid DESC
		     LIMIT 1
		 )
		 ORDER BY d.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying latest readings: %w", err)
	}
	defer rows.Close()

	var latest []LatestReading
	for rows.Next() {
		var lr LatestReading
		var recordedAt string
		if err := rows.Scan(&lr.DeviceID, &lr.DeviceName, &lr.Status, &lr.Mode, &lr.Intensity, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning latest reading: %w", err)
		}
		lr.RecordedAt, err = time.Parse(time.RFC3339, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		latest = append(latest, lr)
	}
	return latest, rows.Err()
}

// StatsByDevice aggregates a device's readings since the given time.
// A device with no readings in the window yields a zero-count Stats.
func (r *SQLiteRepository) StatsByDevice(ctx context.Context, deviceID string, since time.Time) (*Stats, error) {
	stats := &Stats{DeviceID: deviceID}
	var avg, min, max sql.NullFloat64

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(light_intensity), MIN(light_intensity), MAX(light_intensity)
		 FROM sensor_readings
		 WHERE device_id = ? AND recorded_at >= ?`,
		deviceID, since.UTC().Format(time.RFC3339),
	).Scan(&stats.Count, &avg, &min, &max)
	if err != nil {
		return nil, fmt.Errorf("querying reading stats: %w", err)
	}

	stats.Avg = avg.Float64
	stats.Min = min.Float64
	stats.Max = max.Float64
	return stats, nil
}

// CountSince counts readings recorded at or after the given time,
// across all devices. Feeds the dashboard activity figure.
func (r *SQLiteRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sensor_readings WHERE recorded_at >= ?`,
		since.UTC().Format(time.RFC3339),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting readings: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes readings recorded before the cutoff and
// returns the number deleted. Used by the retention sweep.
func (r *SQLiteRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sensor_readings WHERE recorded_at < ?`,
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting old readings: %w", err)
	}
	return res.RowsAffected()
}
