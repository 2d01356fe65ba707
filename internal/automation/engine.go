package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lumengrid/lumen-core/internal/audit"
	"github.com/lumengrid/lumen-core/internal/device"
	"github.com/lumengrid/lumen-core/internal/infrastructure/mqtt"
	"github.com/lumengrid/lumen-core/internal/settings"
)

// evaluateTimeout bounds a single evaluation, covering the settings
// read and the status transaction.
const evaluateTimeout = 5 * time.Second

// Logger is the interface for logging within the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StatusStore persists device status changes inside an existing
// transaction. Implemented by device.SQLiteRepository.
type StatusStore interface {
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, status device.Status) error
}

// TransitionLog appends transition entries inside an existing
// transaction. Implemented by audit.SQLiteRepository.
type TransitionLog interface {
	CreateTx(ctx context.Context, tx *sql.Tx, tr *audit.Transition) error
}

// SettingsStore reads engine settings. Implemented by
// settings.SQLiteRepository.
type SettingsStore interface {
	GetFloat(ctx context.Context, key string, fallback float64) (float64, error)
	GetBool(ctx context.Context, key string, fallback bool) (bool, error)
}

// DeviceCache drops stale cache entries after a committed status
// change. Implemented by device.Registry.
type DeviceCache interface {
	Invalidate(ctx context.Context, id string) error
}

// CommandPublisher pushes status commands to controllers over MQTT.
type CommandPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// StatusArchiver receives committed status changes for long-term
// storage. Implemented by influxdb.Client; writes are fire-and-forget.
type StatusArchiver interface {
	WriteStatusChange(deviceID string, status string, mode string)
}

// Engine applies the automation rule to incoming readings.
//
// Evaluate assumes the caller holds the per-device lock from
// device.Registry, so at most one evaluation runs per device at a
// time. The status update and its transition log entry commit in one
// transaction; the MQTT command goes out after commit and is best
// effort.
type Engine struct {
	db      *sql.DB
	devices StatusStore
	log     TransitionLog
	store   SettingsStore
	cache   DeviceCache
	mqtt    CommandPublisher // may be nil when the broker is disabled
	archive StatusArchiver   // may be nil when InfluxDB is disabled
	logger  Logger
}

// SetArchiver wires an optional archive for committed status changes.
func (e *Engine) SetArchiver(archive StatusArchiver) {
	e.archive = archive
}

// NewEngine creates an automation engine. mqttClient and logger may be
// nil.
func NewEngine(db *sql.DB, devices StatusStore, log TransitionLog, store SettingsStore, cache DeviceCache, mqttClient CommandPublisher, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		db:      db,
		devices: devices,
		log:     log,
		store:   store,
		cache:   cache,
		mqtt:    mqttClient,
		logger:  logger,
	}
}

// Decide returns the status a lamp should hold for the given reading.
// A lamp is ON when intensity strictly exceeds the threshold; an
// intensity equal to the threshold yields OFF.
func Decide(intensity, threshold float64) device.Status {
	if intensity > threshold {
		return device.StatusOn
	}
	return device.StatusOff
}

// autoDetail describes an engine decision for the transition log.
func autoDetail(desired device.Status, intensity, threshold float64) string {
	op := "<="
	if desired == device.StatusOn {
		op = ">"
	}
	return fmt.Sprintf("Auto control: light intensity %g %s threshold %g", intensity, op, threshold)
}

// Evaluate applies the automation rule to a single reading and returns
// the resulting status and whether it changed.
//
// The threshold is read from settings on every call. When the decided
// status matches the device's current status nothing is written: no
// update, no log entry. The caller must hold the device's registry
// lock and pass the current device row.
func (e *Engine) Evaluate(ctx context.Context, dev *device.Device, intensity float64) (device.Status, bool, error) {
	if dev == nil {
		return "", false, ErrNilDevice
	}

	ctx, cancel := context.WithTimeout(ctx, evaluateTimeout)
	defer cancel()

	enabled, err := e.store.GetBool(ctx, settings.KeyAutoModeEnabled, true)
	if err != nil {
		return "", false, fmt.Errorf("reading auto mode setting: %w", err)
	}
	if !enabled {
		e.logger.Debug("automation disabled, skipping evaluation", "device_id", dev.ID)
		return dev.Status, false, nil
	}

	threshold, err := e.store.GetFloat(ctx, settings.KeyLightThreshold, settings.DefaultLightThreshold)
	if err != nil {
		return "", false, fmt.Errorf("reading light threshold: %w", err)
	}

	desired := Decide(intensity, threshold)
	if desired == dev.Status {
		e.logger.Debug("status unchanged",
			"device_id", dev.ID,
			"status", string(desired),
			"intensity", intensity,
			"threshold", threshold)
		return desired, false, nil
	}

	if err := e.applyStatus(ctx, dev.ID, desired, intensity, threshold); err != nil {
		return "", false, err
	}

	if err := e.cache.Invalidate(ctx, dev.ID); err != nil {
		e.logger.Warn("failed to refresh device cache",
			"device_id", dev.ID,
			"error", err)
	}

	e.publishCommand(dev.ID, desired)
	if e.archive != nil {
		e.archive.WriteStatusChange(dev.ID, string(desired), string(device.ModeAuto))
	}

	e.logger.Info("automation applied",
		"device_id", dev.ID,
		"status", string(desired),
		"intensity", intensity,
		"threshold", threshold)
	return desired, true, nil
}

// applyStatus commits the status update and its transition log entry
// in a single transaction.
func (e *Engine) applyStatus(ctx context.Context, id string, desired device.Status, intensity, threshold float64) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning status transaction: %w", err)
	}
	defer tx.Rollback()

	if err := e.devices.UpdateStatusTx(ctx, tx, id, desired); err != nil {
		return fmt.Errorf("updating status: %w", err)
	}

	entry := &audit.Transition{
		DeviceID: id,
		Action:   string(desired),
		Mode:     string(device.ModeAuto),
		Detail:   autoDetail(desired, intensity, threshold),
	}
	if err := e.log.CreateTx(ctx, tx, entry); err != nil {
		return fmt.Errorf("logging transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing status transaction: %w", err)
	}
	return nil
}

// commandPayload is the JSON body pushed to lumen/command/{device_id}.
type commandPayload struct {
	Status string `json:"status"`
	Source string `json:"source"`
}

// publishCommand notifies the controller of its new status. Delivery
// failures are logged, not returned: the database is the source of
// truth and controllers resync on reconnect.
func (e *Engine) publishCommand(id string, status device.Status) {
	if e.mqtt == nil {
		return
	}
	payload, err := json.Marshal(commandPayload{Status: string(status), Source: "auto"})
	if err != nil {
		e.logger.Error("failed to marshal command payload", "device_id", id, "error", err)
		return
	}
	topic := mqtt.Topics{}.Command(id)
	if err := e.mqtt.Publish(topic, payload, 1, false); err != nil {
		e.logger.Warn("failed to publish command",
			"device_id", id,
			"topic", topic,
			"error", err)
	}
}
