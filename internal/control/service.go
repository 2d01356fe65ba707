package control

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lumengrid/lumen-core/internal/audit"
	"github.com/lumengrid/lumen-core/internal/device"
	"github.com/lumengrid/lumen-core/internal/infrastructure/mqtt"
)

// commandTimeout bounds a single operator command.
const commandTimeout = 5 * time.Second

// Logger is the interface for logging within the service.
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

// DeviceStore persists device changes inside an existing transaction.
// Implemented by device.SQLiteRepository.
type DeviceStore interface {
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, status device.Status) error
	UpdateModeTx(ctx context.Context, tx *sql.Tx, id string, mode device.Mode) error
}

// DeviceRegistry is the subset of device.Registry the service needs.
type DeviceRegistry interface {
	Lock(id string)
	Unlock(id string)
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	Invalidate(ctx context.Context, id string) error
}

// TransitionLog appends transition entries inside an existing
// transaction. Implemented by audit.SQLiteRepository.
type TransitionLog interface {
	CreateTx(ctx context.Context, tx *sql.Tx, tr *audit.Transition) error
}

// CommandPublisher pushes status commands to controllers over MQTT.
type CommandPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// StatusArchiver receives committed status changes for long-term
// storage. Implemented by influxdb.Client.
type StatusArchiver interface {
	WriteStatusChange(deviceID string, status string, mode string)
}

// Service executes operator commands against the fleet.
type Service struct {
	db       *sql.DB
	devices  DeviceStore
	registry DeviceRegistry
	log      TransitionLog
	mqtt     CommandPublisher // may be nil when the broker is disabled
	archive  StatusArchiver   // may be nil when InfluxDB is disabled
	logger   Logger
}

// NewService creates a control service. mqttClient, archive, and
// logger may be nil.
func NewService(db *sql.DB, devices DeviceStore, registry DeviceRegistry, log TransitionLog, mqttClient CommandPublisher, archive StatusArchiver, logger Logger) *Service {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Service{
		db:       db,
		devices:  devices,
		registry: registry,
		log:      log,
		mqtt:     mqttClient,
		archive:  archive,
		logger:   logger,
	}
}

// SetStatus forces a lamp ON or OFF on behalf of an operator.
//
// The device moves to MANUAL mode so the next automation pass cannot
// immediately undo the command. A transition entry is always appended,
// even when the requested status matches the current one. Returns the
// device's state after the command.
func (s *Service) SetStatus(ctx context.Context, deviceID string, status device.Status, actor string) (*device.Device, error) {
	if err := device.ValidateID(deviceID); err != nil {
		return nil, err
	}
	if err := device.ValidateStatus(status); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	s.registry.Lock(deviceID)
	defer s.registry.Unlock(deviceID)

	dev, err := s.registry.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.devices.UpdateStatusTx(ctx, tx, deviceID, status); err != nil {
			return fmt.Errorf("updating status: %w", err)
		}
		if dev.Mode != device.ModeManual {
			if err := s.devices.UpdateModeTx(ctx, tx, deviceID, device.ModeManual); err != nil {
				return fmt.Errorf("updating mode: %w", err)
			}
		}
		entry := &audit.Transition{
			DeviceID: deviceID,
			Action:   string(status),
			Mode:     string(device.ModeManual),
			Actor:    actor,
			Detail:   fmt.Sprintf("Manual control: %s", status),
		}
		if err := s.log.CreateTx(ctx, tx, entry); err != nil {
			return fmt.Errorf("logging transition: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.registry.Invalidate(ctx, deviceID); err != nil {
		s.logger.Warn("failed to refresh device cache",
			"device_id", deviceID,
			"error", err)
	}

	s.publishCommand(deviceID, status)
	if s.archive != nil {
		s.archive.WriteStatusChange(deviceID, string(status), string(device.ModeManual))
	}

	s.logger.Info("manual control applied",
		"device_id", deviceID,
		"status", string(status),
		"actor", actor)
	return s.registry.GetDevice(ctx, deviceID)
}

// SetMode switches a device between AUTO and MANUAL control.
//
// The lamp's status is untouched; a MODE_CHANGE transition entry
// records who flipped the mode. Returns the device's state after the
// change.
func (s *Service) SetMode(ctx context.Context, deviceID string, mode device.Mode, actor string) (*device.Device, error) {
	if err := device.ValidateID(deviceID); err != nil {
		return nil, err
	}
	if err := device.ValidateMode(mode); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	s.registry.Lock(deviceID)
	defer s.registry.Unlock(deviceID)

	if _, err := s.registry.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.devices.UpdateModeTx(ctx, tx, deviceID, mode); err != nil {
			return fmt.Errorf("updating mode: %w", err)
		}
		entry := &audit.Transition{
			DeviceID: deviceID,
			Action:   audit.ActionModeChange,
			Mode:     string(mode),
			Actor:    actor,
			Detail:   fmt.Sprintf("Mode changed to %s", mode),
		}
		if err := s.log.CreateTx(ctx, tx, entry); err != nil {
			return fmt.Errorf("logging transition: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.registry.Invalidate(ctx, deviceID); err != nil {
		s.logger.Warn("failed to refresh device cache",
			"device_id", deviceID,
			"error", err)
	}

	s.logger.Info("mode changed",
		"device_id", deviceID,
		"mode", string(mode),
		"actor", actor)
	return s.registry.GetDevice(ctx, deviceID)
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Service) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// commandPayload is the JSON body pushed to lumen/command/{device_id}.
type commandPayload struct {
	Status string `json:"status"`
	Source string `json:"source"`
}

// publishCommand notifies the controller of its new status. Failures
// are logged, not returned.
func (s *Service) publishCommand(id string, status device.Status) {
	if s.mqtt == nil {
		return
	}
	payload, err := json.Marshal(commandPayload{Status: string(status), Source: "manual"})
	if err != nil {
		s.logger.Error("failed to marshal command payload", "device_id", id, "error", err)
		return
	}
	topic := mqtt.Topics{}.Command(id)
	if err := s.mqtt.Publish(topic, payload, 1, false); err != nil {
		s.logger.Warn("failed to publish command",
			"device_id", id,
			"topic", topic,
			"error", err)
	}
}
