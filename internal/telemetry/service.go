package telemetry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/lumengrid/lumen-core/internal/device"
)

// ingestTimeout bounds a single ingest, covering persistence and the
// automation evaluation.
const ingestTimeout = 10 * time.Second

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

// DeviceRegistry is the subset of device.Registry the service needs.
type DeviceRegistry interface {
	Lock(id string)
	Unlock(id string)
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	MarkSeen(ctx context.Context, id string) error
}

// Evaluator applies the automation rule to an accepted reading.
// Implemented by automation.Engine.
type Evaluator interface {
	Evaluate(ctx context.Context, dev *device.Device, intensity float64) (device.Status, bool, error)
}

// Archiver receives a copy of accepted readings for long-term storage.
// Implemented by influxdb.Client; writes are fire-and-forget.
type Archiver interface {
	WriteReading(deviceID string, intensity float64, recordedAt time.Time)
}

// Service coordinates reading ingest: persist, mark the device seen,
// and evaluate automation for AUTO-mode devices.
type Service struct {
	registry DeviceRegistry
	readings Repository
	engine   Evaluator
	archive  Archiver // may be nil when InfluxDB is disabled
	logger   Logger
}

// NewService creates a telemetry service. archive and logger may be
// nil.
func NewService(registry DeviceRegistry, readings Repository, engine Evaluator, archive Archiver, logger Logger) *Service {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Service{
		registry: registry,
		readings: readings,
		engine:   engine,
		archive:  archive,
		logger:   logger,
	}
}

// IngestResult reports what an accepted reading caused.
type IngestResult struct {
	Reading *Reading      `json:"reading"`
	Status  device.Status `json:"status"`
	Changed bool          `json:"status_changed"`
}

// Ingest processes one reading from a controller.
//
// The device must be registered: readings from unknown devices are
// rejected without being persisted. An accepted reading is stored,
// refreshes liveness, and triggers an automation evaluation when the
// device is in AUTO mode. Devices in MANUAL mode keep their status
// regardless of the reading.
//
// The device's registry lock is held for the whole sequence, so
// concurrent readings for one device serialize while other devices
// proceed.
func (s *Service) Ingest(ctx context.Context, deviceID string, intensity float64) (*IngestResult, error) {
	if err := validateIntensity(intensity); err != nil {
		return nil, err
	}
	if err := device.ValidateID(deviceID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()

	s.registry.Lock(deviceID)
	defer s.registry.Unlock(deviceID)

	dev, err := s.registry.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	reading := &Reading{DeviceID: deviceID, Intensity: intensity}
	if err := s.readings.Create(ctx, reading); err != nil {
		return nil, fmt.Errorf("persisting reading: %w", err)
	}

	if err := s.registry.MarkSeen(ctx, deviceID); err != nil {
		s.logger.Warn("failed to mark device seen",
			"device_id", deviceID,
			"error", err)
	}

	result := &IngestResult{Reading: reading, Status: dev.Status}
	if dev.Mode == device.ModeAuto {
		status, changed, err := s.engine.Evaluate(ctx, dev, intensity)
		if err != nil {
			return nil, fmt.Errorf("evaluating automation: %w", err)
		}
		result.Status = status
		result.Changed = changed
	}

	if s.archive != nil {
		s.archive.WriteReading(deviceID, intensity, reading.RecordedAt)
	}

	s.logger.Debug("reading ingested",
		"device_id", deviceID,
		"intensity", intensity,
		"status", string(result.Status),
		"changed", result.Changed)
	return result, nil
}

// Heartbeat refreshes a device's liveness without recording a reading.
func (s *Service) Heartbeat(ctx context.Context, deviceID string) error {
	if err := device.ValidateID(deviceID); err != nil {
		return err
	}
	return s.registry.MarkSeen(ctx, deviceID)
}

// History returns a device's recent readings, newest first. The device
// must exist.
func (s *Service) History(ctx context.Context, deviceID string, limit, offset int) ([]Reading, error) {
	if _, err := s.registry.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.readings.HistoryByDevice(ctx, deviceID, limit, offset)
}

// Latest returns the most recent reading per device.
func (s *Service) Latest(ctx context.Context) ([]LatestReading, error) {
	return s.readings.LatestPerDevice(ctx)
}

// DeviceStats aggregates a device's readings over the given window.
func (s *Service) DeviceStats(ctx context.Context, deviceID string, window time.Duration) (*Stats, error) {
	if _, err := s.registry.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	since := time.Now().UTC().Add(-window)
	return s.readings.StatsByDevice(ctx, deviceID, since)
}

// CountSince counts readings across the fleet recorded within the
// trailing window.
func (s *Service) CountSince(ctx context.Context, window time.Duration) (int, error) {
	return s.readings.CountSince(ctx, time.Now().UTC().Add(-window))
}

// RunRetention deletes readings older than the cutoff once per day
// until the context is cancelled. The transition log is never pruned.
func (s *Service) RunRetention(ctx context.Context, keep time.Duration) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		deleted, err := s.readings.DeleteOlderThan(ctx, time.Now().UTC().Add(-keep))
		if err != nil {
			s.logger.Error("reading retention sweep failed", "error", err)
		} else if deleted > 0 {
			s.logger.Info("pruned old readings", "deleted", deleted)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func validateIntensity(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidIntensity, v)
	}
	return nil
}
