package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lumengrid/lumen-core/internal/infrastructure/mqtt"
)

// Broker is the subset of the MQTT client the subscriber needs.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Subscriber bridges MQTT telemetry and heartbeat topics to the
// telemetry service.
type Subscriber struct {
	service *Service
	logger  Logger
}

// NewSubscriber creates a subscriber. logger may be nil.
func NewSubscriber(service *Service, logger Logger) *Subscriber {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Subscriber{service: service, logger: logger}
}

// Start subscribes to the telemetry and heartbeat wildcard topics.
// Handlers run until the broker connection closes; ctx bounds the
// work done per message.
func (s *Subscriber) Start(ctx context.Context, broker Broker) error {
	topics := mqtt.Topics{}

	if err := broker.Subscribe(topics.AllTelemetry(), 1, s.handleReading(ctx)); err != nil {
		return fmt.Errorf("subscribing to telemetry: %w", err)
	}
	if err := broker.Subscribe(topics.AllHeartbeats(), 1, s.handleHeartbeat(ctx)); err != nil {
		return fmt.Errorf("subscribing to heartbeats: %w", err)
	}

	s.logger.Info("telemetry subscriber started",
		"topics", []string{topics.AllTelemetry(), topics.AllHeartbeats()})
	return nil
}

func (s *Subscriber) handleReading(ctx context.Context) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		deviceID := mqtt.DeviceIDFromTopic(topic)
		if deviceID == "" {
			return fmt.Errorf("%w: no device id in topic %q", ErrInvalidPayload, topic)
		}

		intensity, err := parseIntensity(payload)
		if err != nil {
			s.logger.Warn("dropping unparseable reading",
				"device_id", deviceID,
				"topic", topic,
				"error", err)
			return err
		}

		if _, err := s.service.Ingest(ctx, deviceID, intensity); err != nil {
			s.logger.Warn("failed to ingest reading",
				"device_id", deviceID,
				"error", err)
			return err
		}
		return nil
	}
}

func (s *Subscriber) handleHeartbeat(ctx context.Context) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		deviceID := mqtt.DeviceIDFromTopic(topic)
		if deviceID == "" {
			return fmt.Errorf("%w: no device id in topic %q", ErrInvalidPayload, topic)
		}

		if err := s.service.Heartbeat(ctx, deviceID); err != nil {
			s.logger.Warn("failed to record heartbeat",
				"device_id", deviceID,
				"error", err)
			return err
		}
		return nil
	}
}

// readingPayload is the JSON body controllers publish on
// lumen/telemetry/{device_id}.
type readingPayload struct {
	LightIntensity float64 `json:"light_intensity"`
}

// parseIntensity accepts either a JSON object with a light_intensity
// field or a bare numeric payload.
func parseIntensity(payload []byte) (float64, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}

	if strings.HasPrefix(trimmed, "{") {
		var body readingPayload
		if err := json.Unmarshal(payload, &body); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return body.LightIntensity, nil
	}

	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return v, nil
}
