package telemetry

import "errors"

var (
	// ErrInvalidIntensity is returned for readings that are negative,
	// NaN, or infinite.
	ErrInvalidIntensity = errors.New("telemetry: invalid light intensity")

	// ErrInvalidPayload is returned when an MQTT payload cannot be
	// parsed as a reading.
	ErrInvalidPayload = errors.New("telemetry: invalid payload")
)
