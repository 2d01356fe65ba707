package telemetry

import "time"

// Reading is a single light intensity sample from a controller.
type Reading struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	Intensity  float64   `json:"light_intensity"`
	RecordedAt time.Time `json:"recorded_at"`
}

// LatestReading joins the most recent reading per device with the
// device's current state, for fleet dashboards.
type LatestReading struct {
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	Status     string    `json:"status"`
	Mode       string    `json:"mode"`
	Intensity  float64   `json:"light_intensity"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Stats summarizes a device's readings over a window.
type Stats struct {
	DeviceID string  `json:"device_id"`
	Count    int     `json:"count"`
	Avg      float64 `json:"avg"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
}
