package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteReading archives a light intensity reading to InfluxDB.
//
// This is the primary method for recording device telemetry data.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Unique identifier for the device (e.g., "lamp-0042")
//   - intensity: The ambient light reading in lux
//   - recordedAt: When the reading was taken
//
// Example:
//
//	client.WriteReading("lamp-0042", 245.0, time.Now())
func (c *Client) WriteReading(deviceID string, intensity float64, recordedAt time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"light_intensity",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"value": intensity,
		},
		recordedAt,
	)

	c.writeAPI.WritePoint(point)
}

// WriteStatusChange archives a lamp status transition to InfluxDB.
//
// Used alongside the SQLite transition log to enable long-range
// duty-cycle and energy analysis without querying the primary store.
//
// Parameters:
//   - deviceID: Device identifier
//   - status: The new lamp status ("ON" or "OFF")
//   - mode: The control mode at the time of the change ("AUTO" or "MANUAL")
func (c *Client) WriteStatusChange(deviceID string, status string, mode string) {
	if !c.IsConnected() {
		return
	}

	on := 0
	if status == "ON" {
		on = 1
	}

	point := write.NewPoint(
		"status_change",
		map[string]string{
			"device_id": deviceID,
			"mode":      mode,
		},
		map[string]interface{}{
			"status": status,
			"on":     on,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
