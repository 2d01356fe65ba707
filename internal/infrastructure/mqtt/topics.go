package mqtt

import "fmt"

// Topic prefixes for the Lumen Core MQTT namespace.
//
// Devices publish telemetry and heartbeats under their own device ID;
// Core publishes actuator commands and its own status.
const (
	// TopicPrefix is the base for all Lumen Core topics.
	TopicPrefix = "lumen"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "lumen/system"
)

// Topics provides builders for Lumen Core MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topic := topics.Telemetry("lamp-0042")
//	// Returns: "lumen/telemetry/lamp-0042"
type Topics struct{}

// Telemetry returns the topic a device publishes sensor readings on.
//
// Example: lumen/telemetry/lamp-0042
func (Topics) Telemetry(deviceID string) string {
	return fmt.Sprintf("%s/telemetry/%s", TopicPrefix, deviceID)
}

// Heartbeat returns the topic a device publishes liveness pings on.
//
// Example: lumen/heartbeat/lamp-0042
func (Topics) Heartbeat(deviceID string) string {
	return fmt.Sprintf("%s/heartbeat/%s", TopicPrefix, deviceID)
}

// Command returns the topic Core publishes actuator commands on.
// Devices subscribe to their own command topic.
//
// Example: lumen/command/lamp-0042
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// SystemStatus returns the Core status topic (also used for LWT).
//
// Example: lumen/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllTelemetry returns a pattern matching telemetry from every device.
//
// Pattern: lumen/telemetry/+
func (Topics) AllTelemetry() string {
	return fmt.Sprintf("%s/telemetry/+", TopicPrefix)
}

// AllHeartbeats returns a pattern matching heartbeats from every device.
//
// Pattern: lumen/heartbeat/+
func (Topics) AllHeartbeats() string {
	return fmt.Sprintf("%s/heartbeat/+", TopicPrefix)
}

// AllTopics returns a pattern matching all Lumen Core topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: lumen/#
func (Topics) AllTopics() string {
	return "lumen/#"
}

// DeviceIDFromTopic extracts the trailing device ID segment from a
// telemetry, heartbeat, or command topic. Returns "" if the topic has
// no device segment.
func DeviceIDFromTopic(topic string) string {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			return topic[i+1:]
		}
	}
	return ""
}
