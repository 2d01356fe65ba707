package device

import "time"

// Device represents a registered streetlight controller.
// This matches the database schema in migrations/20260820_100000_initial_schema.up.sql.
type Device struct {
	// Identity. ID is assigned externally (printed on the controller)
	// and used as the primary key everywhere, including MQTT topics.
	ID   string `json:"id"`
	Name string `json:"name"`

	// Location is a free-form human description ("Elm St & 4th").
	Location *string `json:"location,omitempty"`

	// Current lamp state
	Status Status `json:"status"`
	Mode   Mode   `json:"mode"`

	// Liveness
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates a complete independent copy of the Device.
// Pointer fields are cloned so modifications to the copy do not
// affect the original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields

	if d.Location != nil {
		loc := *d.Location
		cpy.Location = &loc
	}
	if d.LastSeen != nil {
		seen := *d.LastSeen
		cpy.LastSeen = &seen
	}

	return &cpy
}

// SeenWithin reports whether the device has been heard from inside the
// given staleness window. A device that has never reported is not seen.
func (d *Device) SeenWithin(window time.Duration, now time.Time) bool {
	if !d.IsOnline || d.LastSeen == nil {
		return false
	}
	return now.Sub(*d.LastSeen) <= window
}

// Status represents the lamp state of a device.
type Status string

// Status constants.
const (
	StatusOn  Status = "ON"
	StatusOff Status = "OFF"
)

// AllStatuses returns all valid status values.
func AllStatuses() []Status {
	return []Status{StatusOn, StatusOff}
}

// Mode represents the control mode of a device.
//
// In AUTO the decision engine drives the lamp from telemetry; in MANUAL
// only operator commands change it.
type Mode string

// Mode constants.
const (
	ModeAuto   Mode = "AUTO"
	ModeManual Mode = "MANUAL"
)

// AllModes returns all valid mode values.
func AllModes() []Mode {
	return []Mode{ModeAuto, ModeManual}
}
