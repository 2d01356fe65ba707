package device

import (
	"fmt"
	"regexp"
)

// Validation constants.
const (
	maxNameLength     = 100
	maxLocationLength = 200
	maxIDLength       = 64

	// Device IDs come from the controller hardware: alphanumeric
	// segments separated by hyphens or underscores ("lamp-0042", "sl_12").
	idPattern = `^[a-zA-Z0-9]+(?:[-_][a-zA-Z0-9]+)*$`
)

var idRegex = regexp.MustCompile(idPattern)

// Pre-computed validation sets for O(1) lookups.
var (
	validStatuses map[Status]struct{}
	validModes    map[Mode]struct{}
)

func init() {
	validStatuses = make(map[Status]struct{}, len(AllStatuses()))
	for _, s := range AllStatuses() {
		validStatuses[s] = struct{}{}
	}

	validModes = make(map[Mode]struct{}, len(AllModes()))
	for _, m := range AllModes() {
		validModes[m] = struct{}{}
	}
}

// ValidateDevice performs comprehensive validation on a device.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}

	if err := ValidateID(d.ID); err != nil {
		return err
	}

	if err := ValidateName(d.Name); err != nil {
		return err
	}

	if d.Location != nil && len(*d.Location) > maxLocationLength {
		return fmt.Errorf("%w: location exceeds %d characters", ErrInvalidDevice, maxLocationLength)
	}

	if err := ValidateStatus(d.Status); err != nil {
		return err
	}

	if err := ValidateMode(d.Mode); err != nil {
		return err
	}

	return nil
}

// ValidateID checks that a device ID is present and well-formed.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidID)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidID, maxIDLength)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// ValidateName checks that a device name is present and within limits.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateStatus checks a status value against the known set.
func ValidateStatus(s Status) error {
	if _, ok := validStatuses[s]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return nil
}

// ValidateMode checks a mode value against the known set.
func ValidateMode(m Mode) error {
	if _, ok := validModes[m]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidMode, m)
	}
	return nil
}
