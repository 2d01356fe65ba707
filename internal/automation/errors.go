package automation

import "errors"

// ErrNilDevice is returned when Evaluate is called without a device.
var ErrNilDevice = errors.New("automation: nil device")
