//go:build !linux && !darwin

package peripheral

import "errors"

// DeviceFactory opens the host BLE adapter (can be overridden in tests).
var DeviceFactory = func() (Device, error) {
	return nil, errors.New("BLE peripheral is not supported on this platform")
}
