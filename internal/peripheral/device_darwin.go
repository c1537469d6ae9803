//go:build darwin

package peripheral

import "github.com/go-ble/ble/darwin"

// DeviceFactory opens the host BLE adapter (can be overridden in tests).
var DeviceFactory = func() (Device, error) {
	dev, err := darwin.NewDevice()
	if err != nil {
		return nil, err
	}
	return dev, nil
}
