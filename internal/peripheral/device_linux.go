//go:build linux

package peripheral

import "github.com/go-ble/ble/linux"

// DeviceFactory opens the host BLE adapter (can be overridden in tests).
var DeviceFactory = func() (Device, error) {
	dev, err := linux.NewDevice()
	if err != nil {
		return nil, err
	}
	return dev, nil
}
