package main

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/srg/pulsebridge/bridge"
	"github.com/srg/pulsebridge/internal/sensor"
)

// ErrServerClosed is returned by watch when the bridge ends the stream.
var ErrServerClosed = errors.New("bridge closed the stream")

// FormatUserError turns an error chain into a single line with a hint where
// the cause is a common setup problem.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	var initErr *bridge.InitError
	if errors.As(err, &initErr) {
		msg = fmt.Sprintf("failed to start %s: %v", initErr.Component, initErr.Err)
	}

	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		return msg + " (is another bridge already running? change the listen address with --listen or --web)"
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return msg + " (permission denied; the I2C bus and BLE adapter usually need root or the i2c/bluetooth groups)"
	case errors.Is(err, sensor.ErrUnsupported):
		return msg + " (use --sensor simulated on this platform)"
	case errors.Is(err, syscall.ENOENT) && initErr != nil && initErr.Component == "sensor":
		return msg + " (is I2C enabled? check sensor.device)"
	}
	return strings.TrimSpace(msg)
}
