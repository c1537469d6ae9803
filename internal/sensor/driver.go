// Package sensor acquires heart-rate and blood-oxygen readings from a
// photoplethysmography device and exposes them as non-blocking samples.
package sensor

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnsupported is returned when the hardware bus is not available on this platform.
	ErrUnsupported = errors.New("sensor: not supported on this platform")
	// ErrStopped is returned by Start when the driver has already been stopped.
	ErrStopped = errors.New("sensor: driver stopped")
)

// Reading is the driver's current view of the subject. Zero values mean
// "no valid reading yet".
type Reading struct {
	BPM  float64
	SpO2 float64
	IR   int
	Red  int
	At   time.Time
}

// Driver is a hardware-paced acquisition loop. Start blocks until ctx is
// cancelled, Stop is called, or acquisition fails. Current never blocks and
// may be called concurrently with Start.
type Driver interface {
	Start(ctx context.Context) error
	Stop() error
	Current() Reading
}
