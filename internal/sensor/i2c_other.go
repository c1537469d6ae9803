//go:build !linux

package sensor

// OpenI2C is only implemented on Linux.
func OpenI2C(device string, addr uint16) (Bus, error) {
	return nil, ErrUnsupported
}
