//go:build linux

package sensor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// i2cSlave is the I2C_SLAVE ioctl request from linux/i2c-dev.h.
const i2cSlave = 0x0703

// I2CBus is a Linux i2c-dev character device bound to one slave address.
type I2CBus struct {
	fd int
}

// OpenI2C opens device and selects addr as the target slave.
func OpenI2C(device string, addr uint16) (Bus, error) {
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	if err := unix.IoctlSetInt(fd, i2cSlave, int(addr)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("select slave 0x%02x: %w", addr, err)
	}
	return &I2CBus{fd: fd}, nil
}

func (b *I2CBus) WriteReg(reg, val byte) error {
	_, err := unix.Write(b.fd, []byte{reg, val})
	return err
}

func (b *I2CBus) ReadReg(reg byte) (byte, error) {
	buf := []byte{0}
	if err := b.ReadBlock(reg, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (b *I2CBus) ReadBlock(reg byte, buf []byte) error {
	if _, err := unix.Write(b.fd, []byte{reg}); err != nil {
		return err
	}
	n, err := unix.Read(b.fd, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("short read: %d of %d bytes", n, len(buf))
	}
	return nil
}

func (b *I2CBus) Close() error {
	return unix.Close(b.fd)
}
