package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
)

// MAX30102 register map.
const (
	regIntrStatus1 = 0x00
	regIntrStatus2 = 0x01
	regIntrEnable1 = 0x02
	regIntrEnable2 = 0x03
	regFIFOWrPtr   = 0x04
	regOvfCounter  = 0x05
	regFIFORdPtr   = 0x06
	regFIFOData    = 0x07
	regFIFOConfig  = 0x08
	regModeConfig  = 0x09
	regSpO2Config  = 0x0A
	regLED1PA      = 0x0C
	regLED2PA      = 0x0D
	regPilotPA     = 0x10
)

const (
	DefaultI2CDevice  = "/dev/i2c-1"
	DefaultI2CAddress = 0x57

	fifoDepth        = 32
	bytesPerSample   = 6
	sampleMask       = 0x3FFFF
	averagedEstimate = 4
	fingerThreshold  = 50000

	modeReset    = 0x40
	modeShutdown = 0x80
)

// Bus is register-level access to an I2C peripheral.
type Bus interface {
	WriteReg(reg, val byte) error
	ReadReg(reg byte) (byte, error)
	ReadBlock(reg byte, buf []byte) error
	Close() error
}

// MAX30102Options configures the MAX30102 driver.
type MAX30102Options struct {
	Device       string // I2C character device, e.g. /dev/i2c-1
	Address      uint16
	LoopInterval time.Duration
	LEDCurrent   byte

	// Open overrides how the bus is obtained; defaults to OpenI2C.
	Open   func(device string, addr uint16) (Bus, error)
	Logger *logrus.Logger
}

// MAX30102 drives a Maxim MAX30102 pulse oximeter over I2C in SpO2 mode
// (100 sps, 4-sample averaging) and keeps a running heart-rate/SpO2 estimate.
type MAX30102 struct {
	opts   MAX30102Options
	logger *logrus.Logger

	mu      sync.RWMutex
	current Reading

	stopOnce sync.Once
	stop     chan struct{}

	fifo *ringbuffer.RingBuffer
	ir   []int
	red  []int
	bpms []float64
}

// NewMAX30102 creates a driver. The device is not touched until Start.
func NewMAX30102(opts MAX30102Options) *MAX30102 {
	if opts.Device == "" {
		opts.Device = DefaultI2CDevice
	}
	if opts.Address == 0 {
		opts.Address = DefaultI2CAddress
	}
	if opts.LoopInterval <= 0 {
		opts.LoopInterval = DefaultPollInterval
	}
	if opts.LEDCurrent == 0 {
		opts.LEDCurrent = 0x24
	}
	if opts.Open == nil {
		opts.Open = OpenI2C
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &MAX30102{
		opts:   opts,
		logger: logger,
		stop:   make(chan struct{}),
		fifo:   ringbuffer.New(fifoDepth * bytesPerSample),
	}
}

// Current returns the latest estimate.
func (m *MAX30102) Current() Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Stop makes Start return. Safe to call more than once.
func (m *MAX30102) Stop() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

// Start opens the bus, configures the chip and runs the acquisition loop until
// ctx is cancelled or Stop is called. The chip is put into shutdown on return.
func (m *MAX30102) Start(ctx context.Context) error {
	select {
	case <-m.stop:
		return ErrStopped
	default:
	}

	bus, err := m.opts.Open(m.opts.Device, m.opts.Address)
	if err != nil {
		return fmt.Errorf("open %s@0x%02x: %w", m.opts.Device, m.opts.Address, err)
	}
	defer func() {
		if err := bus.WriteReg(regModeConfig, modeShutdown); err != nil {
			m.logger.WithError(err).Warn("MAX30102 shutdown failed")
		}
		_ = bus.Close()
	}()

	if err := m.setup(bus); err != nil {
		return fmt.Errorf("configure MAX30102: %w", err)
	}
	m.logger.WithFields(logrus.Fields{
		"device":  m.opts.Device,
		"address": fmt.Sprintf("0x%02x", m.opts.Address),
	}).Info("MAX30102 configured")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.stop:
			return nil
		case <-timer.C:
		}

		if err := m.step(bus); err != nil {
			return err
		}
		timer.Reset(m.opts.LoopInterval)
	}
}

func (m *MAX30102) setup(bus Bus) error {
	if err := bus.WriteReg(regModeConfig, modeReset); err != nil {
		return err
	}
	// reading the interrupt status clears it
	if _, err := bus.ReadReg(regIntrStatus1); err != nil {
		return err
	}
	if _, err := bus.ReadReg(regIntrStatus2); err != nil {
		return err
	}

	seq := []struct{ reg, val byte }{
		{regIntrEnable1, 0xC0}, // A_FULL_EN | PPG_RDY_EN
		{regIntrEnable2, 0x00},
		{regFIFOWrPtr, 0x00},
		{regOvfCounter, 0x00},
		{regFIFORdPtr, 0x00},
		{regFIFOConfig, 0x4F}, // avg 4, rollover, almost-full at 17
		{regModeConfig, 0x03}, // SpO2 mode
		{regSpO2Config, 0x27}, // 4096 nA, 100 sps, 411 us
		{regLED1PA, m.opts.LEDCurrent},
		{regLED2PA, m.opts.LEDCurrent},
		{regPilotPA, 0x7F},
	}
	for _, w := range seq {
		if err := bus.WriteReg(w.reg, w.val); err != nil {
			return fmt.Errorf("write reg 0x%02x: %w", w.reg, err)
		}
	}
	return nil
}

// step drains the FIFO and refreshes the estimate once a full window is held.
func (m *MAX30102) step(bus Bus) error {
	n, err := samplesAvailable(bus)
	if err != nil {
		return fmt.Errorf("read FIFO pointers: %w", err)
	}
	if n == 0 {
		return nil
	}

	buf := make([]byte, bytesPerSample)
	for i := 0; i < n; i++ {
		if err := bus.ReadBlock(regFIFOData, buf); err != nil {
			return fmt.Errorf("read FIFO: %w", err)
		}
		if _, err := m.fifo.Write(buf); err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
			return fmt.Errorf("stage FIFO: %w", err)
		}
	}

	var lastIR, lastRed int
	for m.fifo.Length() >= bytesPerSample {
		if _, err := m.fifo.Read(buf); err != nil {
			break
		}
		red, ir := decodeSample(buf)
		m.ir = append(m.ir, ir)
		m.red = append(m.red, red)
		lastIR, lastRed = ir, red
	}
	if over := len(m.ir) - AnalysisWindow; over > 0 {
		m.ir = append(m.ir[:0], m.ir[over:]...)
		m.red = append(m.red[:0], m.red[over:]...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.IR, m.current.Red = lastIR, lastRed
	m.current.At = time.Now()

	if len(m.ir) < AnalysisWindow {
		return nil
	}

	est := EstimateVitals(m.ir, m.red)
	if est.BPMValid {
		m.bpms = append(m.bpms, est.BPM)
		if len(m.bpms) > averagedEstimate {
			m.bpms = m.bpms[len(m.bpms)-averagedEstimate:]
		}
		sum := 0.0
		for _, b := range m.bpms {
			sum += b
		}
		m.current.BPM = sum / float64(len(m.bpms))
	}
	if est.SpO2Valid {
		m.current.SpO2 = est.SpO2
	}
	if mean(m.ir) < fingerThreshold && mean(m.red) < fingerThreshold {
		if m.current.BPM != 0 {
			m.logger.Debug("Finger not detected")
		}
		m.current.BPM = 0
		m.current.SpO2 = 0
	}
	return nil
}

func samplesAvailable(bus Bus) (int, error) {
	wr, err := bus.ReadReg(regFIFOWrPtr)
	if err != nil {
		return 0, err
	}
	rd, err := bus.ReadReg(regFIFORdPtr)
	if err != nil {
		return 0, err
	}
	n := int(wr) - int(rd)
	if n < 0 {
		n += fifoDepth
	}
	return n, nil
}

// decodeSample splits one FIFO entry into its 18-bit red and IR values.
func decodeSample(b []byte) (red, ir int) {
	red = (int(b[0])<<16 | int(b[1])<<8 | int(b[2])) & sampleMask
	ir = (int(b[3])<<16 | int(b[4])<<8 | int(b[5])) & sampleMask
	return red, ir
}
