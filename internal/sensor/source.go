package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/pulsebridge/internal/groutine"
	"github.com/srg/pulsebridge/internal/sample"
)

const (
	DefaultPollInterval = 10 * time.Millisecond
	DefaultStopTimeout  = 2 * time.Second
)

// SourceOptions configures a Source.
type SourceOptions struct {
	PollInterval time.Duration
	StopTimeout  time.Duration
	Logger       *logrus.Logger
}

// Source adapts a blocking Driver into a stream of samples published to a
// sample.Bridge.
type Source struct {
	driver Driver
	opts   SourceOptions
	logger *logrus.Logger

	mu      sync.Mutex
	running bool
}

// NewSource creates a Source for driver.
func NewSource(driver Driver, opts SourceOptions) *Source {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Source{driver: driver, opts: opts, logger: logger}
}

// Poll returns the driver's current reading as a Sample. It never blocks.
// Before the first valid reading BPM and SpO2 are 0.
func (s *Source) Poll() sample.Sample {
	r := s.driver.Current()
	ts := r.At
	if ts.IsZero() {
		ts = time.Now()
	}
	return sample.Sample{
		BPM:       r.BPM,
		SpO2:      r.SpO2,
		RawIR:     r.IR,
		RawRed:    r.Red,
		Timestamp: ts,
	}
}

// Run starts acquisition on its own goroutine and publishes a sample to b
// every PollInterval until ctx is cancelled. On cancel the driver is stopped
// and Run waits up to StopTimeout for acquisition to halt.
//
// An acquisition failure before cancellation is returned as an error.
func (s *Source) Run(ctx context.Context, b *sample.Bridge) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("sensor: source already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	acqCtx, cancelAcq := context.WithCancel(ctx)
	defer cancelAcq()

	var group groutine.Group
	acqErr := make(chan error, 1)
	group.Go(acqCtx, "sensor-acquire", func(ctx context.Context) {
		acqErr <- s.driver.Start(ctx)
	})

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	s.logger.WithField("poll_interval", s.opts.PollInterval).Info("Sensor acquisition started")

	for {
		select {
		case <-ctx.Done():
			s.halt(cancelAcq, &group)
			return nil

		case err := <-acqErr:
			if ctx.Err() != nil {
				s.halt(cancelAcq, &group)
				return nil
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("sensor acquisition: %w", err)
			}
			// Driver ended on its own; keep serving its last reading.
			s.logger.Warn("Sensor acquisition ended; serving last reading")
			acqErr = nil

		case <-ticker.C:
			b.Put(s.Poll())
		}
	}
}

func (s *Source) halt(cancel context.CancelFunc, group *groutine.Group) {
	if err := s.driver.Stop(); err != nil {
		s.logger.WithError(err).Warn("Sensor stop failed")
	}
	cancel()

	if !group.WaitTimeout(s.opts.StopTimeout) {
		s.logger.WithField("timeout", s.opts.StopTimeout).Warn("Sensor acquisition did not halt in time")
		return
	}
	s.logger.Info("Sensor acquisition stopped")
}
