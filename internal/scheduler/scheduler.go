// Package scheduler drives the periodic publish cycle: read the latest sample,
// update the rolling statistics, hand the result to every sink.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/pulsebridge/internal/metrics"
	"github.com/srg/pulsebridge/internal/sample"
	"github.com/srg/pulsebridge/internal/sink"
)

// DefaultInterval is the default publish period.
const DefaultInterval = time.Second

// DefaultCloseTimeout bounds how long Run waits for sinks to close on shutdown.
const DefaultCloseTimeout = 2 * time.Second

// Options configures a Scheduler.
type Options struct {
	Interval     time.Duration
	CloseTimeout time.Duration
	Bridge       *sample.Bridge
	Engine       *metrics.Engine
	Sinks        []sink.Sink
	Logger       *logrus.Logger

	// Now is used to stamp ticks; defaults to time.Now.
	Now func() time.Time
}

// Scheduler owns the metrics engine and every sink. Ticks are processed
// strictly one after another on the goroutine that calls Run.
type Scheduler struct {
	opts   Options
	logger *logrus.Logger

	seq    uint64
	errors atomic.Int64
}

// New validates opts and creates a Scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Bridge == nil {
		return nil, errors.New("scheduler: bridge is required")
	}
	if opts.Engine == nil {
		opts.Engine = metrics.NewEngine(metrics.DefaultWindowSize)
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{opts: opts, logger: logger}, nil
}

// Run ticks every Interval until ctx is cancelled, then closes every sink and
// returns nil. Sink failures never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"interval": s.opts.Interval,
		"sinks":    len(s.opts.Sinks),
	}).Info("Publish scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.closeSinks()
			s.logger.WithField("ticks", s.seq).Info("Publish scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one publish cycle synchronously and returns the tick handed
// to the sinks.
func (s *Scheduler) Tick(ctx context.Context) sink.Tick {
	latest := s.opts.Bridge.Latest()
	s.opts.Engine.Observe(latest.BPM)

	s.seq++
	t := sink.Tick{
		Seq:     s.seq,
		At:      s.opts.Now(),
		Sample:  latest,
		Metrics: s.opts.Engine.Snapshot(),
	}

	for _, sk := range s.opts.Sinks {
		if err := sk.Publish(ctx, t); err != nil {
			s.errors.Add(1)
			s.logger.WithError(err).WithFields(logrus.Fields{
				"sink": sk.Name(),
				"seq":  t.Seq,
			}).Warn("Publish failed; retrying next tick")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"seq":   t.Seq,
		"bpm":   t.Sample.BPM,
		"spo2":  t.Sample.SpO2,
		"hrstd": t.Metrics.Std,
		"rmssd": t.Metrics.RMSSD,
	}).Debug("Tick published")
	return t
}

// Errors returns the number of sink publish failures observed by the scheduler.
func (s *Scheduler) Errors() int64 {
	return s.errors.Load()
}

func (s *Scheduler) closeSinks() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CloseTimeout)
	defer cancel()

	for _, sk := range s.opts.Sinks {
		if err := sk.Close(ctx); err != nil {
			s.logger.WithError(fmt.Errorf("close %s: %w", sk.Name(), err)).Warn("Sink close failed")
			continue
		}
		s.logger.WithField("sink", sk.Name()).Debug("Sink closed")
	}
}
