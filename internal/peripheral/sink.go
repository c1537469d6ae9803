package peripheral

import (
	"context"
	"errors"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/srg/pulsebridge/internal/sink"
)

// Sink publishes each tick's values into the registry channels. It keeps no
// queue: a channel always holds the last value written.
type Sink struct {
	registry *Registry
	logger   *logrus.Logger
}

// NewSink creates a Sink writing into registry.
func NewSink(registry *Registry, logger *logrus.Logger) *Sink {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sink{registry: registry, logger: logger}
}

func (s *Sink) Name() string { return "ble" }

// FormatValue renders v as the two-decimal ASCII text carried by characteristics.
func FormatValue(v float64) []byte {
	return []byte(strconv.FormatFloat(v, 'f', 2, 64))
}

// PublishValue writes v into the named channel and notifies its subscribers.
func (s *Sink) PublishValue(channel string, v float64) error {
	return s.registry.Update(channel, FormatValue(v))
}

func (s *Sink) Publish(_ context.Context, t sink.Tick) error {
	values := []struct {
		channel string
		v       float64
	}{
		{ChannelBPM, t.Sample.BPM},
		{ChannelSpO2, t.Sample.SpO2},
		{ChannelHRStd, t.Metrics.Std},
		{ChannelRMSSD, t.Metrics.RMSSD},
	}
	// channels missing from the registry are not exposed; the rest still update
	var errs []error
	for _, v := range values {
		err := s.PublishValue(v.channel, v.v)
		if err != nil && !errors.Is(err, ErrUnknownChannel) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close leaves the last values in place for late readers.
func (s *Sink) Close(context.Context) error {
	s.logger.Debug("Peripheral sink closed; characteristic values retained")
	return nil
}
