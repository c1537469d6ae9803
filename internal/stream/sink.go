package stream

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/pulsebridge/internal/sink"
)

// Sink serializes each tick into a Record and broadcasts it through a Hub.
type Sink struct {
	hub    *Hub
	logger *logrus.Logger
}

func NewSink(hub *Hub, logger *logrus.Logger) *Sink {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sink{hub: hub, logger: logger}
}

func (s *Sink) Name() string { return "ws" }

func (s *Sink) Publish(_ context.Context, t sink.Tick) error {
	if s.hub.Len() == 0 {
		return nil
	}
	msg, err := NewRecord(t).Marshal()
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	n := s.hub.Broadcast(msg)
	s.logger.WithFields(logrus.Fields{"seq": t.Seq, "clients": n}).Trace("Record broadcast")
	return nil
}

// Close disconnects every client.
func (s *Sink) Close(context.Context) error {
	s.hub.CloseAll()
	return nil
}
