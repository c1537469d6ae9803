package mqttsink

import (
	"context"
	"fmt"

	"github.com/srg/pulsebridge/internal/sink"
	"github.com/srg/pulsebridge/internal/stream"
)

// DefaultTopic is where records are published when none is configured.
const DefaultTopic = "pulsebridge/reading"

// Sink publishes the wire record of every tick to one topic.
type Sink struct {
	pub    Publisher
	topic  string
	qos    byte
	retain bool
}

// NewSink creates a Sink. qos values above 2 are clamped to 2.
func NewSink(pub Publisher, topic string, qos byte, retain bool) *Sink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Sink{pub: pub, topic: topic, qos: min(qos, 2), retain: retain}
}

func (s *Sink) Name() string { return "mqtt" }

func (s *Sink) Publish(_ context.Context, t sink.Tick) error {
	payload, err := stream.NewRecord(t).Marshal()
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return s.pub.Publish(s.topic, s.qos, s.retain, payload)
}

func (s *Sink) Close(context.Context) error {
	s.pub.Disconnect()
	return nil
}
