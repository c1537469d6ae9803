package serial

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/srg/pulsebridge/internal/sink"
	"github.com/srg/pulsebridge/internal/stream"
)

// ErrBufferFull is returned by a Port write that was refused whole because
// the staging buffer had no room for it.
var ErrBufferFull = errors.New("serial: buffer full, write dropped")

// Sink writes one JSON record per line to a line-oriented writer, normally a Port.
type Sink struct {
	w      io.WriteCloser
	logger *logrus.Logger
}

func NewSink(w io.WriteCloser, logger *logrus.Logger) *Sink {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sink{w: w, logger: logger}
}

func (s *Sink) Name() string { return "tty" }

func (s *Sink) Publish(_ context.Context, t sink.Tick) error {
	line, err := stream.NewRecord(t).Marshal()
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	line = append(line, '\n')
	if _, err := s.w.Write(line); err != nil {
		if errors.Is(err, ErrBufferFull) {
			// nobody is draining the terminal; the line is dropped whole
			s.logger.WithField("seq", t.Seq).Debug("Serial consumer is behind; record dropped")
			return nil
		}
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (s *Sink) Close(context.Context) error {
	return s.w.Close()
}
