package serial

import (
	"errors"

	"github.com/sirupsen/logrus"
)

type PortOptions struct {
	BufferSize    int
	Link          string
	PollTimeoutMs int
	Logger        *logrus.Logger
}

type Stats struct {
	QueueLen      int
	QueueCap      int
	DroppedBytes  uint64
	DroppedWrites uint64
	WrittenBytes  uint64
}

// Port is unavailable on Windows.
type Port struct{}

func OpenPort(PortOptions) (*Port, error) {
	return nil, errors.New("serial: PTY ports are not supported on windows")
}

func (p *Port) TTYName() string                { return "" }
func (p *Port) Path() string                   { return "" }
func (p *Port) Write(data []byte) (int, error) { return 0, errors.ErrUnsupported }
func (p *Port) Stats() Stats                   { return Stats{} }
func (p *Port) Close() error                   { return nil }
