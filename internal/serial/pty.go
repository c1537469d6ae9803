//go:build !windows

// Package serial exposes readings on a pseudo-terminal so that tools expecting
// a serial line (screen, minicom, data loggers) can consume them.
//
//	port, err := serial.OpenPort(serial.PortOptions{Link: "/tmp/pulse"})
//	if err != nil {
//	    return err
//	}
//	defer port.Close()
//	// consumer: screen /tmp/pulse
//	n, err := port.Write([]byte("{...}\n"))
//
// Writes never block. Bytes are staged in a ring buffer and drained to the
// PTY master by a background goroutine; when nobody is reading the slave and
// the buffer fills up, whole writes are dropped and counted, so a line is
// either delivered intact or not at all.
package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/pulsebridge/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	DefaultBufferSize    = 16 * 1024
	DefaultPollTimeoutMs = 50
)

// PortOptions configures a Port.
type PortOptions struct {
	BufferSize    int    // staging ring size in bytes
	Link          string // optional symlink pointing at the slave device
	PollTimeoutMs int
	Logger        *logrus.Logger
}

// Stats are runtime counters for a Port.
type Stats struct {
	QueueLen      int
	QueueCap      int
	DroppedBytes  uint64
	DroppedWrites uint64 // whole writes refused because the buffer was full
	WrittenBytes  uint64
}

// Port is the master side of a PTY pair with a non-blocking writer.
type Port struct {
	logger        *logrus.Logger
	master        *os.File
	slave         *os.File
	ttyName       string
	link          string
	pollTimeoutMs int

	buf *ringbuffer.RingBuffer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	wmu sync.Mutex // serializes admission into buf

	closed        atomic.Bool
	dropped       atomic.Uint64
	droppedWrites atomic.Uint64
	written       atomic.Uint64
}

// OpenPort creates the PTY pair, optionally links it, and starts the writer.
func OpenPort(opts PortOptions) (*Port, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.PollTimeoutMs <= 0 {
		opts.PollTimeoutMs = DefaultPollTimeoutMs
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	master, slave, err := createPTY()
	if err != nil {
		return nil, err
	}

	p := &Port{
		logger:        logger,
		master:        master,
		slave:         slave,
		ttyName:       slave.Name(),
		pollTimeoutMs: opts.PollTimeoutMs,
		buf:           ringbuffer.New(opts.BufferSize),
	}

	if opts.Link != "" {
		_ = os.Remove(opts.Link)
		if err := os.Symlink(p.ttyName, opts.Link); err != nil {
			_ = master.Close()
			_ = slave.Close()
			return nil, fmt.Errorf("link %s -> %s: %w", opts.Link, p.ttyName, err)
		}
		p.link = opts.Link
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.wg.Add(1)
	groutine.Go(p.ctx, "serial-write-loop", func(ctx context.Context) {
		defer p.wg.Done()
		p.writeLoop(ctx)
	})

	logger.WithFields(logrus.Fields{"tty": p.ttyName, "link": p.link}).Info("Serial port ready")
	return p, nil
}

// TTYName returns the slave device path, e.g. /dev/pts/5.
func (p *Port) TTYName() string { return p.ttyName }

// Path returns the symlink if one was requested, otherwise the slave path.
func (p *Port) Path() string {
	if p.link != "" {
		return p.link
	}
	return p.ttyName
}

// Write stages data for the slave. It never blocks. A write is staged whole
// or not at all: when the buffer lacks room for all of data, nothing is
// staged, the write is counted as dropped and ErrBufferFull is returned.
func (p *Port) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	// the drain side only ever frees space, so Free is a safe lower bound
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if p.buf.Free() < len(data) {
		p.dropped.Add(uint64(len(data)))
		p.droppedWrites.Add(1)
		return 0, ErrBufferFull
	}
	return p.buf.Write(data)
}

func (p *Port) writeLoop(ctx context.Context) {
	fd := int(p.master.Fd())
	pollFd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	chunk := make([]byte, 4096)

	// lineOpen: the last byte handed to the master was not '\n', so the rest of
	// that line must follow before anything may be dropped.
	// skipping: a line was dropped before any of it reached the master; its
	// remaining bytes are discarded up to and including the next '\n'.
	var lineOpen, skipping bool

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if p.buf.IsEmpty() {
			// nothing staged; sleep briefly so Close is noticed promptly
			time.Sleep(time.Duration(p.pollTimeoutMs) * time.Millisecond)
			continue
		}

		n, err := p.buf.TryRead(chunk)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			p.logger.WithError(err).Warn("Serial buffer read failed")
			continue
		}
		data := chunk[:n]

		if skipping {
			i := bytes.IndexByte(data, '\n')
			if i < 0 {
				p.dropped.Add(uint64(len(data)))
				continue
			}
			p.dropped.Add(uint64(i + 1))
			data = data[i+1:]
			skipping = false
		}

		for len(data) > 0 {
			w, err := p.master.Write(data)
			if w > 0 {
				lineOpen = data[w-1] != '\n'
				p.written.Add(uint64(w))
				data = data[w:]
			}
			if err == nil {
				continue
			}
			switch {
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				if ready, _ := unix.Poll(pollFd, p.pollTimeoutMs); ready > 0 {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				if lineOpen {
					// a partial line is on the wire; finish it once the slave drains
					continue
				}
				// slave not drained; drop whole lines only
				p.dropped.Add(uint64(len(data)))
				skipping = data[len(data)-1] != '\n'
				data = nil
			case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed), errors.Is(err, io.EOF):
				return
			default:
				p.logger.WithError(err).Warn("Serial write loop exiting")
				return
			}
		}
	}
}

// Stats returns a snapshot of the counters.
func (p *Port) Stats() Stats {
	return Stats{
		QueueLen:      p.buf.Length(),
		QueueCap:      p.buf.Capacity(),
		DroppedBytes:  p.dropped.Load(),
		DroppedWrites: p.droppedWrites.Load(),
		WrittenBytes:  p.written.Load(),
	}
}

// Close stops the writer, closes both ends and removes the symlink.
func (p *Port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	var errs []error
	if err := p.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close master: %w", err))
	}
	if err := p.slave.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close slave: %w", err))
	}
	p.wg.Wait()

	if p.link != "" {
		if err := os.Remove(p.link); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// createPTY opens a PTY pair with the slave in raw mode and the master
// non-blocking.
func createPTY() (master, slave *os.File, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	fail := func(what string, cause error) (*os.File, *os.File, error) {
		_ = master.Close()
		_ = slave.Close()
		return nil, nil, fmt.Errorf("failed to set %s %s: %w", slave.Name(), what, cause)
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return fail("raw mode", err)
	}
	if err := unix.SetNonblock(int(master.Fd()), true); err != nil {
		return fail("non-blocking mode", err)
	}
	return master, slave, nil
}
