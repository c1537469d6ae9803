package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/srg/pulsebridge/internal/groutine"
)

// DefaultMailboxSize is the number of undelivered records kept per client.
const DefaultMailboxSize = 8

// ErrClientClosed is returned when sending to a client that has left.
var ErrClientClosed = errors.New("stream client closed")

// Conn is a single consumer connection. Send and Ping are only ever called
// from the client's own writer goroutine.
type Conn interface {
	Send(data []byte) error
	Ping() error
	Close() error
}

// Client is one registered consumer.
type Client struct {
	id   string
	conn Conn
	box  mpmc.RichOverlappedRingBuffer[[]byte]
	wake chan struct{}
	ping chan struct{}

	done      chan struct{}
	closeOnce sync.Once

	sent        atomic.Uint64
	overwritten atomic.Uint64
}

func newClient(conn Conn, mailbox uint32) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		box:  mpmc.NewOverlappedRingBuffer[[]byte](mailbox),
		wake: make(chan struct{}, 1),
		ping: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// ID is the unique client identifier.
func (c *Client) ID() string { return c.id }

// Sent returns the number of records delivered to the connection.
func (c *Client) Sent() uint64 { return c.sent.Load() }

// Done is closed once the client has been removed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) enqueue(msg []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	overwrites, err := c.box.EnqueueM(msg)
	if err != nil {
		return err
	}
	c.overwritten.Add(uint64(overwrites))
	signal(c.wake)
	return nil
}

func (c *Client) requestPing() {
	signal(c.ping)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// run delivers queued records until the client is closed or the connection
// fails. On failure it calls leave with the error.
func (c *Client) run(ctx context.Context, leave func(*Client, error)) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-c.ping:
			if err := c.conn.Ping(); err != nil {
				leave(c, err)
				return
			}
		case <-c.wake:
			for !c.box.IsEmpty() {
				msg, err := c.box.Dequeue()
				if err != nil {
					break
				}
				if err := c.conn.Send(msg); err != nil {
					leave(c, err)
					return
				}
				c.sent.Add(1)
			}
		}
	}
}

func (c *Client) start(ctx context.Context, leave func(*Client, error)) {
	groutine.Go(ctx, "stream-client-"+c.id[:8], func(ctx context.Context) {
		c.run(ctx, leave)
	})
}

// close stops the writer and closes the connection. Safe to call repeatedly.
func (c *Client) close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
