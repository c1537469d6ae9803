package stream

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Hub fans messages out to every connected client.
type Hub struct {
	clients *ClientSet
	mailbox uint32
	logger  *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex // serializes CloseAll against Join
	closed bool
}

// NewHub creates an empty Hub. mailbox is the per-client queue size; 0 uses
// DefaultMailboxSize.
func NewHub(mailbox uint32, logger *logrus.Logger) *Hub {
	if mailbox == 0 {
		mailbox = DefaultMailboxSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients: NewClientSet(),
		mailbox: mailbox,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Join registers conn and starts its writer. The client receives messages
// broadcast after it joined; nothing is back-filled.
func (h *Hub) Join(conn Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		_ = conn.Close()
		return nil, ErrClientClosed
	}

	c := newClient(conn, h.mailbox)
	h.clients.Add(c)
	c.start(h.ctx, h.drop)

	h.logger.WithFields(logrus.Fields{
		"client":  c.ID(),
		"clients": h.clients.Len(),
	}).Info("Stream client connected")
	return c, nil
}

// Leave removes the client with id and closes its connection.
func (h *Hub) Leave(id string) {
	c, ok := h.clients.Get(id)
	if !ok {
		return
	}
	h.remove(c)
	h.logger.WithFields(logrus.Fields{
		"client":  id,
		"clients": h.clients.Len(),
	}).Info("Stream client disconnected")
}

// drop is called by a client's writer when its connection fails.
func (h *Hub) drop(c *Client, err error) {
	h.remove(c)
	h.logger.WithError(err).WithFields(logrus.Fields{
		"client":  c.ID(),
		"clients": h.clients.Len(),
	}).Debug("Stream client removed after send failure")
}

func (h *Hub) remove(c *Client) {
	h.clients.Remove(c.ID())
	if err := c.close(); err != nil {
		h.logger.WithError(err).WithField("client", c.ID()).Debug("Stream client close failed")
	}
}

// Broadcast queues msg for every client and returns how many accepted it.
// It never waits on network I/O.
func (h *Hub) Broadcast(msg []byte) int {
	n := 0
	for _, c := range h.clients.Snapshot() {
		if err := c.enqueue(msg); err != nil {
			continue
		}
		n++
	}
	return n
}

// Ping asks every client's writer to send a keep-alive.
func (h *Hub) Ping() {
	for _, c := range h.clients.Snapshot() {
		c.requestPing()
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	return h.clients.Len()
}

// Clients returns a snapshot of the connected clients.
func (h *Hub) Clients() []*Client {
	return h.clients.Snapshot()
}

// CloseAll disconnects every client and refuses new ones.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	for _, c := range h.clients.Snapshot() {
		h.remove(c)
	}
}
