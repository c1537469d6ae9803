// Package peripheral exposes live readings as a BLE GATT peripheral: one
// primary service with a read+notify characteristic per value.
package peripheral

import (
	"fmt"
	"sync"

	"github.com/go-ble/ble"
)

// Channel is a named characteristic slot holding the last written value.
// Writes wake every subscriber; a subscriber that is slower than the write
// rate sees only the newest value.
type Channel struct {
	name string
	uuid ble.UUID

	mu     sync.Mutex
	value  []byte
	subs   map[uint64]chan struct{}
	nextID uint64
}

func newChannel(name, uuid string) (*Channel, error) {
	u, err := ble.Parse(uuid)
	if err != nil {
		return nil, fmt.Errorf("channel %s: invalid UUID %q: %w", name, uuid, err)
	}
	return &Channel{name: name, uuid: u, subs: make(map[uint64]chan struct{})}, nil
}

func (c *Channel) Name() string   { return c.name }
func (c *Channel) UUID() ble.UUID { return c.uuid }

// Set replaces the value and signals subscribers.
func (c *Channel) Set(b []byte) {
	v := append([]byte(nil), b...)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	for _, wake := range c.subs {
		select {
		case wake <- struct{}{}:
		default:
			// already pending; the subscriber will read the latest value
		}
	}
}

// Value returns a copy of the current value; nil if never written.
func (c *Channel) Value() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == nil {
		return nil
	}
	return append([]byte(nil), c.value...)
}

// Subscribe registers for change signals. The returned channel has capacity
// one, so signals coalesce.
func (c *Channel) Subscribe() (uint64, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	wake := make(chan struct{}, 1)
	c.subs[c.nextID] = wake
	return c.nextID, wake
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (c *Channel) Unsubscribe(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
}

// Subscribers returns the number of active subscriptions.
func (c *Channel) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
