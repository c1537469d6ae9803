package peripheral

import (
	"errors"
	"fmt"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Standard channel names.
const (
	ChannelBPM   = "BPM"
	ChannelSpO2  = "SPO2"
	ChannelHRStd = "HRSTD"
	ChannelRMSSD = "RMSSD"
)

// DefaultServiceUUID is the primary service advertised by the peripheral.
const DefaultServiceUUID = "7436b48e-96ed-4b8f-916d-1f1d25964635"

var (
	ErrUnknownChannel   = errors.New("unknown channel")
	ErrDuplicateChannel = errors.New("channel already registered")
)

// ChannelDef names a channel and its characteristic UUID.
type ChannelDef struct {
	Name string `yaml:"name"`
	UUID string `yaml:"uuid"`
}

// DefaultChannels is the standard characteristic layout, in GATT order.
func DefaultChannels() []ChannelDef {
	return []ChannelDef{
		{Name: ChannelBPM, UUID: "74578b1f-1846-4759-ab5a-317cfa5ba6c9"},
		{Name: ChannelSpO2, UUID: "74578b20-1846-4759-ab5a-317cfa5ba6c9"},
		{Name: ChannelHRStd, UUID: "74578b21-1846-4759-ab5a-317cfa5ba6c9"},
		{Name: ChannelRMSSD, UUID: "74578b22-1846-4759-ab5a-317cfa5ba6c9"},
	}
}

// Registry maps channel names to Channels, preserving registration order.
// It is passed explicitly to the sink and the GATT server that share it.
type Registry struct {
	mu       sync.RWMutex
	channels *orderedmap.OrderedMap[string, *Channel]
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{channels: orderedmap.New[string, *Channel]()}
}

// NewRegistryWith creates a Registry populated with defs.
func NewRegistryWith(defs []ChannelDef) (*Registry, error) {
	r := NewRegistry()
	for _, d := range defs {
		if _, err := r.Register(d.Name, d.UUID); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a channel. Names must be unique.
func (r *Registry) Register(name, uuid string) (*Channel, error) {
	ch, err := newChannel(name, uuid)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels.Get(name); ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateChannel, name)
	}
	r.channels.Set(name, ch)
	return ch, nil
}

// Channel looks up a channel by name.
func (r *Registry) Channel(name string) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	return ch, nil
}

// Channels returns all channels in registration order.
func (r *Registry) Channels() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Channel, 0, r.channels.Len())
	for pair := r.channels.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Update writes b into the named channel.
func (r *Registry) Update(name string, b []byte) error {
	ch, err := r.Channel(name)
	if err != nil {
		return err
	}
	ch.Set(b)
	return nil
}
