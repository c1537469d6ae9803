package stream

import (
	"github.com/cornelk/hashmap"
)

// ClientSet is a concurrent set of clients keyed by ID.
type ClientSet struct {
	m *hashmap.Map[string, *Client]
}

func NewClientSet() *ClientSet {
	return &ClientSet{m: hashmap.New[string, *Client]()}
}

// Add inserts c; it reports false if the ID is already present.
func (s *ClientSet) Add(c *Client) bool {
	return s.m.Insert(c.ID(), c)
}

// Remove deletes the client with id and reports whether it was present.
func (s *ClientSet) Remove(id string) bool {
	return s.m.Del(id)
}

func (s *ClientSet) Get(id string) (*Client, bool) {
	return s.m.Get(id)
}

func (s *ClientSet) Len() int {
	return s.m.Len()
}

// Snapshot returns the current members. Later changes do not affect it.
func (s *ClientSet) Snapshot() []*Client {
	out := make([]*Client, 0, s.m.Len())
	s.m.Range(func(_ string, c *Client) bool {
		out = append(out, c)
		return true
	})
	return out
}
