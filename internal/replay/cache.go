package replay

import (
	"encoding/json"
	"sync"
)

// DefaultMaxCachedItems is the per-topic buffer capacity used when the
// configuration does not override it.
const DefaultMaxCachedItems = 100

// Cache holds a bounded FIFO buffer of the most recent items per topic.
// Items are opaque JSON values appended in arrival order; once a topic's
// buffer is full the oldest item is evicted. Reconnecting clients read a
// snapshot of a topic's buffer to catch up without re-querying the source.
//
// Each topic has its own lock, so traffic on distinct topics does not
// contend. The outer lock only guards the topic map itself.
type Cache struct {
	capacity int

	mu     sync.RWMutex
	topics map[string]*buffer
}

// buffer is a fixed-capacity ring. head indexes the oldest item.
type buffer struct {
	mu    sync.Mutex
	items []json.RawMessage
	head  int
	count int
}

// New creates a Cache whose per-topic buffers hold at most capacity items.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultMaxCachedItems
	}
	return &Cache{
		capacity: capacity,
		topics:   make(map[string]*buffer),
	}
}

// Capacity returns the per-topic item limit.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Append adds item to the tail of topic's buffer, evicting the oldest item
// if the buffer is already at capacity. O(1).
func (c *Cache) Append(topic string, item json.RawMessage) {
	b := c.getOrCreate(topic)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count < len(b.items) {
		b.items[(b.head+b.count)%len(b.items)] = item
		b.count++
		return
	}
	b.items[b.head] = item
	b.head = (b.head + 1) % len(b.items)
}

// Snapshot returns a point-in-time copy of topic's buffer in arrival order.
// The copy is taken under a single lock acquisition, so concurrent Appends
// never produce a partially-mutated view. Item bytes are immutable once
// appended; only the sequence is copied.
func (c *Cache) Snapshot(topic string) []json.RawMessage {
	b := c.lookup(topic)
	if b == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]json.RawMessage, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// Clear drops all cached items for topic. Used when a producer signals a
// re-seed from scratch. The buffer stays registered so concurrent Appends
// on the same topic are never lost to a map swap.
func (c *Cache) Clear(topic string) {
	b := c.lookup(topic)
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.items {
		b.items[i] = nil
	}
	b.head = 0
	b.count = 0
}

// Len returns the number of items currently cached for topic.
func (c *Cache) Len(topic string) int {
	b := c.lookup(topic)
	if b == nil {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Topics returns every topic that has received at least one Append.
func (c *Cache) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		out = append(out, topic)
	}
	return out
}

func (c *Cache) lookup(topic string) *buffer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic]
}

func (c *Cache) getOrCreate(topic string) *buffer {
	c.mu.RLock()
	b := c.topics[topic]
	c.mu.RUnlock()
	if b != nil {
		return b
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b = c.topics[topic]; b == nil {
		b = &buffer{items: make([]json.RawMessage, c.capacity)}
		c.topics[topic] = b
	}
	return b
}
