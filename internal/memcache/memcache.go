// Package memcache implements the process-lifetime memory tier.
//
// A loaded chunk is stored whole and exploded into per-item entries in the
// same operation, so item lookups never re-scan a chunk. Entries live until
// Clear or process teardown; an optional chunk capacity turns the tier into
// an LRU over resident chunks (evicting a chunk drops its items with it).
package memcache

import (
	"container/list"
	"encoding/json"
	"sync"
)

// Cache is the memory tier. Safe for concurrent use.
type Cache struct {
	mu        sync.RWMutex
	maxChunks int // 0 = unbounded
	chunks    map[int]*list.Element
	items     map[string]itemEntry
	evictList *list.List
}

type chunkEntry struct {
	id    int
	chunk map[string]json.RawMessage
}

type itemEntry struct {
	content json.RawMessage
	chunkID int
}

// New creates a Cache. maxChunks bounds the number of resident chunks;
// 0 or negative means unbounded.
func New(maxChunks int) *Cache {
	return &Cache{
		maxChunks: maxChunks,
		chunks:    make(map[int]*list.Element),
		items:     make(map[string]itemEntry),
		evictList: list.New(),
	}
}

// GetChunk returns a resident chunk.
func (c *Cache) GetChunk(chunkID int) (map[string]json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.chunks[chunkID]
	if !ok {
		return nil, false
	}
	c.evictList.MoveToFront(el)
	return el.Value.(*chunkEntry).chunk, true
}

// HasChunk reports whether a chunk is resident without touching LRU order.
func (c *Cache) HasChunk(chunkID int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.chunks[chunkID]
	return ok
}

// PutChunk stores a chunk and explodes it into per-item entries.
func (c *Cache) PutChunk(chunkID int, chunk map[string]json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.chunks[chunkID]; ok {
		c.removeLocked(el)
	}

	el := c.evictList.PushFront(&chunkEntry{id: chunkID, chunk: chunk})
	c.chunks[chunkID] = el
	for id, content := range chunk {
		c.items[id] = itemEntry{content: content, chunkID: chunkID}
	}

	if c.maxChunks > 0 {
		for len(c.chunks) > c.maxChunks {
			tail := c.evictList.Back()
			if tail == nil {
				break
			}
			c.removeLocked(tail)
		}
	}
}

// GetItem returns a single item's content. Because every resident chunk is
// exploded on load, this lookup is also the discovery path over
// memory-resident chunks.
func (c *Cache) GetItem(itemID string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ent, ok := c.items[itemID]
	if !ok {
		return nil, false
	}
	return ent.content, true
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.chunks = make(map[int]*list.Element)
	c.items = make(map[string]itemEntry)
	c.evictList.Init()
}

// Stats reports resident chunk and item counts.
func (c *Cache) Stats() (chunks, items int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.chunks), len(c.items)
}

// removeLocked drops a chunk and the item entries it owns.
func (c *Cache) removeLocked(el *list.Element) {
	ent := el.Value.(*chunkEntry)
	c.evictList.Remove(el)
	delete(c.chunks, ent.id)
	for id := range ent.chunk {
		if it, ok := c.items[id]; ok && it.chunkID == ent.id {
			delete(c.items, id)
		}
	}
}
