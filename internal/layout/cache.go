package layout

import "container/list"

// Key identifies a cached chunk.
type Key struct {
	Dataset uint64
	Chunk   int
}

// Entry is a decoded chunk.
type Entry struct {
	Data  []byte
	Dirty bool
}

// EvictFunc persists a dirty entry that is leaving the cache.
type EvictFunc func(Key, *Entry) error

type item struct {
	key   Key
	entry *Entry
}

// Cache is a least-recently-used chunk cache.
type Cache struct {
	capacity int
	ll       *list.List
	items    map[Key]*list.Element
	evict    EvictFunc
}

// NewCache creates a cache holding at most capacity chunks.
func NewCache(capacity int, evict EvictFunc) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[Key]*list.Element),
		evict:    evict,
	}
}

// Get returns the entry for key and marks it most recently used.
func (c *Cache) Get(key Key) (*Entry, bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*item).entry, true
}

// Put inserts or replaces an entry, evicting the least recently used
// entries beyond capacity. An eviction error leaves the failed entry cached.
func (c *Cache) Put(key Key, entry *Entry) error {
	if el, ok := c.items[key]; ok {
		el.Value.(*item).entry = entry
		c.ll.MoveToFront(el)
		return nil
	}
	c.items[key] = c.ll.PushFront(&item{key: key, entry: entry})

	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		it := oldest.Value.(*item)
		if it.entry.Dirty && c.evict != nil {
			if err := c.evict(it.key, it.entry); err != nil {
				return err
			}
		}
		c.ll.Remove(oldest)
		delete(c.items, it.key)
	}
	return nil
}

// FlushDirty writes back every dirty entry and marks it clean.
// Entries are written least recently used first.
func (c *Cache) FlushDirty() error {
	for el := c.ll.Back(); el != nil; el = el.Prev() {
		it := el.Value.(*item)
		if !it.entry.Dirty {
			continue
		}
		if err := c.evict(it.key, it.entry); err != nil {
			return err
		}
		it.entry.Dirty = false
	}
	return nil
}

// Drop removes every entry of a dataset without writing it back.
func (c *Cache) Drop(dataset uint64) {
	for el := c.ll.Front(); el != nil; {
		next := el.Next()
		if it := el.Value.(*item); it.key.Dataset == dataset {
			c.ll.Remove(el)
			delete(c.items, it.key)
		}
		el = next
	}
}

// Len returns the number of cached chunks.
func (c *Cache) Len() int {
	return c.ll.Len()
}
