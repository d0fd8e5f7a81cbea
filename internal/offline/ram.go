package offline

import (
	"strings"
	"sync"
)

// ramTier is a byte-bounded LRU of decoded entries in front of the disk
// backend. Disk stays authoritative; the tier only saves decode work for hot
// keys and is updated on every write and delete.
type ramTier struct {
	*diskBackend
	ram *ramCache

	// fills hold the read side so a miss cannot repopulate a key that a
	// concurrent write or delete just changed
	mu sync.RWMutex
}

func newRAMTier(disk *diskBackend, maxBytes int64) *ramTier {
	return &ramTier{diskBackend: disk, ram: newRAMCache(maxBytes)}
}

func (t *ramTier) get(cache, key string) (Entry, bool, error) {
	k := cache + keySep + key
	if ent, ok := t.ram.Get(k); ok {
		return ent, true, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	ent, ok, err := t.diskBackend.get(cache, key)
	if err != nil || !ok {
		return ent, ok, err
	}
	t.ram.Put(k, ent, t.diskBackend.entrySize(cache, key))
	return ent, true, nil
}

func (t *ramTier) putEntries(cache string, items []storedEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.diskBackend.putEntries(cache, items); err != nil {
		return err
	}
	for _, it := range items {
		t.ram.Put(cache+keySep+it.key, it.ent, int64(len(it.raw)))
	}
	return nil
}

func (t *ramTier) deleteEntry(cache, key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ram.Delete(cache + keySep + key)
	return t.diskBackend.deleteEntry(cache, key)
}

func (t *ramTier) deleteCache(name string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ram.DeletePrefix(name + keySep)
	return t.diskBackend.deleteCache(name)
}

type ramItem struct {
	key  string
	ent  Entry
	size int64
	prev *ramItem
	next *ramItem
}

type ramCache struct {
	maxBytes int64

	mu    sync.Mutex
	items map[string]*ramItem
	head  *ramItem
	tail  *ramItem
	total int64
}

func newRAMCache(maxBytes int64) *ramCache {
	return &ramCache{maxBytes: maxBytes, items: map[string]*ramItem{}}
}

func (c *ramCache) TotalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *ramCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *ramCache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return Entry{}, false
	}
	c.moveToFront(it)
	return it.ent, true
}

func (c *ramCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[key]; ok {
		c.drop(it)
	}
}

func (c *ramCache) DeletePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, it := range c.items {
		if strings.HasPrefix(k, prefix) {
			c.drop(it)
		}
	}
}

func (c *ramCache) Put(key string, ent Entry, size int64) {
	if c.maxBytes > 0 && size > c.maxBytes {
		// too big for RAM; drop any stale copy and serve from disk
		c.Delete(key)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if it, ok := c.items[key]; ok {
		c.total -= it.size
		it.ent = ent
		it.size = size
		c.total += size
		c.moveToFront(it)
		c.evictLocked()
		return
	}

	it := &ramItem{key: key, ent: ent, size: size}
	c.items[key] = it
	c.addToFront(it)
	c.total += size
	c.evictLocked()
}

func (c *ramCache) evictLocked() {
	for c.maxBytes > 0 && c.total > c.maxBytes && c.tail != nil {
		c.drop(c.tail)
	}
}

func (c *ramCache) drop(it *ramItem) {
	c.remove(it)
	delete(c.items, it.key)
	c.total -= it.size
}

func (c *ramCache) addToFront(it *ramItem) {
	it.prev = nil
	it.next = c.head
	if c.head != nil {
		c.head.prev = it
	}
	c.head = it
	if c.tail == nil {
		c.tail = it
	}
}

func (c *ramCache) remove(it *ramItem) {
	if it.prev != nil {
		it.prev.next = it.next
	} else {
		c.head = it.next
	}
	if it.next != nil {
		it.next.prev = it.prev
	} else {
		c.tail = it.prev
	}
	it.prev, it.next = nil, nil
}

func (c *ramCache) moveToFront(it *ramItem) {
	if c.head == it {
		return
	}
	c.remove(it)
	c.addToFront(it)
}
