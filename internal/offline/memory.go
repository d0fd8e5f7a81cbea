package offline

import (
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type memItem struct {
	ent  Entry
	meta entryMeta
}

// memoryBackend keeps caches in a go-cache store without expiration or
// janitor. Entries live until their cache is deleted.
type memoryBackend struct {
	store *gocache.Cache

	mu    sync.Mutex
	total int64
	seq   uint64
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{store: gocache.New(gocache.NoExpiration, 0)}
}

func (m *memoryBackend) close() error {
	m.store.Flush()
	return nil
}

func (m *memoryBackend) createCache(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store.Get("c:" + name); ok {
		return false, nil
	}
	m.seq++
	m.store.SetDefault("c:"+name, cacheMeta{Seq: m.seq, CreatedAt: time.Now().Unix()})
	return true, nil
}

func (m *memoryBackend) hasCache(name string) bool {
	_, ok := m.store.Get("c:" + name)
	return ok
}

func (m *memoryBackend) installed(name string) bool {
	v, ok := m.store.Get("c:" + name)
	return ok && v.(cacheMeta).Installed
}

func (m *memoryBackend) markInstalled(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.store.Get("c:" + name)
	if !ok {
		return ErrCacheNotFound
	}
	meta := v.(cacheMeta)
	meta.Installed = true
	m.store.SetDefault("c:"+name, meta)
	return nil
}

func (m *memoryBackend) cacheNames() []string {
	caches := map[string]cacheMeta{}
	for k, it := range m.store.Items() {
		if name, ok := strings.CutPrefix(k, "c:"); ok {
			caches[name] = it.Object.(cacheMeta)
		}
	}
	return sortedCacheNames(caches)
}

func (m *memoryBackend) deleteCache(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store.Get("c:" + name); !ok {
		return false, nil
	}
	prefix := "e:" + name + keySep
	for k, it := range m.store.Items() {
		if strings.HasPrefix(k, prefix) {
			m.total -= it.Object.(memItem).meta.Size
			m.store.Delete(k)
		}
	}
	m.store.Delete("c:" + name)
	return true, nil
}

func (m *memoryBackend) get(cache, key string) (Entry, bool, error) {
	v, ok := m.store.Get("e:" + cache + keySep + key)
	if !ok {
		return Entry{}, false, nil
	}
	return v.(memItem).ent, true, nil
}

func (m *memoryBackend) entrySize(cache, key string) int64 {
	v, ok := m.store.Get("e:" + cache + keySep + key)
	if !ok {
		return 0
	}
	return v.(memItem).meta.Size
}

func (m *memoryBackend) putEntries(cache string, items []storedEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store.Get("c:" + cache); !ok {
		return ErrCacheNotFound
	}
	for _, it := range items {
		k := "e:" + cache + keySep + it.key
		if old, ok := m.store.Get(k); ok {
			m.total -= old.(memItem).meta.Size
		}
		m.seq++
		meta := entryMeta{Size: int64(len(it.raw)), Seq: m.seq}
		m.store.SetDefault(k, memItem{ent: it.ent, meta: meta})
		m.total += meta.Size
	}
	return nil
}

func (m *memoryBackend) deleteEntry(cache, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := "e:" + cache + keySep + key
	v, ok := m.store.Get(k)
	if !ok {
		return false, nil
	}
	m.store.Delete(k)
	m.total -= v.(memItem).meta.Size
	return true, nil
}

func (m *memoryBackend) keys(cache string) []string {
	prefix := "e:" + cache + keySep
	entries := map[string]entryMeta{}
	for k, it := range m.store.Items() {
		if key, ok := strings.CutPrefix(k, prefix); ok {
			entries[key] = it.Object.(memItem).meta
		}
	}
	return sortedEntryKeys(entries)
}

func (m *memoryBackend) totalSize() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}
