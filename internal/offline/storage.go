package offline

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	BackendLevelDB = "leveldb"
	BackendMemory  = "memory"
)

type cacheMeta struct {
	Seq       uint64
	CreatedAt int64
	// set once a precache write has committed every manifest entry
	Installed bool
}

type entryMeta struct {
	Size int64
	Seq  uint64
}

type storedEntry struct {
	key string
	ent Entry
	raw []byte
}

// backend is the raw key-value layer under CacheStorage. Implementations
// must be safe for concurrent use; putEntries must be all-or-nothing.
type backend interface {
	createCache(name string) (created bool, err error)
	hasCache(name string) bool
	markInstalled(name string) error
	installed(name string) bool
	cacheNames() []string // creation order
	deleteCache(name string) (bool, error)
	get(cache, key string) (Entry, bool, error)
	entrySize(cache, key string) int64
	putEntries(cache string, items []storedEntry) error
	deleteEntry(cache, key string) (bool, error)
	keys(cache string) []string // insertion order
	totalSize() int64
	close() error
}

// CacheStorage is a set of named caches of captured responses.
type CacheStorage struct {
	b     backend
	quota int64

	// serializes writes so quota accounting sees a stable total
	mu sync.Mutex
}

// OpenStorage opens the backend selected by cfg.
func OpenStorage(cfg StorageConfig) (*CacheStorage, error) {
	var b backend
	switch cfg.Backend {
	case BackendMemory:
		b = newMemoryBackend()
	case BackendLevelDB, "":
		disk, err := openDiskBackend(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open storage %s: %w", cfg.Path, err)
		}
		b = disk
		if cfg.ramMaxBytes > 0 {
			b = newRAMTier(disk, cfg.ramMaxBytes)
		}
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	return &CacheStorage{b: b, quota: cfg.quotaBytes}, nil
}

func (s *CacheStorage) Close() error {
	return s.b.close()
}

// Open returns the named cache, creating it if absent.
func (s *CacheStorage) Open(name string) (*Cache, error) {
	if _, err := s.b.createCache(name); err != nil {
		return nil, err
	}
	return &Cache{name: name, s: s}, nil
}

// openCreated is Open that also reports whether the cache was created.
func (s *CacheStorage) openCreated(name string) (*Cache, bool, error) {
	created, err := s.b.createCache(name)
	if err != nil {
		return nil, false, err
	}
	return &Cache{name: name, s: s}, created, nil
}

// handle returns a Cache for name without creating it.
func (s *CacheStorage) handle(name string) *Cache {
	return &Cache{name: name, s: s}
}

func (s *CacheStorage) Has(name string) bool {
	return s.b.hasCache(name)
}

// Installed reports whether name holds a complete precache, persisted across
// restarts.
func (s *CacheStorage) Installed(name string) bool {
	return s.b.installed(name)
}

func (s *CacheStorage) markInstalled(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.markInstalled(name)
}

// Keys lists cache names in creation order.
func (s *CacheStorage) Keys() []string {
	return s.b.cacheNames()
}

// Delete removes a cache and all its entries. It reports whether the cache existed.
func (s *CacheStorage) Delete(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.deleteCache(name)
}

// Match looks the request up in every cache, oldest first.
func (s *CacheStorage) Match(req *Request) (*Response, bool) {
	if req.Method != http.MethodGet {
		return nil, false
	}
	for _, name := range s.b.cacheNames() {
		ent, ok, err := s.b.get(name, req.Key())
		if err != nil || !ok {
			continue
		}
		if varyMatches(ent, req) {
			return responseFromEntry(ent), true
		}
	}
	return nil, false
}

// Usage returns the encoded size of all stored entries.
func (s *CacheStorage) Usage() int64 {
	return s.b.totalSize()
}

func (s *CacheStorage) write(cache string, items []storedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quota > 0 {
		total := s.b.totalSize()
		for _, it := range items {
			total += int64(len(it.raw)) - s.b.entrySize(cache, it.key)
		}
		if total > s.quota {
			return ErrQuotaExceeded
		}
	}
	return s.b.putEntries(cache, items)
}

// Cache is a handle to one named cache.
type Cache struct {
	name string
	s    *CacheStorage
}

func (c *Cache) Name() string { return c.name }

// Match returns the stored response for req, honoring Vary.
func (c *Cache) Match(req *Request) (*Response, bool) {
	ent, ok := c.entry(req)
	if !ok {
		return nil, false
	}
	return responseFromEntry(ent), true
}

func (c *Cache) entry(req *Request) (Entry, bool) {
	if req.Method != http.MethodGet {
		return Entry{}, false
	}
	ent, ok, err := c.s.b.get(c.name, req.Key())
	if err != nil || !ok || !varyMatches(ent, req) {
		return Entry{}, false
	}
	return ent, true
}

// Put stores resp under req. resp should already be a clone owned by the cache.
func (c *Cache) Put(req *Request, resp *Response) error {
	item, err := prepareEntry(req, resp)
	if err != nil {
		return err
	}
	return c.s.write(c.name, []storedEntry{item})
}

// Delete removes the entry for req.
func (c *Cache) Delete(req *Request) (bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.s.b.deleteEntry(c.name, req.Key())
}

// Keys lists entry keys in insertion order.
func (c *Cache) Keys() []string {
	return c.s.b.keys(c.name)
}

func (c *Cache) Len() int {
	return len(c.Keys())
}

// AddAll fetches every request and stores all responses in one write. Any
// rejected fetch or non-ok response fails the whole call and nothing is
// stored.
func (c *Cache) AddAll(ctx context.Context, network Network, reqs []*Request, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	items := make([]storedEntry, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			resp, err := network.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", req.Key(), err)
			}
			if !resp.OK() {
				return fmt.Errorf("fetch %s: %w: status %d (%s)", req.Key(), ErrNotStorable, resp.Status, resp.Type)
			}
			item, err := prepareEntry(req, resp)
			if err != nil {
				return fmt.Errorf("store %s: %w", req.Key(), err)
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return c.s.write(c.name, items)
}

func prepareEntry(req *Request, resp *Response) (storedEntry, error) {
	if req.Method != http.MethodGet {
		return storedEntry{}, fmt.Errorf("%w: method %s", ErrNotStorable, req.Method)
	}
	if resp.Status == http.StatusPartialContent {
		return storedEntry{}, fmt.Errorf("%w: partial content", ErrNotStorable)
	}
	for _, n := range varyNames(resp.Header) {
		if n == "*" {
			return storedEntry{}, fmt.Errorf("%w: Vary: *", ErrNotStorable)
		}
	}
	ent := resp.toEntry(req)
	raw, err := encodeGob(ent)
	if err != nil {
		return storedEntry{}, err
	}
	return storedEntry{key: req.Key(), ent: ent, raw: raw}, nil
}
