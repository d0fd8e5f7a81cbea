package offline

import (
	"bytes"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	c:<cache>           cacheMeta
//	e:<cache>\x00<key>  Entry
//	m:<cache>\x00<key>  entryMeta
const keySep = "\x00"

type diskBackend struct {
	db *leveldb.DB

	mu     sync.Mutex
	caches map[string]cacheMeta
	index  map[string]map[string]entryMeta
	total  int64
	seq    uint64
}

func openDiskBackend(path string) (*diskBackend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return newDiskBackend(db)
}

func newDiskBackend(db *leveldb.DB) (*diskBackend, error) {
	d := &diskBackend{
		db:     db,
		caches: map[string]cacheMeta{},
		index:  map[string]map[string]entryMeta{},
	}
	if err := d.loadIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *diskBackend) close() error {
	return d.db.Close()
}

func (d *diskBackend) loadIndex() error {
	caches := map[string]cacheMeta{}
	idx := map[string]map[string]entryMeta{}
	var total int64
	var seq uint64

	it := d.db.NewIterator(util.BytesPrefix([]byte("c:")), nil)
	for it.Next() {
		name := string(bytes.TrimPrefix(it.Key(), []byte("c:")))
		var meta cacheMeta
		if err := decodeGob(it.Value(), &meta); err != nil {
			continue
		}
		caches[name] = meta
		idx[name] = map[string]entryMeta{}
		if meta.Seq > seq {
			seq = meta.Seq
		}
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}

	it = d.db.NewIterator(util.BytesPrefix([]byte("m:")), nil)
	defer it.Release()
	for it.Next() {
		cache, key, ok := strings.Cut(string(bytes.TrimPrefix(it.Key(), []byte("m:"))), keySep)
		if !ok {
			continue
		}
		entries, known := idx[cache]
		if !known {
			continue
		}
		var meta entryMeta
		if err := decodeGob(it.Value(), &meta); err != nil {
			continue
		}
		entries[key] = meta
		total += meta.Size
		if meta.Seq > seq {
			seq = meta.Seq
		}
	}
	if err := it.Error(); err != nil {
		return err
	}

	d.mu.Lock()
	d.caches = caches
	d.index = idx
	d.total = total
	d.seq = seq
	d.mu.Unlock()
	return nil
}

func entryKey(cache, key string) []byte { return []byte("e:" + cache + keySep + key) }
func metaKey(cache, key string) []byte  { return []byte("m:" + cache + keySep + key) }

func (d *diskBackend) createCache(name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.caches[name]; ok {
		return false, nil
	}
	d.seq++
	meta := cacheMeta{Seq: d.seq, CreatedAt: time.Now().Unix()}
	b, err := encodeGob(meta)
	if err != nil {
		return false, err
	}
	if err := d.db.Put([]byte("c:"+name), b, nil); err != nil {
		return false, err
	}
	d.caches[name] = meta
	d.index[name] = map[string]entryMeta{}
	return true, nil
}

func (d *diskBackend) hasCache(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.caches[name]
	return ok
}

func (d *diskBackend) installed(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caches[name].Installed
}

func (d *diskBackend) markInstalled(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	meta, ok := d.caches[name]
	if !ok {
		return ErrCacheNotFound
	}
	if meta.Installed {
		return nil
	}
	meta.Installed = true
	b, err := encodeGob(meta)
	if err != nil {
		return err
	}
	if err := d.db.Put([]byte("c:"+name), b, nil); err != nil {
		return err
	}
	d.caches[name] = meta
	return nil
}

func (d *diskBackend) cacheNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedCacheNames(d.caches)
}

func (d *diskBackend) deleteCache(name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.caches[name]; !ok {
		return false, nil
	}

	batch := new(leveldb.Batch)
	batch.Delete([]byte("c:" + name))
	for _, prefix := range []string{"e:", "m:"} {
		it := d.db.NewIterator(util.BytesPrefix([]byte(prefix+name+keySep)), nil)
		for it.Next() {
			batch.Delete(append([]byte(nil), it.Key()...))
		}
		it.Release()
		if err := it.Error(); err != nil {
			return false, err
		}
	}
	if err := d.db.Write(batch, nil); err != nil {
		return false, err
	}

	for _, meta := range d.index[name] {
		d.total -= meta.Size
	}
	delete(d.index, name)
	delete(d.caches, name)
	return true, nil
}

func (d *diskBackend) get(cache, key string) (Entry, bool, error) {
	d.mu.Lock()
	_, ok := d.index[cache][key]
	d.mu.Unlock()
	if !ok {
		return Entry{}, false, nil
	}
	b, err := d.db.Get(entryKey(cache, key), nil)
	if err == leveldb.ErrNotFound {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	ent, err := decodeEntry(b)
	if err != nil {
		return Entry{}, false, err
	}
	return ent, true, nil
}

func (d *diskBackend) entrySize(cache, key string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.index[cache][key].Size
}

func (d *diskBackend) putEntries(cache string, items []storedEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries, ok := d.index[cache]
	if !ok {
		return ErrCacheNotFound
	}

	batch := new(leveldb.Batch)
	metas := make([]entryMeta, len(items))
	seq := d.seq
	for i, it := range items {
		seq++
		metas[i] = entryMeta{Size: int64(len(it.raw)), Seq: seq}
		mb, err := encodeGob(metas[i])
		if err != nil {
			return err
		}
		batch.Put(entryKey(cache, it.key), it.raw)
		batch.Put(metaKey(cache, it.key), mb)
	}
	if err := d.db.Write(batch, nil); err != nil {
		return err
	}

	d.seq = seq
	for i, it := range items {
		d.total -= entries[it.key].Size
		entries[it.key] = metas[i]
		d.total += metas[i].Size
	}
	return nil
}

func (d *diskBackend) deleteEntry(cache, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	meta, ok := d.index[cache][key]
	if !ok {
		return false, nil
	}
	batch := new(leveldb.Batch)
	batch.Delete(entryKey(cache, key))
	batch.Delete(metaKey(cache, key))
	if err := d.db.Write(batch, nil); err != nil {
		return false, err
	}
	delete(d.index[cache], key)
	d.total -= meta.Size
	return true, nil
}

func (d *diskBackend) keys(cache string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedEntryKeys(d.index[cache])
}

func (d *diskBackend) totalSize() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

func sortedCacheNames(caches map[string]cacheMeta) []string {
	out := make([]string, 0, len(caches))
	for name := range caches {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		return caches[out[i]].Seq < caches[out[j]].Seq
	})
	return out
}

func sortedEntryKeys(entries map[string]entryMeta) []string {
	out := make([]string, 0, len(entries))
	for k := range entries {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		return entries[out[i]].Seq < entries[out[j]].Seq
	})
	return out
}
