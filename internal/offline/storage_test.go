package offline

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storageBackends() map[string]func(t *testing.T) *CacheStorage {
	return map[string]func(t *testing.T) *CacheStorage{
		"memory":      newMemoryStorage,
		"leveldb":     func(t *testing.T) *CacheStorage { return newDiskStorage(t, 0) },
		"leveldb+ram": func(t *testing.T) *CacheStorage { return newDiskStorage(t, 1<<20) },
	}
}

func TestCacheStorage(t *testing.T) {
	t.Parallel()

	for name, open := range storageBackends() {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			t.Run("open keeps creation order", func(t *testing.T) {
				s := open(t)
				for _, n := range []string{"b", "a", "c"} {
					_, err := s.Open(n)
					require.NoError(t, err)
				}
				_, created, err := s.openCreated("a")
				require.NoError(t, err)
				assert.False(t, created)
				assert.Equal(t, []string{"b", "a", "c"}, s.Keys())
				assert.True(t, s.Has("a"))
				assert.False(t, s.Has("d"))
			})

			t.Run("put and match", func(t *testing.T) {
				s := open(t)
				c, err := s.Open("app-v1")
				require.NoError(t, err)
				req := getReq(t, "/index.html")
				require.NoError(t, c.Put(req, okResponse("hello")))

				resp, ok := c.Match(getReq(t, "/index.html#top"))
				require.True(t, ok)
				assert.Equal(t, http.StatusOK, resp.Status)
				assert.Equal(t, "hello", string(resp.Body))
				assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))

				resp.Body[0] = 'J'
				again, ok := c.Match(req)
				require.True(t, ok)
				assert.Equal(t, "hello", string(again.Body))

				_, ok = c.Match(getReq(t, "/other"))
				assert.False(t, ok)
				assert.Equal(t, []string{req.Key()}, c.Keys())
				assert.Positive(t, s.Usage())
			})

			t.Run("put replaces and keeps one entry", func(t *testing.T) {
				s := open(t)
				c, err := s.Open("x")
				require.NoError(t, err)
				req := getReq(t, "/a")
				require.NoError(t, c.Put(req, okResponse("one")))
				require.NoError(t, c.Put(req, okResponse("two")))
				resp, ok := c.Match(req)
				require.True(t, ok)
				assert.Equal(t, "two", string(resp.Body))
				assert.Equal(t, 1, c.Len())
			})

			t.Run("refuses unstorable", func(t *testing.T) {
				s := open(t)
				c, err := s.Open("x")
				require.NoError(t, err)

				post := getReq(t, "/form")
				post.Method = http.MethodPost
				assert.ErrorIs(t, c.Put(post, okResponse("x")), ErrNotStorable)

				partial := okResponse("x")
				partial.Status = http.StatusPartialContent
				assert.ErrorIs(t, c.Put(getReq(t, "/video"), partial), ErrNotStorable)

				star := okResponse("x")
				star.Header.Set("Vary", "*")
				assert.ErrorIs(t, c.Put(getReq(t, "/any"), star), ErrNotStorable)

				assert.Zero(t, c.Len())
			})

			t.Run("honors vary", func(t *testing.T) {
				s := open(t)
				c, err := s.Open("x")
				require.NoError(t, err)
				resp := okResponse("bonjour")
				resp.Header.Set("Vary", "Accept-Language")
				require.NoError(t, c.Put(getReq(t, "/greet", "Accept-Language", "fr"), resp))

				_, ok := c.Match(getReq(t, "/greet", "Accept-Language", "en"))
				assert.False(t, ok)
				got, ok := c.Match(getReq(t, "/greet", "Accept-Language", "fr"))
				require.True(t, ok)
				assert.Equal(t, "bonjour", string(got.Body))
			})

			t.Run("delete cache", func(t *testing.T) {
				s := open(t)
				c, err := s.Open("old")
				require.NoError(t, err)
				req := getReq(t, "/a")
				require.NoError(t, c.Put(req, okResponse("a")))

				ok, err := s.Delete("old")
				require.NoError(t, err)
				assert.True(t, ok)
				ok, err = s.Delete("old")
				require.NoError(t, err)
				assert.False(t, ok)

				assert.False(t, s.Has("old"))
				_, hit := s.Match(req)
				assert.False(t, hit)
				assert.Zero(t, s.Usage())
				assert.ErrorIs(t, c.Put(req, okResponse("a")), ErrCacheNotFound)

				reopened, err := s.Open("old")
				require.NoError(t, err)
				assert.Zero(t, reopened.Len())
			})

			t.Run("delete entry", func(t *testing.T) {
				s := open(t)
				c, err := s.Open("x")
				require.NoError(t, err)
				req := getReq(t, "/a")
				require.NoError(t, c.Put(req, okResponse("a")))
				ok, err := c.Delete(req)
				require.NoError(t, err)
				assert.True(t, ok)
				_, hit := c.Match(req)
				assert.False(t, hit)
			})

			t.Run("storage match searches oldest first", func(t *testing.T) {
				s := open(t)
				first, err := s.Open("first")
				require.NoError(t, err)
				second, err := s.Open("second")
				require.NoError(t, err)
				req := getReq(t, "/shared")
				require.NoError(t, second.Put(req, okResponse("second")))
				require.NoError(t, first.Put(req, okResponse("first")))

				resp, ok := s.Match(req)
				require.True(t, ok)
				assert.Equal(t, "first", string(resp.Body))
			})
		})
	}
}

func TestCacheStorageQuota(t *testing.T) {
	t.Parallel()

	s, err := OpenStorage(StorageConfig{Backend: BackendMemory, quotaBytes: 2048})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	c, err := s.Open("x")
	require.NoError(t, err)
	require.NoError(t, c.Put(getReq(t, "/small"), okResponse("ok")))

	big := okResponse(string(make([]byte, 4096)))
	assert.ErrorIs(t, c.Put(getReq(t, "/big"), big), ErrQuotaExceeded)
	assert.Equal(t, 1, c.Len())
}

func TestAddAllIsAtomic(t *testing.T) {
	t.Parallel()

	mock, network := newTestNetwork()
	serve(mock, map[string]string{"/a": "a", "/b": "b"})
	mock.RegisterResponder(http.MethodGet, testOrigin+"/missing", httpmock.NewStringResponder(http.StatusNotFound, "nope"))

	s := newMemoryStorage(t)
	c, err := s.Open("x")
	require.NoError(t, err)

	reqs := []*Request{getReq(t, "/a"), getReq(t, "/missing"), getReq(t, "/b")}
	err = c.AddAll(context.Background(), network, reqs, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotStorable)
	assert.Zero(t, c.Len())

	goOffline(mock)
	err = c.AddAll(context.Background(), network, []*Request{getReq(t, "/a")}, 2)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Zero(t, c.Len())

	serve(mock, map[string]string{"/a": "a", "/b": "b"})
	require.NoError(t, c.AddAll(context.Background(), network, []*Request{getReq(t, "/a"), getReq(t, "/b")}, 1))
	assert.Equal(t, []string{testOrigin + "/a", testOrigin + "/b"}, c.Keys())
}

func TestDiskStoragePersists(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "db")
	s, err := OpenStorage(StorageConfig{Backend: BackendLevelDB, Path: dir})
	require.NoError(t, err)
	for _, name := range []string{"app-v2", "app-v1"} {
		c, err := s.Open(name)
		require.NoError(t, err)
		require.NoError(t, c.Put(getReq(t, "/index.html"), okResponse(name)))
		require.NoError(t, c.Put(getReq(t, "/main.css"), okResponse(name+" css")))
	}
	require.NoError(t, s.markInstalled("app-v1"))
	require.ErrorIs(t, s.markInstalled("app-v9"), ErrCacheNotFound)
	usage := s.Usage()
	require.NoError(t, s.Close())

	s, err = OpenStorage(StorageConfig{Backend: BackendLevelDB, Path: dir})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"app-v2", "app-v1"}, s.Keys())
	assert.Equal(t, usage, s.Usage())
	assert.True(t, s.Installed("app-v1"))
	assert.False(t, s.Installed("app-v2"))
	c := s.handle("app-v1")
	assert.Equal(t, []string{testOrigin + "/index.html", testOrigin + "/main.css"}, c.Keys())
	resp, ok := c.Match(getReq(t, "/index.html"))
	require.True(t, ok)
	assert.Equal(t, "app-v1", string(resp.Body))
}

func TestRAMCacheEvictsLeastRecent(t *testing.T) {
	t.Parallel()

	c := newRAMCache(10)
	c.Put("a", Entry{Body: []byte("a")}, 4)
	c.Put("b", Entry{Body: []byte("b")}, 4)
	_, ok := c.Get("a")
	require.True(t, ok)
	c.Put("c", Entry{Body: []byte("c")}, 4)

	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(8), c.TotalSize())

	c.DeletePrefix("a")
	assert.Equal(t, 1, c.Len())
}
