package offline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, cfg Config) (*Service, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	svc, err := NewService(cfg, zerolog.Nop(), WithHTTPClient(&http.Client{Transport: mock}))
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc, mock
}

func TestServiceInstallLoopRetriesUntilActive(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "1", siteURLs()...)
	cfg.Install.RetryEvery = "10ms"
	cfg.Logging.LogStatsEvery = "5ms"
	svc, mock := newTestService(t, cfg)
	goOffline(mock)

	svc.Start()
	time.Sleep(30 * time.Millisecond)
	assert.Nil(t, svc.Registration().Active())

	serve(mock, siteV1)
	require.Eventually(t, func() bool {
		return svc.Registration().Active() != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "app-v1", svc.Registration().Active().CacheName())
}

func TestServiceReload(t *testing.T) {
	t.Parallel()

	svc, mock := newTestService(t, testConfig(t, "1", siteURLs()...))
	serve(mock, siteV1)

	c, err := svc.Install(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "app-v1", c.CacheName())

	next := testConfig(t, "2", "/")
	next.Server.Port = 9999
	require.NoError(t, svc.Reload(context.Background(), next))
	assert.Equal(t, "app-v2", svc.Registration().Active().CacheName())
	assert.Equal(t, 8080, svc.config().Server.Port)
	assert.Equal(t, []string{"app-v2"}, svc.storage.Keys())

	bad := next
	bad.Project = ""
	assert.Error(t, svc.Reload(context.Background(), bad))
	assert.Equal(t, "app-v2", svc.config().CacheName())
}

func TestServiceHandlerServesOffline(t *testing.T) {
	t.Parallel()

	svc, mock := newTestService(t, testConfig(t, "1", siteURLs()...))
	serve(mock, siteV1)
	_, err := svc.Install(context.Background())
	require.NoError(t, err)

	goOffline(mock)
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, siteV1["/"], rec.Body.String())

	svc.logStats()
	snap := svc.stats.Snapshot()
	assert.Equal(t, uint64(1), snap.Fallbacks)
}

func TestAdminHandler(t *testing.T) {
	t.Parallel()

	svc, mock := newTestService(t, testConfig(t, "1", siteURLs()...))
	serve(mock, siteV1)
	_, err := svc.Install(context.Background())
	require.NoError(t, err)
	admin := svc.AdminHandler()

	do := func(method, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		admin.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		return rec
	}

	rec := do(http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.NotNil(t, st.Active)
	assert.Equal(t, "app-v1", st.Active.CacheName)
	assert.Equal(t, []CacheStatus{{Name: "app-v1", Entries: 4, Current: true}}, st.Caches)

	rec = do(http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "offline_installs_total")

	rec = do(http.MethodDelete, "/caches/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(http.MethodDelete, "/caches/app-v1")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err = svc.storage.Open("leftover")
	require.NoError(t, err)
	rec = do(http.MethodPost, "/caches/clear")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":1}`, rec.Body.String())

	rec = do(http.MethodGet, "/caches/clear")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
