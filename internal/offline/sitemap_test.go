package offline

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipped(t *testing.T, s string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.String()
}

func TestDiscoverSitemapPaths(t *testing.T) {
	t.Parallel()

	mock, network := newTestNetwork()
	serve(mock, map[string]string{
		"/sitemap.xml": `<sitemapindex>
  <sitemap><loc>https://app.test/pages.xml.gz</loc></sitemap>
  <sitemap><loc>/sitemap.xml</loc></sitemap>
</sitemapindex>`,
		"/pages.xml.gz": gzipped(t, `<urlset>
  <url><loc> https://app.test/docs?page=2 </loc></url>
  <url><loc>https://other.test/x</loc></url>
  <url><loc>blog</loc></url>
</urlset>`),
	})

	paths, err := discoverSitemapPaths(context.Background(), network, testOriginURL(), []string{"/sitemap.xml", " "})
	require.NoError(t, err)
	assert.Equal(t, []string{"/docs?page=2", "/blog"}, paths)
}

func TestDiscoverSitemapPathsFailsOnBadStatus(t *testing.T) {
	t.Parallel()

	mock, network := newTestNetwork()
	mock.RegisterResponder(http.MethodGet, testOrigin+"/sitemap.xml", httpmock.NewStringResponder(http.StatusNotFound, "missing"))

	_, err := discoverSitemapPaths(context.Background(), network, testOriginURL(), []string{"/sitemap.xml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
}

func TestSameOriginPath(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":                        "",
		"https://app.test":        "/",
		"https://APP.test/a/b":    "/a/b",
		"https://app.test/s?q=1":  "/s?q=1",
		"http://elsewhere.test/a": "",
		"http://app.test/a":       "",
		"relative":                "/relative",
		"/already":                "/already",
	}
	for in, want := range tests {
		assert.Equal(t, want, sameOriginPath(in, testOriginURL()), in)
	}
}

func TestDiscoverSitemapPathsBoundsNesting(t *testing.T) {
	t.Parallel()

	mock, network := newTestNetwork()
	mock.RegisterRegexpResponder(http.MethodGet, regexp.MustCompile(`/sm-\d+\.xml$`), func(req *http.Request) (*http.Response, error) {
		n, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(req.URL.Path, "/sm-"), ".xml"))
		body := fmt.Sprintf(`<sitemapindex><sitemap><loc>/sm-%d.xml</loc></sitemap></sitemapindex>`, n+1)
		return httpmock.NewStringResponse(http.StatusOK, body), nil
	})

	_, err := discoverSitemapPaths(context.Background(), network, testOriginURL(), []string{"/sm-0.xml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than 64 sitemaps")
}
