package offline

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		dest string
		want RequestClass
	}{
		{"/favicon.png", "", ClassImage},
		{"/img/Photo.JPG", "", ClassImage},
		{"/icon.svg?v=2", "", ClassImage},
		{"/avatar", "image", ClassImage},
		{"/sprite.css", "image", ClassImage},
		{"/logo.png", "document", ClassDefault},
		{"/main.css", "", ClassStylesheet},
		{"/theme", "style", ClassStylesheet},
		{"/main.css", "style", ClassStylesheet},
		{"/css?file=main.css", "", ClassStylesheet},
		{"/assets/Theme.CSS?v=3", "", ClassStylesheet},
		{"/", "document", ClassDefault},
		{"/index.html", "", ClassDefault},
		{"/app.js", "script", ClassDefault},
		{"/data.json", "", ClassDefault},
	}
	for _, tt := range tests {
		req := getReq(t, tt.url, "Sec-Fetch-Dest", tt.dest)
		assert.Equal(t, tt.want, Classify(req), "%s dest=%q", tt.url, tt.dest)
	}
}

func TestNewRequestResolvesAgainstOrigin(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/docs/page.html?x=1", nil)
	r.Header.Set("Sec-Fetch-Dest", "Document")
	r.Header.Set("Sec-Fetch-Mode", "navigate")

	req := NewRequest(r, testOriginURL())
	assert.Equal(t, "https://app.test/docs/page.html?x=1", req.Key())
	assert.Equal(t, "document", req.Destination)
	assert.Equal(t, "navigate", req.Mode)
	assert.True(t, req.sameOrigin(testOriginURL()))
	assert.Nil(t, req.Body)
}

func TestNewRequestPinsAbsoluteTargetToOrigin(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "http://169.254.169.254/latest/meta-data?q=1", nil)
	req := NewRequest(r, testOriginURL())
	assert.Equal(t, "https://app.test/latest/meta-data?q=1", req.Key())
	assert.True(t, req.sameOrigin(testOriginURL()))

	r = httptest.NewRequest(http.MethodGet, "http://user:pw@other.test", nil)
	assert.Equal(t, "https://app.test/", NewRequest(r, testOriginURL()).Key())
}

func TestNewGetRequestDropsFragment(t *testing.T) {
	t.Parallel()

	a := getReq(t, "/index.html#intro")
	b := getReq(t, "https://app.test/index.html")
	assert.Equal(t, a.Key(), b.Key())

	cross := getReq(t, "https://cdn.test/lib.js")
	assert.False(t, cross.sameOrigin(testOriginURL()))
}
