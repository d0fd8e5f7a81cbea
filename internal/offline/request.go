package offline

import (
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Request is an intercepted request descriptor.
type Request struct {
	Method string
	URL    *url.URL // absolute

	// Destination and Mode carry Sec-Fetch-Dest and Sec-Fetch-Mode.
	Destination string
	Mode        string

	Header http.Header
	Body   io.Reader
}

// NewRequest builds a Request from an incoming proxy request. The target is
// always origin plus the incoming path and query; an absolute-form request
// URI never selects another host.
func NewRequest(r *http.Request, origin *url.URL) *Request {
	u := url.URL{
		Scheme:   origin.Scheme,
		Host:     origin.Host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}

	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Body != nil {
		body = r.Body
	}
	return &Request{
		Method:      r.Method,
		URL:         &u,
		Destination: strings.ToLower(r.Header.Get("Sec-Fetch-Dest")),
		Mode:        strings.ToLower(r.Header.Get("Sec-Fetch-Mode")),
		Header:      r.Header.Clone(),
		Body:        body,
	}
}

// newGetRequest builds a GET request for a manifest entry.
func newGetRequest(raw string, origin *url.URL) (*Request, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	u := origin.ResolveReference(ref)
	u.Fragment = ""
	u.RawFragment = ""
	return &Request{
		Method: http.MethodGet,
		URL:    u,
		Header: make(http.Header),
	}, nil
}

// Key identifies the request inside a cache: the absolute URL without fragment.
func (r *Request) Key() string {
	return r.URL.String()
}

func (r *Request) sameOrigin(origin *url.URL) bool {
	return strings.EqualFold(r.URL.Scheme, origin.Scheme) && strings.EqualFold(r.URL.Host, origin.Host)
}

var imageExts = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {},
	".avif": {}, ".svg": {}, ".ico": {}, ".bmp": {},
}

// Classify picks exactly one strategy class. Image wins over stylesheet,
// stylesheet over everything else.
func Classify(r *Request) RequestClass {
	ext := strings.ToLower(path.Ext(r.URL.Path))
	if r.Destination == "image" {
		return ClassImage
	}
	if r.Destination == "" {
		if _, ok := imageExts[ext]; ok {
			return ClassImage
		}
	}
	// any path or query mentioning .css, e.g. /css?file=main.css
	if r.Destination == "style" || strings.Contains(strings.ToLower(r.URL.RequestURI()), ".css") {
		return ClassStylesheet
	}
	return ClassDefault
}
