package offline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Network performs real fetches. A returned error means the fetch rejected
// (offline, DNS failure, timeout); HTTP error statuses are not errors.
type Network interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// HTTPNetwork fetches through an http.Client and types responses relative
// to the site origin.
type HTTPNetwork struct {
	client *http.Client
	origin *url.URL
}

func NewHTTPNetwork(client *http.Client, origin *url.URL) *HTTPNetwork {
	return &HTTPNetwork{client: client, origin: origin}
}

func (n *HTTPNetwork) Fetch(ctx context.Context, req *Request) (*Response, error) {
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	copyHeaders(hreq.Header, req.Header)
	hreq.Header.Set("Accept-Encoding", "identity")

	resp, err := n.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}

	out := &Response{
		Status: resp.StatusCode,
		Header: cloneHeader(resp.Header),
		Body:   body,
		Type:   n.responseType(req, resp.Header),
		URL:    req.URL.String(),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		out.URL = resp.Request.URL.String()
	}
	out.Header.Del("Content-Length")
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	return out, nil
}

// responseType maps the request's origin relationship to a fetch response
// type: same origin is basic, cross origin with CORS headers is cors, anything
// else is opaque.
func (n *HTTPNetwork) responseType(req *Request, h http.Header) ResponseType {
	if req.sameOrigin(n.origin) {
		return TypeBasic
	}
	acao := strings.TrimSpace(h.Get("Access-Control-Allow-Origin"))
	if acao == "*" || strings.EqualFold(acao, n.origin.Scheme+"://"+n.origin.Host) {
		return TypeCORS
	}
	return TypeOpaque
}
