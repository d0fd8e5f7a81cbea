package offline

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// maxSitemaps bounds how many sitemap documents one install may fetch,
// nested indexes included.
const maxSitemaps = 64

// sitemapDoc covers both <urlset> and <sitemapindex> documents.
type sitemapDoc struct {
	URLs     []string `xml:"url>loc"`
	Sitemaps []string `xml:"sitemap>loc"`
}

// discoverSitemapPaths walks the given sitemaps breadth first, following
// nested indexes, and returns the same-origin paths they list in document
// order.
func discoverSitemapPaths(ctx context.Context, network Network, origin *url.URL, sitemaps []string) ([]string, error) {
	var (
		paths   []string
		queue   []string
		fetched = map[string]bool{}
	)
	for _, sm := range sitemaps {
		if sm = strings.TrimSpace(sm); sm != "" {
			queue = append(queue, sm)
		}
	}

	for ; len(queue) > 0; queue = queue[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req, err := newGetRequest(queue[0], origin)
		if err != nil {
			return nil, fmt.Errorf("sitemap %q: %w", queue[0], err)
		}
		if fetched[req.Key()] {
			continue
		}
		if len(fetched) == maxSitemaps {
			return nil, fmt.Errorf("sitemap %s: more than %d sitemaps", req.Key(), maxSitemaps)
		}
		fetched[req.Key()] = true

		doc, err := fetchSitemap(ctx, network, req)
		if err != nil {
			return nil, fmt.Errorf("sitemap %s: %w", req.Key(), err)
		}
		for _, loc := range doc.URLs {
			if p := sameOriginPath(loc, origin); p != "" {
				paths = append(paths, p)
			}
		}
		for _, nested := range doc.Sitemaps {
			if nested = strings.TrimSpace(nested); nested != "" {
				queue = append(queue, nested)
			}
		}
	}
	return paths, nil
}

func fetchSitemap(ctx context.Context, network Network, req *Request) (sitemapDoc, error) {
	resp, err := network.Fetch(ctx, req)
	if err != nil {
		return sitemapDoc{}, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		snippet := resp.Body
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return sitemapDoc{}, fmt.Errorf("unexpected status %d: %s", resp.Status, bytes.TrimSpace(snippet))
	}

	var doc sitemapDoc
	if err := xml.Unmarshal(gunzipIfNeeded(req, resp.Body), &doc); err != nil {
		return sitemapDoc{}, err
	}
	for i, loc := range doc.URLs {
		doc.URLs[i] = strings.TrimSpace(loc)
	}
	return doc, nil
}

// gunzipIfNeeded inflates .gz sitemaps. A body that fails to inflate is
// returned as is, since the transport may already have decoded it.
func gunzipIfNeeded(req *Request, body []byte) []byte {
	gzipped := len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b
	if !gzipped && !strings.HasSuffix(strings.ToLower(req.URL.Path), ".gz") {
		return body
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return body
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return body
	}
	return out
}

// sameOriginPath returns the root-relative form of loc, or "" when loc is
// empty, unparsable or on another host.
func sameOriginPath(loc string, origin *url.URL) string {
	loc = strings.TrimSpace(loc)
	switch {
	case loc == "":
		return ""
	case strings.HasPrefix(loc, "http://"), strings.HasPrefix(loc, "https://"):
	case strings.HasPrefix(loc, "/"):
		return loc
	default:
		return "/" + loc
	}

	u, err := url.Parse(loc)
	if err != nil || !strings.EqualFold(u.Scheme, origin.Scheme) || !strings.EqualFold(u.Host, origin.Host) {
		return ""
	}
	p := u.EscapedPath()
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}
