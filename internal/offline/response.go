package offline

import (
	"hash/crc32"
	"net/http"
	"strings"
	"time"
)

// Response is a fully buffered fetch result.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Type   ResponseType
	URL    string
}

// Clone returns a deep copy; the copy is what gets persisted.
func (r *Response) Clone() *Response {
	body := make([]byte, len(r.Body))
	copy(body, r.Body)
	return &Response{
		Status: r.Status,
		Header: cloneHeader(r.Header),
		Body:   body,
		Type:   r.Type,
		URL:    r.URL,
	}
}

// OK reports a 2xx, non-opaque response.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300 && r.Type != TypeOpaque
}

func (r *Response) toEntry(req *Request) Entry {
	ent := Entry{
		Status:   r.Status,
		Header:   cloneHeader(r.Header),
		Body:     r.Body,
		Type:     r.Type,
		URL:      r.URL,
		StoredAt: time.Now().Unix(),
		Hash32:   crc32.ChecksumIEEE(r.Body),
	}
	if names := varyNames(r.Header); len(names) > 0 {
		ent.VaryValues = make(map[string]string, len(names))
		for _, n := range names {
			ent.VaryValues[n] = req.Header.Get(n)
		}
	}
	return ent
}

func responseFromEntry(ent Entry) *Response {
	body := make([]byte, len(ent.Body))
	copy(body, ent.Body)
	return &Response{
		Status: ent.Status,
		Header: cloneHeader(ent.Header),
		Body:   body,
		Type:   ent.Type,
		URL:    ent.URL,
	}
}

func varyNames(h http.Header) []string {
	var out []string
	for _, v := range h.Values("Vary") {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, http.CanonicalHeaderKey(part))
			}
		}
	}
	return out
}

func varyMatches(ent Entry, req *Request) bool {
	for name, want := range ent.VaryValues {
		if name == "*" {
			return false
		}
		if req.Header.Get(name) != want {
			return false
		}
	}
	return true
}

const outcomeHeader = "X-Offline-Cache"

func writeResponse(w http.ResponseWriter, resp *Response, outcome string) {
	for k, vs := range resp.Header {
		if strings.EqualFold(k, outcomeHeader) {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setOutcomeHeaders(w.Header(), outcome)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func writeFailure(w http.ResponseWriter) {
	setOutcomeHeaders(w.Header(), OutcomeError)
	http.Error(w, "bad gateway", http.StatusBadGateway)
}

func setOutcomeHeaders(h http.Header, outcome string) {
	if outcome != "" {
		h.Set(outcomeHeader, outcome)
	}
	// Custom headers are unreadable from browser JS in a CORS context unless exposed.
	ensureExposedHeader(h, outcomeHeader)
}

func ensureExposedHeader(h http.Header, name string) {
	if name == "" {
		return
	}

	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}

	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}

	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}

var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") || isHopHeader(k) {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func isHopHeader(k string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(k, h) {
			return true
		}
	}
	return false
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}
