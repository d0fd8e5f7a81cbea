package offline

import (
	"errors"
	"net/http"
)

var (
	ErrInstallFailed = errors.New("install failed")
	ErrInvalidState  = errors.New("invalid controller state")
	ErrNetwork       = errors.New("network request failed")
	ErrNotCached     = errors.New("no cached response")
	ErrNotStorable   = errors.New("response not storable")
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrCacheNotFound = errors.New("cache not found")
)

// Entry is a captured response as it lives in Cache Storage.
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	Type     ResponseType
	URL      string
	StoredAt int64 // unix seconds
	Hash32   uint32

	// VaryValues holds the request header values named by the response's Vary
	// header at the time the entry was stored. Match compares against them.
	VaryValues map[string]string
}

// ResponseType mirrors the fetch response types that matter for caching.
type ResponseType int

const (
	TypeBasic ResponseType = iota
	TypeCORS
	TypeOpaque
)

func (t ResponseType) String() string {
	switch t {
	case TypeBasic:
		return "basic"
	case TypeCORS:
		return "cors"
	case TypeOpaque:
		return "opaque"
	}
	return "unknown"
}

// RequestClass selects the caching strategy for a request.
type RequestClass int

const (
	ClassDefault RequestClass = iota
	ClassImage
	ClassStylesheet
)

func (c RequestClass) String() string {
	switch c {
	case ClassImage:
		return "image"
	case ClassStylesheet:
		return "stylesheet"
	}
	return "default"
}

// State is the lifecycle state of a Controller.
type State int32

const (
	StateNew State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	}
	return "unknown"
}

// Outcome values reported in the X-Offline-Cache response header.
const (
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeNetwork  = "network"
	OutcomeFallback = "fallback"
	OutcomeBypass   = "bypass"
	OutcomeError    = "error"
)
