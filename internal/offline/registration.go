package offline

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Registration owns the controller generations for one origin. It swaps in
// a newly installed version, retires the old one, and routes requests to
// whichever controller is active.
type Registration struct {
	storage *CacheStorage
	network Network
	origin  *url.URL
	log     zerolog.Logger
	metrics *Metrics
	opts    []Option

	// serializes updates
	mu         sync.Mutex
	active     atomic.Pointer[Controller]
	installing atomic.Pointer[Controller]
}

func NewRegistration(storage *CacheStorage, network Network, origin *url.URL, log zerolog.Logger, metrics *Metrics, opts ...Option) *Registration {
	return &Registration{
		storage: storage,
		network: network,
		origin:  origin,
		log:     log,
		metrics: metrics,
		opts:    opts,
	}
}

// Active returns the controller serving requests, or nil.
func (r *Registration) Active() *Controller {
	return r.active.Load()
}

// Update installs and activates the version described by cfg unless it is
// already active with its cache present. A cache already marked installed is
// activated without fetching. On failure the current controller keeps
// serving and the error is returned.
func (r *Registration) Update(ctx context.Context, cfg Config) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	cur := r.active.Load()
	if cur != nil && cur.CacheName() == cfg.CacheName() && r.storage.Has(cur.CacheName()) {
		return cur, nil
	}

	opts := append([]Option{WithLogger(r.log), WithMetrics(r.metrics)}, r.opts...)
	next, err := NewController(cfg, r.storage, r.network, opts...)
	if err != nil {
		return nil, err
	}
	// A complete cache for this version survives restarts; adopt it so an
	// unreachable origin does not leave the proxy uncontrolled.
	if r.storage.Installed(next.CacheName()) {
		if err := next.resume(); err != nil {
			return nil, err
		}
	} else {
		r.installing.Store(next)
		defer r.installing.Store(nil)

		if err := next.Install(ctx); err != nil {
			return nil, err
		}
	}
	// No clients to wait for: activate right away.
	if err := next.Activate(ctx); err != nil {
		return nil, err
	}

	r.active.Store(next)
	if cur != nil && cur != next {
		cur.markRedundant()
	}
	r.log.Info().Str("cache", next.CacheName()).Str("controller", next.ID().String()).Msg("controller active")
	return next, nil
}

// Clear deletes every cache, like the page-side clearCache helper. The
// active controller keeps running; its writes fail until the next update.
func (r *Registration) Clear(ctx context.Context) (int, error) {
	deleted := 0
	for _, name := range r.storage.Keys() {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		ok, err := r.storage.Delete(name)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	r.metrics.observeDeleted(deleted)
	r.log.Info().Int("deleted", deleted).Msg("cleared caches")
	return deleted, nil
}

// DeleteCache removes a single cache by name.
func (r *Registration) DeleteCache(name string) (bool, error) {
	ok, err := r.storage.Delete(name)
	if ok {
		r.metrics.observeDeleted(1)
	}
	return ok, err
}

type ControllerStatus struct {
	ID        string `json:"id"`
	CacheName string `json:"cacheName"`
	State     string `json:"state"`
}

type CacheStatus struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

type Status struct {
	Active       *ControllerStatus `json:"active,omitempty"`
	Installing   *ControllerStatus `json:"installing,omitempty"`
	Caches       []CacheStatus     `json:"caches"`
	StorageBytes int64             `json:"storageBytes"`
}

// Status reports the controllers and resident caches.
func (r *Registration) Status() Status {
	st := Status{Caches: []CacheStatus{}, StorageBytes: r.storage.Usage()}
	current := ""
	if c := r.active.Load(); c != nil {
		st.Active = controllerStatus(c)
		current = c.CacheName()
	}
	if c := r.installing.Load(); c != nil {
		st.Installing = controllerStatus(c)
	}
	st.Caches = storageStatus(r.storage, current)
	return st
}

func controllerStatus(c *Controller) *ControllerStatus {
	return &ControllerStatus{ID: c.ID().String(), CacheName: c.CacheName(), State: c.State().String()}
}

func storageStatus(s *CacheStorage, current string) []CacheStatus {
	out := []CacheStatus{}
	for _, name := range s.Keys() {
		out = append(out, CacheStatus{Name: name, Entries: s.handle(name).Len(), Current: name == current})
	}
	return out
}

// ServeHTTP routes to the active controller. Without one the request is not
// controlled and goes straight to the network.
func (r *Registration) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if c := r.active.Load(); c != nil {
		c.ServeHTTP(w, req)
		return
	}
	resp, err := r.network.Fetch(req.Context(), NewRequest(req, r.origin))
	if err != nil {
		r.log.Debug().Err(err).Str("path", req.URL.Path).Msg("uncontrolled fetch failed")
		writeFailure(w)
		return
	}
	writeResponse(w, resp, OutcomeBypass)
}
