package offline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Controller is one generation of the offline cache controller, bound to a
// single cache name. It installs the precache manifest, activates by purging
// every other cache, then answers fetches with a per-class strategy.
type Controller struct {
	id      uuid.UUID
	cfg     Config
	name    string
	origin  *url.URL
	storage *CacheStorage
	network Network

	log      zerolog.Logger
	writeLog *rateLimitedLogger
	metrics  *Metrics
	stats    *statsCollector

	// serializes Install and Activate
	lifecycle sync.Mutex
	state     atomic.Int32
	cache     atomic.Pointer[Cache]
}

type Option func(*Controller)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func withStats(s *statsCollector) Option {
	return func(c *Controller) { c.stats = s }
}

func NewController(cfg Config, storage *CacheStorage, network Network, opts ...Option) (*Controller, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	c := &Controller{
		id:      uuid.New(),
		cfg:     cfg,
		name:    cfg.CacheName(),
		origin:  cfg.Server.originURL,
		storage: storage,
		network: network,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("cache", c.name).Str("controller", c.id.String()).Logger()
	c.writeLog = newRateLimitedLogger(c.log, time.Minute)
	return c, nil
}

func (c *Controller) ID() uuid.UUID     { return c.id }
func (c *Controller) CacheName() string { return c.name }
func (c *Controller) State() State      { return State(c.state.Load()) }
func (c *Controller) setState(s State)  { c.state.Store(int32(s)) }

// Install opens the versioned cache and stores every manifest URL in it.
// Failure leaves the controller uninstalled.
func (c *Controller) Install(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	prev := c.State()
	if prev != StateNew && prev != StateInstalled {
		return fmt.Errorf("%w: install from %s", ErrInvalidState, prev)
	}
	c.setState(StateInstalling)

	start := time.Now()
	cache, n, err := c.precache(ctx)
	c.metrics.observeInstall(err)
	if err != nil {
		if prev == StateInstalled && c.storage.Has(c.name) {
			c.setState(StateInstalled)
		} else {
			c.cache.Store(nil)
			c.setState(StateNew)
		}
		c.log.Error().Err(err).Dur("took", time.Since(start)).Msg("install failed")
		return fmt.Errorf("%w: %s: %w", ErrInstallFailed, c.name, err)
	}

	c.cache.Store(cache)
	c.setState(StateInstalled)
	c.log.Info().Int("urls", n).Dur("took", time.Since(start)).Msg("installed")
	return nil
}

// resume binds a new controller to a cache an earlier process installed,
// skipping the precache fetches.
func (c *Controller) resume() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if st := c.State(); st != StateNew {
		return fmt.Errorf("%w: resume from %s", ErrInvalidState, st)
	}
	if !c.storage.Installed(c.name) {
		return fmt.Errorf("%w: %s not installed", ErrCacheNotFound, c.name)
	}
	c.cache.Store(c.storage.handle(c.name))
	c.setState(StateInstalled)
	c.log.Info().Int("entries", c.storage.handle(c.name).Len()).Msg("resumed installed cache")
	return nil
}

// Activate deletes every cache other than the current one. Deletion
// failures are logged and do not block activation.
func (c *Controller) Activate(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	switch st := c.State(); st {
	case StateActivated:
		return nil
	case StateInstalled:
	default:
		return fmt.Errorf("%w: activate from %s", ErrInvalidState, st)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.setState(StateActivating)

	deleted := 0
	for _, name := range c.storage.Keys() {
		if name == c.name {
			continue
		}
		ok, err := c.storage.Delete(name)
		if err != nil {
			c.log.Warn().Err(err).Str("stale", name).Msg("delete stale cache")
			continue
		}
		if ok {
			deleted++
			c.log.Info().Str("stale", name).Msg("deleted stale cache")
		}
	}

	c.setState(StateActivated)
	c.metrics.observeActivation(deleted)
	c.log.Info().Int("deleted", deleted).Msg("activated")
	return nil
}

// markRedundant retires a superseded controller. In-flight fetches finish,
// but no further cache writes happen.
func (c *Controller) markRedundant() {
	c.setState(StateRedundant)
	c.log.Info().Msg("redundant")
}

// HandleFetch produces the response for one intercepted request together
// with the outcome label. Before activation, and for non-GET requests, the
// network answers directly.
func (c *Controller) HandleFetch(ctx context.Context, req *Request) (*Response, string, error) {
	class := Classify(req)

	var (
		resp    *Response
		outcome string
		err     error
	)
	st := c.State()
	switch {
	case st != StateActivated && st != StateRedundant, req.Method != http.MethodGet:
		resp, outcome, err = c.passthrough(ctx, req)
	case class == ClassImage:
		resp, outcome, err = c.cacheFirst(ctx, req, true)
	case class == ClassStylesheet:
		resp, outcome, err = c.cacheFirst(ctx, req, false)
	default:
		resp, outcome, err = c.networkFirst(ctx, req)
	}

	size := 0
	if resp != nil {
		size = len(resp.Body)
	}
	c.metrics.observeFetch(class, outcome, size)
	if c.stats != nil {
		c.stats.Observe(outcome, size)
	}
	return resp, outcome, err
}

func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := NewRequest(r, c.origin)
	resp, outcome, err := c.HandleFetch(r.Context(), req)
	if err != nil {
		c.log.Debug().Err(err).Str("url", req.Key()).Msg("fetch failed")
		writeFailure(w)
		return
	}
	writeResponse(w, resp, outcome)
}
