package offline

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

// Service wires storage, the origin network and the registration together
// and runs the background loops of a long-lived proxy.
type Service struct {
	log zerolog.Logger

	cfgMu sync.Mutex
	cfg   Config

	storage *CacheStorage
	network Network
	reg     *Registration
	metrics *Metrics
	stats   *statsCollector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type serviceOptions struct {
	client  *http.Client
	network Network
}

type ServiceOption func(*serviceOptions)

// WithHTTPClient replaces the origin client (e.g. to use a custom transport).
func WithHTTPClient(c *http.Client) ServiceOption {
	return func(o *serviceOptions) { o.client = c }
}

// WithNetwork replaces the origin network entirely.
func WithNetwork(n Network) ServiceOption {
	return func(o *serviceOptions) { o.network = n }
}

func NewService(cfg Config, log zerolog.Logger, opts ...ServiceOption) (*Service, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	var o serviceOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = &http.Client{Timeout: cfg.Server.fetchTimeoutDur}
	}
	if o.network == nil {
		o.network = NewHTTPNetwork(o.client, cfg.Server.originURL)
	}

	storage, err := OpenStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}

	s := &Service{
		log:     log,
		cfg:     cfg,
		storage: storage,
		network: o.network,
		metrics: NewMetrics(),
		stats:   newStatsCollector(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.reg = NewRegistration(storage, o.network, cfg.Server.originURL, log, s.metrics, withStats(s.stats))
	return s, nil
}

// Start launches the install and stats loops.
func (s *Service) Start() {
	cfg := s.config()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.installLoop(cfg.Install.retryEveryDur)
	}()

	if cfg.Logging.logStatsEveryDur > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(cfg.Logging.logStatsEveryDur)
		}()
	}
}

func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
	if err := s.storage.Close(); err != nil {
		s.log.Warn().Err(err).Msg("close storage")
	}
}

func (s *Service) Handler() http.Handler {
	return s.reg
}

func (s *Service) Registration() *Registration {
	return s.reg
}

func (s *Service) Metrics() *Metrics {
	return s.metrics
}

func (s *Service) config() Config {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg
}

// Install brings the configured version to active, synchronously.
func (s *Service) Install(ctx context.Context) (*Controller, error) {
	return s.reg.Update(ctx, s.config())
}

// Reload switches to a new configuration. Only the controller settings
// (project, version, precache, install) take effect; server and storage
// settings need a restart.
func (s *Service) Reload(ctx context.Context, cfg Config) error {
	if err := cfg.normalize(); err != nil {
		return err
	}
	s.cfgMu.Lock()
	old := s.cfg
	cfg.Server = old.Server
	cfg.Storage = old.Storage
	s.cfg = cfg
	s.cfgMu.Unlock()

	_, err := s.reg.Update(ctx, cfg)
	return err
}

// installLoop keeps retrying installation of the configured version until it
// is active, then keeps checking that its cache still exists.
func (s *Service) installLoop(every time.Duration) {
	s.ensureCurrent()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.ensureCurrent()
		}
	}
}

func (s *Service) ensureCurrent() {
	cfg := s.config()
	if c := s.reg.Active(); c != nil && c.CacheName() == cfg.CacheName() && s.storage.Has(c.CacheName()) {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()
	if _, err := s.reg.Update(ctx, cfg); err != nil {
		s.log.Error().Err(err).Str("cache", cfg.CacheName()).Msg("update failed, previous controller keeps serving")
		reportError(err, cfg.CacheName())
	}
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.logStats()
		}
	}
}

func (s *Service) logStats() {
	ss := s.stats.Snapshot()
	caches := storageStatus(s.storage, "")
	entries := 0
	for _, c := range caches {
		entries += c.Entries
	}
	ev := s.log.Info().
		Int("caches", len(caches)).
		Int("entries", entries).
		Str("storage", formatBytes(uint64(s.storage.Usage()))).
		Uint64("hits", ss.Hits).
		Uint64("network", ss.Network).
		Uint64("fallbacks", ss.Fallbacks).
		Uint64("failures", ss.Failures).
		Float64("hit_ratio", ss.HitRatio()).
		Str("body_min", formatBytes(ss.MinBody)).
		Str("body_avg", formatBytes(ss.AvgBody)).
		Str("body_max", formatBytes(ss.MaxBody))
	if t, ok := s.storage.b.(*ramTier); ok {
		ev = ev.Str("ram", formatBytes(uint64(t.ram.TotalSize()))).Int("ram_entries", t.ram.Len())
	}
	if rss, ok := processRSSBytes(); ok {
		ev = ev.Str("rss", formatBytes(rss))
	}
	ev.Msg("cache stats")
}

// reportError forwards err to sentry. Without sentry.Init it does nothing.
func reportError(err error, cache string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("cache", cache)
		sentry.CaptureException(err)
	})
}
