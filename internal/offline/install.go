package offline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// precache runs installation attempts with exponential backoff, up to
// install.attempts in total. Each attempt is all-or-nothing.
func (c *Controller) precache(ctx context.Context) (*Cache, int, error) {
	var (
		cache   *Cache
		n       int
		attempt int
	)
	op := func() error {
		attempt++
		var err error
		cache, n, err = c.precacheOnce(ctx)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.Install.backoffDur
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.Install.Attempts-1)), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("precache failed, retrying")
	})
	if err != nil {
		return nil, 0, err
	}
	return cache, n, nil
}

func (c *Controller) precacheOnce(ctx context.Context) (*Cache, int, error) {
	reqs, err := c.manifestRequests(ctx)
	if err != nil {
		return nil, 0, err
	}
	cache, created, err := c.storage.openCreated(c.name)
	if err != nil {
		return nil, 0, err
	}
	err = cache.AddAll(ctx, c.network, reqs, c.cfg.Precache.Concurrency)
	if err == nil {
		err = c.storage.markInstalled(c.name)
	}
	if err != nil {
		// a cache this attempt created must not outlive a failed install
		if created {
			if _, derr := c.storage.Delete(c.name); derr != nil {
				c.log.Warn().Err(derr).Msg("remove partial cache")
			}
		}
		return nil, 0, err
	}
	return cache, len(reqs), nil
}

// manifestRequests resolves configured URLs plus sitemap-discovered paths into
// GET requests, keeping the first occurrence of each key.
func (c *Controller) manifestRequests(ctx context.Context) ([]*Request, error) {
	raw := append([]string(nil), c.cfg.Precache.URLs...)
	if len(c.cfg.Precache.Sitemaps) > 0 {
		paths, err := discoverSitemapPaths(ctx, c.network, c.origin, c.cfg.Precache.Sitemaps)
		if err != nil {
			return nil, err
		}
		raw = append(raw, paths...)
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]*Request, 0, len(raw))
	for _, u := range raw {
		req, err := newGetRequest(u, c.origin)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[req.Key()]; dup {
			continue
		}
		seen[req.Key()] = struct{}{}
		out = append(out, req)
	}
	return out, nil
}
