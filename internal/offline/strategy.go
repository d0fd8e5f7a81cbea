package offline

import (
	"context"
	"fmt"
	"hash/crc32"
)

// cacheFirst serves a cached match when there is one. On a miss it goes to
// the network, and with writeThrough stores ok responses.
func (c *Controller) cacheFirst(ctx context.Context, req *Request, writeThrough bool) (*Response, string, error) {
	if resp, ok := c.storage.Match(req); ok {
		return resp, OutcomeHit, nil
	}
	resp, err := c.network.Fetch(ctx, req)
	if err != nil {
		return nil, OutcomeError, err
	}
	if writeThrough && resp.OK() && c.store(req, resp) {
		return resp, OutcomeMiss, nil
	}
	return resp, OutcomeNetwork, nil
}

// networkFirst prefers a fresh response, storing basic 2xx ones, and falls
// back to the cache only when the fetch itself rejects.
func (c *Controller) networkFirst(ctx context.Context, req *Request) (*Response, string, error) {
	resp, err := c.network.Fetch(ctx, req)
	if err != nil {
		if cached, ok := c.storage.Match(req); ok {
			c.log.Debug().Err(err).Str("url", req.Key()).Msg("network failed, serving cache")
			return cached, OutcomeFallback, nil
		}
		return nil, OutcomeError, fmt.Errorf("%w: %s: %w", ErrNotCached, req.Key(), err)
	}
	if resp.Type == TypeBasic && resp.OK() && c.store(req, resp) {
		return resp, OutcomeMiss, nil
	}
	return resp, OutcomeNetwork, nil
}

func (c *Controller) passthrough(ctx context.Context, req *Request) (*Response, string, error) {
	resp, err := c.network.Fetch(ctx, req)
	if err != nil {
		return nil, OutcomeError, err
	}
	return resp, OutcomeBypass, nil
}

// store writes a clone of resp into the current cache. Failures are logged
// and swallowed; the caller returns resp either way.
func (c *Controller) store(req *Request, resp *Response) bool {
	cache := c.cache.Load()
	if cache == nil || c.State() == StateRedundant {
		c.metrics.observeWrite("skipped")
		return false
	}
	if cur, ok := cache.entry(req); ok && cur.Status == resp.Status && cur.Hash32 == crc32.ChecksumIEEE(resp.Body) {
		c.metrics.observeWrite("unchanged")
		return true
	}
	if err := cache.Put(req, resp.Clone()); err != nil {
		c.writeLog.Warn().Err(err).Str("url", req.Key()).Msg("cache write failed")
		c.metrics.observeWrite("error")
		return false
	}
	c.metrics.observeWrite("ok")
	return true
}
