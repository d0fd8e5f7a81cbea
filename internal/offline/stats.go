package offline

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
)

// statsCollector aggregates what the periodic stats log line reports:
// outcome counts and the size spread of response bodies handed to clients.
type statsCollector struct {
	hits      atomic.Uint64
	network   atomic.Uint64
	fallbacks atomic.Uint64
	failures  atomic.Uint64

	served    atomic.Uint64
	bodyBytes atomic.Uint64
	minBody   atomic.Uint64
	maxBody   atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{}
	s.minBody.Store(math.MaxUint64)
	return s
}

func (s *statsCollector) Observe(outcome string, bodyBytes int) {
	switch outcome {
	case OutcomeHit:
		s.hits.Add(1)
	case OutcomeMiss, OutcomeNetwork, OutcomeBypass:
		s.network.Add(1)
	case OutcomeFallback:
		s.fallbacks.Add(1)
	case OutcomeError:
		s.failures.Add(1)
		return
	}
	if bodyBytes < 0 {
		bodyBytes = 0
	}
	n := uint64(bodyBytes)
	s.served.Add(1)
	s.bodyBytes.Add(n)
	casMin(&s.minBody, n)
	casMax(&s.maxBody, n)
}

func casMin(v *atomic.Uint64, n uint64) {
	for {
		cur := v.Load()
		if n >= cur || v.CompareAndSwap(cur, n) {
			return
		}
	}
}

func casMax(v *atomic.Uint64, n uint64) {
	for {
		cur := v.Load()
		if n <= cur || v.CompareAndSwap(cur, n) {
			return
		}
	}
}

type statsSnapshot struct {
	Hits      uint64
	Network   uint64
	Fallbacks uint64
	Failures  uint64

	Served  uint64
	MinBody uint64
	MaxBody uint64
	AvgBody uint64
}

func (s *statsCollector) Snapshot() statsSnapshot {
	snap := statsSnapshot{
		Hits:      s.hits.Load(),
		Network:   s.network.Load(),
		Fallbacks: s.fallbacks.Load(),
		Failures:  s.failures.Load(),
		Served:    s.served.Load(),
	}
	if snap.Served == 0 {
		return snap
	}
	snap.MinBody = s.minBody.Load()
	if snap.MinBody == math.MaxUint64 {
		snap.MinBody = 0
	}
	snap.MaxBody = s.maxBody.Load()
	snap.AvgBody = s.bodyBytes.Load() / snap.Served
	return snap
}

// HitRatio is the share of served responses that came from a cache,
// fallbacks included.
func (s statsSnapshot) HitRatio() float64 {
	if s.Served == 0 {
		return 0
	}
	return float64(s.Hits+s.Fallbacks) / float64(s.Served)
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%db", b)
	}
	v := float64(b)
	for _, suffix := range []string{"kb", "mb", "gb"} {
		v /= unit
		if v < unit || suffix == "gb" {
			return strings.TrimSuffix(fmt.Sprintf("%.1f", v), ".0") + suffix
		}
	}
	return fmt.Sprintf("%db", b)
}
