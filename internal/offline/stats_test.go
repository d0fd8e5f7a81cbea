package offline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsCollector(t *testing.T) {
	t.Parallel()

	s := newStatsCollector()
	assert.Equal(t, statsSnapshot{}, s.Snapshot())

	s.Observe(OutcomeHit, 100)
	s.Observe(OutcomeFallback, 300)
	s.Observe(OutcomeNetwork, 200)
	s.Observe(OutcomeError, 0)

	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.Hits)
	assert.Equal(t, uint64(1), snap.Fallbacks)
	assert.Equal(t, uint64(1), snap.Network)
	assert.Equal(t, uint64(1), snap.Failures)
	assert.Equal(t, uint64(3), snap.Served)
	assert.Equal(t, uint64(100), snap.MinBody)
	assert.Equal(t, uint64(300), snap.MaxBody)
	assert.Equal(t, uint64(200), snap.AvgBody)
	assert.InDelta(t, 2.0/3.0, snap.HitRatio(), 1e-9)
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "512b", formatBytes(512))
	assert.Equal(t, "1kb", formatBytes(1024))
	assert.Equal(t, "1.5kb", formatBytes(1536))
	assert.Equal(t, "2mb", formatBytes(2<<20))
	assert.Equal(t, "3gb", formatBytes(3<<30))
	assert.Equal(t, "2048gb", formatBytes(2<<40))
}
