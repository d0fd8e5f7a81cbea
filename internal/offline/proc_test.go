package offline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessRSSBytes(t *testing.T) {
	t.Parallel()

	rss, ok := processRSSBytes()
	if !ok {
		t.Skip("rss not available on this platform")
	}
	assert.Positive(t, rss)
}
