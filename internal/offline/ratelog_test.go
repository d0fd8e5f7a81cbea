package offline

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestRateLimitedLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := newRateLimitedLogger(zerolog.New(&buf), 50*time.Millisecond)

	l.Warn().Msg("first")
	l.Warn().Msg("dropped")
	l.Warn().Msg("dropped")
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))

	time.Sleep(60 * time.Millisecond)
	l.Warn().Msg("second")
	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"suppressed":2`)
	assert.Contains(t, out, "second")
}
