package offline

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// rateLimitedLogger emits at most one event per interval. Used for failures
// that can repeat once per request.
type rateLimitedLogger struct {
	log     zerolog.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	dropped int
}

func newRateLimitedLogger(log zerolog.Logger, interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{log: log, limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Warn returns nil when the event is suppressed; zerolog treats a nil
// event as disabled.
func (l *rateLimitedLogger) Warn() *zerolog.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.limiter.Allow() {
		l.dropped++
		return nil
	}
	ev := l.log.Warn()
	if l.dropped > 0 {
		ev = ev.Int("suppressed", l.dropped)
		l.dropped = 0
	}
	return ev
}
