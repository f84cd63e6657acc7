package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IssueLimiter throttles login code requests per identity.
type IssueLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIssueLimiter allows perHour requests per identity, all of which may be
// spent at once.
func NewIssueLimiter(perHour int) *IssueLimiter {
	perHour = max(perHour, 1)
	return &IssueLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Every(time.Hour / time.Duration(perHour)),
		burst:    perHour,
		idle:     time.Hour,
		now:      time.Now,
	}
}

func (l *IssueLimiter) Allow(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)

	e, ok := l.limiters[identity]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[identity] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// evict drops identities idle long enough for their bucket to be full again.
func (l *IssueLimiter) evict(now time.Time) {
	for id, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.idle {
			delete(l.limiters, id)
		}
	}
}
