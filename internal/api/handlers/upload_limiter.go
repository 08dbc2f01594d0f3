package handlers

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const idleLimiterTTL = 10 * time.Minute

// uploadLimiter throttles uploads per owner.
type uploadLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*ownerLimiter
	now      func() time.Time
}

type ownerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newUploadLimiter returns nil when rps is not positive, which disables throttling.
func newUploadLimiter(rps float64, burst int) *uploadLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &uploadLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*ownerLimiter),
		now:      time.Now,
	}
}

func (l *uploadLimiter) Allow(ownerID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for id, ol := range l.limiters {
		if now.Sub(ol.lastSeen) > idleLimiterTTL {
			delete(l.limiters, id)
		}
	}

	ol, ok := l.limiters[ownerID]
	if !ok {
		ol = &ownerLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ownerID] = ol
	}
	ol.lastSeen = now
	return ol.limiter.AllowN(now, 1)
}
