package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter spaces requests per host for politeness. The interval per host is the robots
// crawl-delay when one is published, the default delay otherwise.
type RateLimiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultDelay time.Duration
	log          *logrus.Entry
}

// NewRateLimiter creates a RateLimiter
func NewRateLimiter(defaultDelay time.Duration, log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultDelay: defaultDelay,
		log:          log,
	}
}

// Wait blocks until host may be requested again, or ctx ends.
// A positive minDelay replaces the host's interval (crawl-delay may arrive after the first request).
func (rl *RateLimiter) Wait(ctx context.Context, host string, minDelay time.Duration) error {
	if minDelay <= 0 {
		minDelay = rl.defaultDelay
	}
	if minDelay <= 0 {
		return nil
	}

	limiter := rl.limiterFor(host, minDelay)
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	if waited := time.Since(start); waited > time.Millisecond {
		rl.log.WithFields(logrus.Fields{"host": host, "waited": waited, "required_delay": minDelay}).Debug("Rate limit applied")
	}
	return nil
}

func (rl *RateLimiter) limiterFor(host string, interval time.Duration) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit := rate.Every(interval)
	limiter, ok := rl.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(limit, 1)
		rl.limiters[host] = limiter
		return limiter
	}
	if limiter.Limit() != limit {
		limiter.SetLimit(limit)
	}
	return limiter
}
