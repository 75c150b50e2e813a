// Package ratelimit provides an in-process domain.RateLimiter for
// single-instance deployments that run without Redis.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// Local keeps one token bucket per key. A bucket allows limit calls per
// window with a burst of limit.
type Local struct {
	mu      sync.Mutex
	buckets map[bucketKey]*rate.Limiter
}

type bucketKey struct {
	key    string
	limit  int
	window time.Duration
}

var _ domain.RateLimiter = (*Local)(nil)

// NewLocal creates an empty Local limiter.
func NewLocal() *Local {
	return &Local{buckets: make(map[bucketKey]*rate.Limiter)}
}

func (l *Local) bucket(key string, limit int, window time.Duration) *rate.Limiter {
	k := bucketKey{key: key, limit: limit, window: window}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[k]
	if !ok {
		b = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		l.buckets[k] = b
	}
	return b
}

// Allow reports whether a call for key may proceed now.
func (l *Local) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	return l.bucket(key, limit, window).Allow(), nil
}

// Wait blocks until a call for key may proceed or ctx is done.
func (l *Local) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if err := l.bucket(key, limit, window).Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: wait %s: %w", key, err)
	}
	return nil
}
