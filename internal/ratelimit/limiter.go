// Package ratelimit implements a fixed-window request counter shared across
// replicas through redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter allows at most Limit hits per key within each window.
type Limiter struct {
	rdb    redis.Cmdable
	prefix string
	limit  int64
	window time.Duration
}

// New returns a limiter storing counters under prefix:key.
func New(rdb redis.Cmdable, prefix string, limit int, window time.Duration) (*Limiter, error) {
	if rdb == nil {
		return nil, fmt.Errorf("ratelimit: redis client is nil")
	}
	if limit <= 0 || window <= 0 {
		return nil, fmt.Errorf("ratelimit: limit and window must be positive")
	}
	return &Limiter{rdb: rdb, prefix: prefix, limit: int64(limit), window: window}, nil
}

// Limit reports the configured number of hits per window.
func (l *Limiter) Limit() int { return int(l.limit) }

// Allow records one hit for key and reports whether it is within the limit.
// The window starts with the first hit. INCR and EXPIRE NX run in one MULTI
// block, so a counter never survives without a TTL.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + ":" + key
	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("ratelimit: %w", err)
	}
	return incr.Val() <= l.limit, nil
}
