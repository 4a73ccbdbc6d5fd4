// Package ratelimit provides fixed-window request rate limiting with a
// pluggable counter store. The webhook routes use the Redis store so limits
// hold across replicas; tests and single-node deployments use the in-memory
// store.
package ratelimit

import (
	"context"
	"time"
)

// Store counts requests per key within a window. Implementations must be
// safe for concurrent use.
type Store interface {
	// Increment bumps the counter for key, setting it to expire after
	// window if this is the first hit, and returns the new count.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Limiter enforces a maximum number of requests per key per window.
type Limiter struct {
	store  Store
	limit  int64
	window time.Duration
}

// NewLimiter creates a limiter allowing limit requests per window.
func NewLimiter(store Store, limit int64, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window}
}

// Allow records a hit for key and reports whether it is within the limit.
// Store errors fail open: an unreachable counter backend should not take
// down webhook ingestion.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := l.store.Increment(ctx, key, l.window)
	if err != nil {
		return true, err
	}
	return count <= l.limit, nil
}
