// Package cache provides pluggable result caches used by the mapper's
// read-through lookups.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque serialized entries under string keys. A zero ttl
// means no expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
