// Package cache provides the key-value cache (get / put-with-expiry) shared
// by the key-set cache and the revocation denylist.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-valued store with per-entry expiry. Implementations must be
// safe for concurrent use.
type Cache interface {
	// Get returns the value and true when key is present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key for ttl. ttl must be positive.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
