// Package revocation keeps the denylist of revoked token ids. Entries live
// only as long as the token they revoke would have.
package revocation

import (
	"context"
	"time"

	"github.com/gogotex/gogotex/backend/auth-service/internal/autherr"
	"github.com/gogotex/gogotex/backend/auth-service/internal/cache"
	"github.com/gogotex/gogotex/backend/auth-service/pkg/metrics"
)

const keyPrefix = "revoked:"

// Denylist records revoked token ids in a cache.Cache.
type Denylist struct {
	store cache.Cache
	now   func() time.Time
}

// New returns a Denylist backed by store. now may be nil.
func New(store cache.Cache, now func() time.Time) *Denylist {
	if now == nil {
		now = time.Now
	}
	return &Denylist{store: store, now: now}
}

// Revoke denylists jti until exp. Tokens that already expired are skipped.
// Callers that accept tokens past exp (clock skew) must pass the later bound.
func (d *Denylist) Revoke(ctx context.Context, jti string, exp time.Time) error {
	ttl := exp.Sub(d.now())
	if ttl <= 0 {
		return nil
	}
	// whole seconds, rounded up so the entry never lapses before exp
	if rem := ttl % time.Second; rem != 0 {
		ttl += time.Second - rem
	}
	if err := d.store.Set(ctx, keyPrefix+jti, []byte("1"), ttl); err != nil {
		return autherr.Service("record revocation", err)
	}
	metrics.Revocations.Inc()
	return nil
}

// IsRevoked reports whether jti is on the denylist.
func (d *Denylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	_, ok, err := d.store.Get(ctx, keyPrefix+jti)
	if err != nil {
		return false, autherr.Service("check revocation", err)
	}
	return ok, nil
}
