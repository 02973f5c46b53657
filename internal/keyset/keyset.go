// Package keyset fetches and caches the JSON Web Key Set of an external
// identity provider. The raw document is kept in a cache.Cache so every
// replica of the service shares one copy per TTL window.
package keyset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"

	"github.com/gogotex/gogotex/backend/auth-service/internal/autherr"
	"github.com/gogotex/gogotex/backend/auth-service/internal/cache"
	"github.com/gogotex/gogotex/backend/auth-service/pkg/logger"
	"github.com/gogotex/gogotex/backend/auth-service/pkg/metrics"
)

const (
	DefaultTTL         = 60 * time.Minute
	DefaultHTTPTimeout = 10 * time.Second

	keyPrefix   = "keyset:"
	maxDocBytes = 1 << 20
)

// HTTPClient is the subset of *http.Client used to fetch key sets.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config describes one provider's key set.
type Config struct {
	// Name identifies the provider; the cache key is "keyset:<Name>".
	Name        string
	URL         string
	TTL         time.Duration
	HTTPTimeout time.Duration
}

// Cache resolves signing keys by kid, fetching the key set on a cache miss.
type Cache struct {
	cfg    Config
	store  cache.Cache
	client HTTPClient
	group  singleflight.Group
}

// New returns a key-set cache. A nil client uses a plain http.Client.
func New(cfg Config, store cache.Cache, client HTTPClient) (*Cache, error) {
	if cfg.Name == "" || cfg.URL == "" {
		return nil, fmt.Errorf("keyset: name and url are required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &Cache{cfg: cfg, store: store, client: client}, nil
}

// URL returns the key-set location.
func (c *Cache) URL() string { return c.cfg.URL }

func (c *Cache) cacheKey() string { return keyPrefix + c.cfg.Name }

// Key returns the public key matching kid and alg. Keys that declare a use
// other than "sig" or a different algorithm are ignored.
func (c *Cache) Key(ctx context.Context, kid, alg string) (any, error) {
	doc, ok := c.cached(ctx)
	if !ok {
		var err error
		if doc, err = c.fetchShared(ctx); err != nil {
			return nil, err
		}
	}
	set, err := parse(doc)
	if err != nil {
		return nil, autherr.Service("malformed key set", err)
	}
	if key := match(set, kid, alg); key != nil {
		return key, nil
	}
	return nil, autherr.KeyNotFound(kid)
}

// Refresh fetches the key set and overwrites the cached copy, e.g. after the
// provider rotated its keys.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err := c.fetchShared(ctx)
	return err
}

func (c *Cache) cached(ctx context.Context) ([]byte, bool) {
	doc, ok, err := c.store.Get(ctx, c.cacheKey())
	if err != nil {
		logger.FromContext(ctx).Warnw("key set cache read failed, fetching", "keyset", c.cfg.Name, "err", err)
		return nil, false
	}
	if ok {
		metrics.KeySetFetches.WithLabelValues(c.cfg.Name, "cache").Inc()
	}
	return doc, ok
}

// fetchShared collapses concurrent fetches for the same key set.
// fetchShared collapses concurrent fetches into one. The shared fetch must not
// die with whichever caller started it, so it keeps ctx values but drops its
// cancellation; fetch still bounds it by HTTPTimeout.
func (c *Cache) fetchShared(ctx context.Context) ([]byte, error) {
	shared := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(c.cacheKey(), func() (interface{}, error) {
		return c.fetch(shared)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Cache) fetch(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HTTPTimeout)
	defer cancel()

	doc, err := c.download(ctx)
	if err != nil {
		metrics.KeySetFetches.WithLabelValues(c.cfg.Name, "error").Inc()
		return nil, autherr.Service("fetch key set", err)
	}
	if _, err := parse(doc); err != nil {
		metrics.KeySetFetches.WithLabelValues(c.cfg.Name, "error").Inc()
		return nil, autherr.Service("malformed key set", err)
	}
	metrics.KeySetFetches.WithLabelValues(c.cfg.Name, "network").Inc()

	if err := c.store.Set(ctx, c.cacheKey(), doc, c.cfg.TTL); err != nil {
		logger.FromContext(ctx).Warnw("key set cache write failed", "keyset", c.cfg.Name, "err", err)
	}
	return doc, nil
}

func (c *Cache) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned status %d", c.cfg.URL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDocBytes))
}

// parse decodes a JWKS document. Individual keys that fail to decode (unknown
// kty, bad encoding) are skipped rather than failing the whole set.
func parse(doc []byte) ([]jose.JSONWebKey, error) {
	var raw struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, err
	}
	if raw.Keys == nil {
		return nil, fmt.Errorf("document has no keys member")
	}
	keys := make([]jose.JSONWebKey, 0, len(raw.Keys))
	for _, r := range raw.Keys {
		var k jose.JSONWebKey
		if err := k.UnmarshalJSON(r); err != nil {
			logger.Debugf("keyset: skipping undecodable key: %v", err)
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func match(keys []jose.JSONWebKey, kid, alg string) any {
	for _, k := range keys {
		if k.KeyID != kid {
			continue
		}
		if k.Algorithm != "" && k.Algorithm != alg {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if !k.IsPublic() {
			k = k.Public()
			if k.Key == nil {
				continue
			}
		}
		return k.Key
	}
	return nil
}
