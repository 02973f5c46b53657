package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// sweepInterval is the minimum time between full scans for expired entries.
const sweepInterval = time.Minute

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process Cache. Entries expire lazily on Get, and Set
// drops every expired entry at most once per sweepInterval, so keys that are
// never read again do not accumulate. It is used when no Redis is configured
// and in tests.
type MemoryCache struct {
	mu        sync.RWMutex
	entries   map[string]memoryEntry
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryCache returns an empty cache. now may be nil.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{entries: map[string]memoryEntry{}, now: now, lastSweep: now()}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		m.mu.Lock()
		// re-check: a concurrent Set may have refreshed the entry
		if cur, ok := m.entries[key]; ok && !m.now().Before(cur.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("memory set %s: non-positive ttl %s", key, ttl)
	}
	v := make([]byte, len(value))
	copy(v, value)
	now := m.now()
	m.mu.Lock()
	if now.Sub(m.lastSweep) >= sweepInterval {
		m.sweep(now)
	}
	m.entries[key] = memoryEntry{value: v, expiresAt: now.Add(ttl)}
	m.mu.Unlock()
	return nil
}

// sweep deletes expired entries. m.mu must be held for writing.
func (m *MemoryCache) sweep(now time.Time) {
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	m.lastSweep = now
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
