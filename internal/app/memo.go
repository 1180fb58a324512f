package app

import (
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Memo caches computed values for the life of the process. Concurrent first
// calls for a key share one computation; errors are returned to every waiter
// but never cached.
type Memo struct {
	group  singleflight.Group
	mu     sync.RWMutex
	values map[string]any
	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats contains memo performance statistics.
type CacheStats struct {
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewMemo creates an empty Memo.
func NewMemo() *Memo {
	return &Memo{values: make(map[string]any)}
}

// Do returns the cached value for key, computing it with fn on a miss.
func (m *Memo) Do(key string, fn func() (any, error)) (any, error) {
	m.mu.RLock()
	v, ok := m.values[key]
	m.mu.RUnlock()
	if ok {
		m.hits.Add(1)
		return v, nil
	}
	m.misses.Add(1)

	v, err, _ := m.group.Do(key, func() (any, error) {
		// A waiter from an earlier flight may already have stored it.
		m.mu.RLock()
		cached, ok := m.values[key]
		m.mu.RUnlock()
		if ok {
			return cached, nil
		}

		v, err := fn()
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.values[key] = v
		m.mu.Unlock()
		return v, nil
	})
	return v, err
}

// Invalidate drops every entry whose key starts with prefix.
func (m *Memo) Invalidate(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			delete(m.values, k)
		}
	}
}

// Stats returns current memo statistics.
func (m *Memo) Stats() CacheStats {
	m.mu.RLock()
	entries := len(m.values)
	m.mu.RUnlock()

	hits := m.hits.Load()
	misses := m.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{Entries: entries, Hits: hits, Misses: misses, HitRate: rate}
}

// memoize is Do with a typed result.
func memoize[T any](m *Memo, key string, fn func() (T, error)) (T, error) {
	v, err := m.Do(key, func() (any, error) { return fn() })
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
