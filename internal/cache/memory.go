package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache implements Cache in process. Only suitable for a single
// replica: a sign-out on one instance is invisible to the others.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]time.Time
	done chan struct{}
	once sync.Once
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache() *MemoryCache {
	mc := &MemoryCache{
		data: make(map[string]time.Time),
		done: make(chan struct{}),
	}

	go mc.cleanup(time.Minute)

	return mc
}

// Set stores a key until ttl elapses
func (m *MemoryCache) Set(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = time.Now().Add(ttl)
	return nil
}

// Exists checks if a key exists and has not expired
func (m *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	expiration, exists := m.data[key]
	if !exists {
		return false, nil
	}

	return time.Now().Before(expiration), nil
}

// Ping always succeeds
func (m *MemoryCache) Ping(ctx context.Context) error {
	return nil
}

// cleanup periodically removes expired items
func (m *MemoryCache) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			now := time.Now()
			for key, expiration := range m.data {
				if now.After(expiration) {
					delete(m.data, key)
				}
			}
			m.mu.Unlock()
		case <-m.done:
			return
		}
	}
}

// Close stops the cleanup goroutine
func (m *MemoryCache) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}
