package prefcache

import (
	"context"
	"sync"
	"time"

	"github.com/outpostmail/outpost/internal/api"
)

// item is a cached entry with expiration.
type item struct {
	keys       api.RecipientKeys
	expiration int64 // unix nanoseconds, 0 = no expiry
}

// Memory implements the Cache interface in process memory.
type Memory struct {
	items     map[string]item
	mu        sync.RWMutex
	connected bool
	janitor   *time.Ticker
	stopChan  chan struct{}
}

// Ensure Memory implements the Cache interface
var _ Cache = (*Memory)(nil)

// NewMemory creates an in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]item),
	}
}

// Connect initializes the cache and starts the expiry janitor.
func (m *Memory) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return nil
	}

	m.janitor = time.NewTicker(time.Minute)
	m.stopChan = make(chan struct{})

	go func() {
		for {
			select {
			case <-m.janitor.C:
				m.deleteExpired()
			case <-m.stopChan:
				m.janitor.Stop()
				return
			}
		}
	}()

	m.connected = true
	return nil
}

// Close stops the janitor and clears the cache.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	close(m.stopChan)
	m.items = make(map[string]item)
	m.connected = false
	return nil
}

// IsConnected returns true if the cache is connected.
func (m *Memory) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Type returns the backend type.
func (m *Memory) Type() string {
	return "memory"
}

// Get retrieves the cached key lookup for one address.
func (m *Memory) Get(ctx context.Context, user api.Identity, email string) (api.RecipientKeys, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return api.RecipientKeys{}, ErrNotConnected
	}

	it, ok := m.items[cacheKey(user, email)]
	if !ok {
		return api.RecipientKeys{}, ErrNotFound
	}
	if it.expiration > 0 && time.Now().UnixNano() > it.expiration {
		return api.RecipientKeys{}, ErrNotFound
	}
	return it.keys, nil
}

// Set caches the key lookup for one address.
func (m *Memory) Set(ctx context.Context, user api.Identity, email string, keys api.RecipientKeys, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}

	var expiration int64
	if ttl > 0 {
		expiration = time.Now().Add(ttl).UnixNano()
	}
	m.items[cacheKey(user, email)] = item{keys: keys, expiration: expiration}
	return nil
}

// Delete evicts one address.
func (m *Memory) Delete(ctx context.Context, user api.Identity, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}

	delete(m.items, cacheKey(user, email))
	return nil
}

// deleteExpired removes every expired entry.
func (m *Memory) deleteExpired() {
	now := time.Now().UnixNano()

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, it := range m.items {
		if it.expiration > 0 && now > it.expiration {
			delete(m.items, key)
		}
	}
}
