package prefcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/outpostmail/outpost/internal/api"
)

// Memcached implements the Cache interface for Memcached.
type Memcached struct {
	config    Config
	client    *memcache.Client
	connected bool
}

// Ensure Memcached implements the Cache interface
var _ Cache = (*Memcached)(nil)

// NewMemcached creates a Memcached cache.
func NewMemcached(config Config) *Memcached {
	if config.Port == 0 {
		config.Port = 11211
	}
	if config.Host == "" {
		config.Host = "localhost"
	}
	return &Memcached{config: config}
}

// Connect establishes the connection to Memcached.
func (m *Memcached) Connect() error {
	if m.connected {
		return nil
	}

	m.client = memcache.New(fmt.Sprintf("%s:%d", m.config.Host, m.config.Port))
	if err := m.client.Ping(); err != nil {
		return fmt.Errorf("failed to connect to Memcached: %w", err)
	}

	m.connected = true
	return nil
}

// Close releases the client. The memcache client has no explicit close.
func (m *Memcached) Close() error {
	m.connected = false
	m.client = nil
	return nil
}

// IsConnected returns true if the cache is connected.
func (m *Memcached) IsConnected() bool {
	return m.connected
}

// Type returns the backend type.
func (m *Memcached) Type() string {
	return "memcached"
}

// Get retrieves the cached key lookup for one address.
func (m *Memcached) Get(ctx context.Context, user api.Identity, email string) (api.RecipientKeys, error) {
	if !m.connected {
		return api.RecipientKeys{}, ErrNotConnected
	}

	it, err := m.client.Get(cacheKey(user, email))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return api.RecipientKeys{}, ErrNotFound
	}
	if err != nil {
		return api.RecipientKeys{}, fmt.Errorf("memcached get failed: %w", err)
	}

	var keys api.RecipientKeys
	if err := json.Unmarshal(it.Value, &keys); err != nil {
		return api.RecipientKeys{}, fmt.Errorf("failed to unmarshal cached entry: %w", err)
	}
	return keys, nil
}

// Set caches the key lookup for one address.
func (m *Memcached) Set(ctx context.Context, user api.Identity, email string, keys api.RecipientKeys, ttl time.Duration) error {
	if !m.connected {
		return ErrNotConnected
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	item := &memcache.Item{
		Key:        cacheKey(user, email),
		Value:      data,
		Expiration: int32(ttl / time.Second),
	}
	if err := m.client.Set(item); err != nil {
		return fmt.Errorf("memcached set failed: %w", err)
	}
	return nil
}

// Delete evicts one address.
func (m *Memcached) Delete(ctx context.Context, user api.Identity, email string) error {
	if !m.connected {
		return ErrNotConnected
	}

	err := m.client.Delete(cacheKey(user, email))
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return fmt.Errorf("memcached delete failed: %w", err)
	}
	return nil
}
