// Package prefcache caches recipient key-lookup results so repeated sends
// to the same addresses skip the remote call. Cache failures are never
// fatal; the resolver falls through to the API.
package prefcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/outpostmail/outpost/internal/api"
)

// Common errors
var (
	ErrNotFound     = errors.New("address not cached")
	ErrNotConnected = errors.New("not connected to cache")
)

// DefaultTTL bounds how long a cached key lookup stays valid. Recipients
// rotate keys rarely, but a stale entry must not outlive a revocation for
// long.
const DefaultTTL = 10 * time.Minute

// Cache stores recipient key-lookup results per user and address.
type Cache interface {
	// Connect establishes the backend connection.
	Connect() error

	// Close closes the backend connection.
	Close() error

	// IsConnected returns true if the cache is connected.
	IsConnected() bool

	// Type returns the backend type ("memory", "redis", "memcached").
	Type() string

	// Get retrieves the cached key lookup for one address.
	Get(ctx context.Context, user api.Identity, email string) (api.RecipientKeys, error)

	// Set caches the key lookup for one address.
	Set(ctx context.Context, user api.Identity, email string, keys api.RecipientKeys, ttl time.Duration) error

	// Delete evicts one address.
	Delete(ctx context.Context, user api.Identity, email string) error
}

// Config selects and configures a cache backend.
type Config struct {
	Type       string `toml:"type"` // "memory", "redis", "memcached"
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	Password   string `toml:"password"`
	Database   int    `toml:"database"`    // redis only
	TTLSeconds int    `toml:"ttl_seconds"` // 0 = DefaultTTL
}

// TTL returns the configured entry lifetime.
func (c Config) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return DefaultTTL
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// New creates a cache for the configured backend type. The cache is not
// connected; callers must call Connect.
func New(cfg Config) (Cache, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(cfg), nil
	case "memcached":
		return NewMemcached(cfg), nil
	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
	}
}

// cacheKey namespaces entries by user so one user's lookups never leak into
// another's.
func cacheKey(user api.Identity, email string) string {
	return fmt.Sprintf("sendpref:%s:%s", user.UserID, email)
}
