// Package store provides the local message repository the pipeline reads
// drafts from. Backends exist for SQLite (default), PostgreSQL, and MySQL.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/outpostmail/outpost/internal/message"
)

// Common errors
var (
	ErrNotFound     = errors.New("draft not found")
	ErrNotConnected = errors.New("not connected to store")
	ErrInvalidInput = errors.New("invalid input")
)

// Store is the local draft repository.
type Store interface {
	// Connect establishes the backend connection and runs schema setup.
	Connect() error

	// Close closes the backend connection.
	Close() error

	// IsConnected returns true if the store is connected.
	IsConnected() bool

	// Type returns the backend type ("sqlite", "postgres", "mysql").
	Type() string

	// SaveDraft inserts the draft, assigning its row id, or updates it when
	// the row id is already set.
	SaveDraft(ctx context.Context, draft *message.Draft) error

	// SetServerID records the server-assigned identifier after a remote
	// draft upsert.
	SetServerID(ctx context.Context, rowID int64, serverID string) error

	// FindByRowID looks a draft up by its local row identifier.
	FindByRowID(ctx context.Context, rowID int64) (*message.Draft, error)

	// FindByServerID looks a draft up by its server-assigned identifier.
	FindByServerID(ctx context.Context, serverID string) (*message.Draft, error)

	// DeleteDraft removes a draft by row id.
	DeleteDraft(ctx context.Context, rowID int64) error
}

// Config selects and configures a store backend.
type Config struct {
	Type     string `toml:"type"`     // "sqlite", "postgres", "mysql"
	Path     string `toml:"path"`     // sqlite database path
	Host     string `toml:"host"`     // network backends
	Port     int    `toml:"port"`     //
	Database string `toml:"database"` //
	Username string `toml:"username"` //
	Password string `toml:"password"` //
	SSLMode  string `toml:"ssl_mode"` // postgres only
}

// Open creates a store for the configured backend type. The store is not
// connected; callers must call Connect.
func Open(cfg Config) (Store, error) {
	switch cfg.Type {
	case "", "sqlite":
		return NewSQLite(cfg), nil
	case "postgres":
		return NewPostgres(cfg), nil
	case "mysql":
		return NewMySQL(cfg), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
