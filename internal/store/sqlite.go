package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/outpostmail/outpost/internal/message"
)

// SQLite implements the Store interface for SQLite databases.
type SQLite struct {
	config    Config
	db        *sql.DB
	connected bool
	dbPath    string
	logger    *slog.Logger
}

// Ensure SQLite implements the Store interface
var _ Store = (*SQLite)(nil)

// NewSQLite creates a new SQLite store.
func NewSQLite(config Config) *SQLite {
	dbPath := config.Path
	if dbPath == "" {
		dbPath = "outpost.db"
	}

	return &SQLite{
		config: config,
		dbPath: dbPath,
		logger: slog.Default().With("component", "sqlite-store", "database", dbPath),
	}
}

// Connect opens the database and initializes the schema.
func (s *SQLite) Connect() error {
	if s.connected {
		return nil
	}

	dir := filepath.Dir(s.dbPath)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for SQLite database: %w", err)
		}
	}

	var err error
	s.db, err = sql.Open("sqlite3", s.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite supports only one writer at a time
	s.db.SetMaxOpenConns(1)
	s.db.SetMaxIdleConns(1)
	s.db.SetConnMaxLifetime(30 * time.Minute)

	if err := s.db.Ping(); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	if err := s.initSchema(); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}

	s.connected = true
	s.logger.Info("SQLite store connected")
	return nil
}

// initSchema creates the drafts table if it doesn't exist.
func (s *SQLite) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS drafts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			local_id TEXT NOT NULL UNIQUE,
			server_id TEXT,
			subject TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			attachment_ids TEXT,
			to_list TEXT,
			cc_list TEXT,
			bcc_list TEXT,
			action TEXT NOT NULL DEFAULT 'new',
			sender_address_id TEXT NOT NULL DEFAULT '',
			parent_id TEXT,
			password TEXT,
			password_hint TEXT,
			expires_after_seconds INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create drafts table: %w", err)
	}

	index := `CREATE INDEX IF NOT EXISTS idx_drafts_server_id ON drafts(server_id)`
	if _, err := s.db.Exec(index); err != nil {
		return fmt.Errorf("failed to create server_id index: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if !s.connected {
		return nil
	}
	s.connected = false
	return s.db.Close()
}

// IsConnected returns true if the store is connected.
func (s *SQLite) IsConnected() bool {
	return s.connected
}

// Type returns the backend type.
func (s *SQLite) Type() string {
	return "sqlite"
}

// SaveDraft inserts or updates the draft.
func (s *SQLite) SaveDraft(ctx context.Context, draft *message.Draft) error {
	if !s.connected {
		return ErrNotConnected
	}
	if draft.LocalID == "" {
		return fmt.Errorf("%w: draft has no local id", ErrInvalidInput)
	}

	args, err := draftArgs(draft, time.Now())
	if err != nil {
		return err
	}

	if draft.DBID == 0 {
		query := `
			INSERT INTO drafts (
				local_id, server_id, subject, body, attachment_ids,
				to_list, cc_list, bcc_list, action, sender_address_id, parent_id,
				password, password_hint, expires_after_seconds, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to insert draft: %w", err)
		}
		draft.DBID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get draft row id: %w", err)
		}
		return nil
	}

	query := `
		UPDATE drafts SET
			local_id = ?, server_id = ?, subject = ?, body = ?, attachment_ids = ?,
			to_list = ?, cc_list = ?, bcc_list = ?, action = ?, sender_address_id = ?,
			parent_id = ?, password = ?, password_hint = ?, expires_after_seconds = ?,
			created_at = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, append(args, draft.DBID)...)
	if err != nil {
		return fmt.Errorf("failed to update draft: %w", err)
	}
	return requireRowAffected(result)
}

// SetServerID records the server-assigned identifier for a draft.
func (s *SQLite) SetServerID(ctx context.Context, rowID int64, serverID string) error {
	if !s.connected {
		return ErrNotConnected
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET server_id = ?, updated_at = ? WHERE id = ?`,
		serverID, time.Now().Unix(), rowID)
	if err != nil {
		return fmt.Errorf("failed to set server id: %w", err)
	}
	return requireRowAffected(result)
}

// FindByRowID looks a draft up by its local row identifier.
func (s *SQLite) FindByRowID(ctx context.Context, rowID int64) (*message.Draft, error) {
	if !s.connected {
		return nil, ErrNotConnected
	}

	query := fmt.Sprintf(`SELECT %s FROM drafts WHERE id = ?`, draftColumns)
	return scanDraft(s.db.QueryRowContext(ctx, query, rowID))
}

// FindByServerID looks a draft up by its server-assigned identifier.
func (s *SQLite) FindByServerID(ctx context.Context, serverID string) (*message.Draft, error) {
	if !s.connected {
		return nil, ErrNotConnected
	}
	if serverID == "" {
		return nil, fmt.Errorf("%w: empty server id", ErrInvalidInput)
	}

	query := fmt.Sprintf(`SELECT %s FROM drafts WHERE server_id = ?`, draftColumns)
	return scanDraft(s.db.QueryRowContext(ctx, query, serverID))
}

// DeleteDraft removes a draft by row id.
func (s *SQLite) DeleteDraft(ctx context.Context, rowID int64) error {
	if !s.connected {
		return ErrNotConnected
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, rowID)
	if err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return requireRowAffected(result)
}

// requireRowAffected converts a zero-row write into ErrNotFound.
func requireRowAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
