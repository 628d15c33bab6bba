package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/outpostmail/outpost/internal/message"
)

// MySQL implements the Store interface for MySQL databases.
type MySQL struct {
	config    Config
	db        *sql.DB
	connected bool
	logger    *slog.Logger
}

// Ensure MySQL implements the Store interface
var _ Store = (*MySQL)(nil)

// NewMySQL creates a new MySQL store.
func NewMySQL(config Config) *MySQL {
	if config.Port == 0 {
		config.Port = 3306
	}
	if config.Database == "" {
		config.Database = "outpost"
	}

	return &MySQL{
		config: config,
		logger: slog.Default().With("component", "mysql-store", "database", config.Database),
	}
}

// Connect opens the database and initializes the schema.
func (m *MySQL) Connect() error {
	if m.connected {
		return nil
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		m.config.Username, m.config.Password, m.config.Host, m.config.Port, m.config.Database)

	var err error
	m.db, err = sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open MySQL database: %w", err)
	}

	m.db.SetMaxOpenConns(10)
	m.db.SetMaxIdleConns(5)
	m.db.SetConnMaxLifetime(30 * time.Minute)

	if err := m.db.Ping(); err != nil {
		m.db.Close()
		return fmt.Errorf("failed to ping MySQL database: %w", err)
	}

	if err := m.initSchema(); err != nil {
		m.db.Close()
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}

	m.connected = true
	m.logger.Info("MySQL store connected")
	return nil
}

// initSchema creates the drafts table if it doesn't exist.
func (m *MySQL) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS drafts (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			local_id VARCHAR(255) NOT NULL UNIQUE,
			server_id VARCHAR(255),
			subject TEXT NOT NULL,
			body MEDIUMTEXT NOT NULL,
			attachment_ids TEXT,
			to_list TEXT,
			cc_list TEXT,
			bcc_list TEXT,
			action VARCHAR(32) NOT NULL DEFAULT 'new',
			sender_address_id VARCHAR(255) NOT NULL DEFAULT '',
			parent_id VARCHAR(255),
			password TEXT,
			password_hint TEXT,
			expires_after_seconds BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			INDEX idx_drafts_server_id (server_id)
		)
	`
	if _, err := m.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create drafts table: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (m *MySQL) Close() error {
	if !m.connected {
		return nil
	}
	m.connected = false
	return m.db.Close()
}

// IsConnected returns true if the store is connected.
func (m *MySQL) IsConnected() bool {
	return m.connected
}

// Type returns the backend type.
func (m *MySQL) Type() string {
	return "mysql"
}

// SaveDraft inserts or updates the draft.
func (m *MySQL) SaveDraft(ctx context.Context, draft *message.Draft) error {
	if !m.connected {
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
		result, err := m.db.ExecContext(ctx, query, args...)
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
	result, err := m.db.ExecContext(ctx, query, append(args, draft.DBID)...)
	if err != nil {
		return fmt.Errorf("failed to update draft: %w", err)
	}
	return requireRowAffected(result)
}

// SetServerID records the server-assigned identifier for a draft.
func (m *MySQL) SetServerID(ctx context.Context, rowID int64, serverID string) error {
	if !m.connected {
		return ErrNotConnected
	}

	result, err := m.db.ExecContext(ctx,
		`UPDATE drafts SET server_id = ?, updated_at = ? WHERE id = ?`,
		serverID, time.Now().Unix(), rowID)
	if err != nil {
		return fmt.Errorf("failed to set server id: %w", err)
	}
	return requireRowAffected(result)
}

// FindByRowID looks a draft up by its local row identifier.
func (m *MySQL) FindByRowID(ctx context.Context, rowID int64) (*message.Draft, error) {
	if !m.connected {
		return nil, ErrNotConnected
	}

	query := fmt.Sprintf(`SELECT %s FROM drafts WHERE id = ?`, draftColumns)
	return scanDraft(m.db.QueryRowContext(ctx, query, rowID))
}

// FindByServerID looks a draft up by its server-assigned identifier.
func (m *MySQL) FindByServerID(ctx context.Context, serverID string) (*message.Draft, error) {
	if !m.connected {
		return nil, ErrNotConnected
	}
	if serverID == "" {
		return nil, fmt.Errorf("%w: empty server id", ErrInvalidInput)
	}

	query := fmt.Sprintf(`SELECT %s FROM drafts WHERE server_id = ?`, draftColumns)
	return scanDraft(m.db.QueryRowContext(ctx, query, serverID))
}

// DeleteDraft removes a draft by row id.
func (m *MySQL) DeleteDraft(ctx context.Context, rowID int64) error {
	if !m.connected {
		return ErrNotConnected
	}

	result, err := m.db.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, rowID)
	if err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return requireRowAffected(result)
}
