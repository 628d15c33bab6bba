package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/outpostmail/outpost/internal/message"
)

// Postgres implements the Store interface for PostgreSQL databases.
type Postgres struct {
	config    Config
	db        *sql.DB
	connected bool
	logger    *slog.Logger
}

// Ensure Postgres implements the Store interface
var _ Store = (*Postgres)(nil)

// NewPostgres creates a new PostgreSQL store.
func NewPostgres(config Config) *Postgres {
	if config.Port == 0 {
		config.Port = 5432
	}
	if config.Database == "" {
		config.Database = "outpost"
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	return &Postgres{
		config: config,
		logger: slog.Default().With("component", "postgres-store", "database", config.Database),
	}
}

// Connect opens the database and initializes the schema.
func (p *Postgres) Connect() error {
	if p.connected {
		return nil
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.config.Host, p.config.Port, p.config.Username, p.config.Password,
		p.config.Database, p.config.SSLMode)

	var err error
	p.db, err = sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}

	p.db.SetMaxOpenConns(10)
	p.db.SetMaxIdleConns(5)
	p.db.SetConnMaxLifetime(30 * time.Minute)

	if err := p.db.Ping(); err != nil {
		p.db.Close()
		return fmt.Errorf("failed to ping PostgreSQL database: %w", err)
	}

	if err := p.initSchema(); err != nil {
		p.db.Close()
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}

	p.connected = true
	p.logger.Info("PostgreSQL store connected")
	return nil
}

// initSchema creates the drafts table if it doesn't exist.
func (p *Postgres) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS drafts (
			id BIGSERIAL PRIMARY KEY,
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
			expires_after_seconds BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)
	`
	if _, err := p.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create drafts table: %w", err)
	}

	index := `CREATE INDEX IF NOT EXISTS idx_drafts_server_id ON drafts(server_id)`
	if _, err := p.db.Exec(index); err != nil {
		return fmt.Errorf("failed to create server_id index: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	if !p.connected {
		return nil
	}
	p.connected = false
	return p.db.Close()
}

// IsConnected returns true if the store is connected.
func (p *Postgres) IsConnected() bool {
	return p.connected
}

// Type returns the backend type.
func (p *Postgres) Type() string {
	return "postgres"
}

// SaveDraft inserts or updates the draft.
func (p *Postgres) SaveDraft(ctx context.Context, draft *message.Draft) error {
	if !p.connected {
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
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING id
		`
		if err := p.db.QueryRowContext(ctx, query, args...).Scan(&draft.DBID); err != nil {
			return fmt.Errorf("failed to insert draft: %w", err)
		}
		return nil
	}

	query := `
		UPDATE drafts SET
			local_id = $1, server_id = $2, subject = $3, body = $4, attachment_ids = $5,
			to_list = $6, cc_list = $7, bcc_list = $8, action = $9, sender_address_id = $10,
			parent_id = $11, password = $12, password_hint = $13, expires_after_seconds = $14,
			created_at = $15, updated_at = $16
		WHERE id = $17
	`
	result, err := p.db.ExecContext(ctx, query, append(args, draft.DBID)...)
	if err != nil {
		return fmt.Errorf("failed to update draft: %w", err)
	}
	return requireRowAffected(result)
}

// SetServerID records the server-assigned identifier for a draft.
func (p *Postgres) SetServerID(ctx context.Context, rowID int64, serverID string) error {
	if !p.connected {
		return ErrNotConnected
	}

	result, err := p.db.ExecContext(ctx,
		`UPDATE drafts SET server_id = $1, updated_at = $2 WHERE id = $3`,
		serverID, time.Now().Unix(), rowID)
	if err != nil {
		return fmt.Errorf("failed to set server id: %w", err)
	}
	return requireRowAffected(result)
}

// FindByRowID looks a draft up by its local row identifier.
func (p *Postgres) FindByRowID(ctx context.Context, rowID int64) (*message.Draft, error) {
	if !p.connected {
		return nil, ErrNotConnected
	}

	query := fmt.Sprintf(`SELECT %s FROM drafts WHERE id = $1`, draftColumns)
	return scanDraft(p.db.QueryRowContext(ctx, query, rowID))
}

// FindByServerID looks a draft up by its server-assigned identifier.
func (p *Postgres) FindByServerID(ctx context.Context, serverID string) (*message.Draft, error) {
	if !p.connected {
		return nil, ErrNotConnected
	}
	if serverID == "" {
		return nil, fmt.Errorf("%w: empty server id", ErrInvalidInput)
	}

	query := fmt.Sprintf(`SELECT %s FROM drafts WHERE server_id = $1`, draftColumns)
	return scanDraft(p.db.QueryRowContext(ctx, query, serverID))
}

// DeleteDraft removes a draft by row id.
func (p *Postgres) DeleteDraft(ctx context.Context, rowID int64) error {
	if !p.connected {
		return ErrNotConnected
	}

	result, err := p.db.ExecContext(ctx, `DELETE FROM drafts WHERE id = $1`, rowID)
	if err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return requireRowAffected(result)
}
