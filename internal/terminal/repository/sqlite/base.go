// Package sqlite provides the SQLite-based repository implementation.
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/caolabs/cao/internal/db"
)

// Repository provides SQLite-based storage for terminal metadata,
// inbox messages and flow records.
type Repository struct {
	db     *sqlx.DB // writer
	ro     *sqlx.DB // reader (read-only pool)
	ownsDB bool
}

// New opens the database at path and initializes the schema.
func New(path string) (*Repository, error) {
	pool, err := db.OpenSQLitePool(path)
	if err != nil {
		return nil, err
	}
	repo, err := newRepository(pool.Writer(), pool.Reader(), true)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	return repo, nil
}

// NewWithDB creates a repository with existing connections (shared ownership).
func NewWithDB(writer, reader *sqlx.DB) (*Repository, error) {
	return newRepository(writer, reader, false)
}

func newRepository(writer, reader *sqlx.DB, ownsDB bool) (*Repository, error) {
	repo := &Repository{db: writer, ro: reader, ownsDB: ownsDB}
	if err := repo.initSchema(); err != nil {
		if ownsDB {
			_ = writer.Close()
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// Close closes the database connections.
func (r *Repository) Close() error {
	if !r.ownsDB {
		return nil
	}
	err := r.db.Close()
	if r.ro != r.db {
		if roErr := r.ro.Close(); roErr != nil && err == nil {
			err = roErr
		}
	}
	return err
}

// DB returns the underlying writer for shared access.
func (r *Repository) DB() *sql.DB {
	return r.db.DB
}

// initSchema creates the database tables if they don't exist.
func (r *Repository) initSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS terminals (
		id TEXT PRIMARY KEY,
		tmux_session TEXT NOT NULL,
		tmux_window TEXT NOT NULL,
		provider TEXT NOT NULL,
		agent_profile TEXT DEFAULT '',
		delegating_agent_id TEXT DEFAULT '',
		initial_message TEXT DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		last_active TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS inbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		message TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS flows (
		name TEXT PRIMARY KEY,
		file_path TEXT NOT NULL,
		schedule TEXT NOT NULL,
		agent_profile TEXT NOT NULL,
		provider TEXT NOT NULL,
		script TEXT DEFAULT '',
		last_run TIMESTAMP,
		next_run TIMESTAMP,
		enabled INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_terminals_session ON terminals(tmux_session);
	CREATE INDEX IF NOT EXISTS idx_terminals_delegating_agent ON terminals(delegating_agent_id);
	CREATE INDEX IF NOT EXISTS idx_inbox_receiver_status ON inbox(receiver_id, status);
	CREATE INDEX IF NOT EXISTS idx_inbox_created_at ON inbox(created_at);
	CREATE INDEX IF NOT EXISTS idx_flows_next_run ON flows(next_run);
	`)
	return err
}
