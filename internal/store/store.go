// Package store provides the shared SQLite database used by every module.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/HerbHall/printfleet/pkg/plugin"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Compile-time interface guard.
var _ plugin.Store = (*SQLiteStore)(nil)

// SQLiteStore implements plugin.Store backed by modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex // serializes migrations
	once sync.Once
}

// New opens (or creates) the database at path. WAL mode lets the HTTP
// handlers read while the poller writes; writes go through one connection.
func New(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	// modernc.org/sqlite takes pragmas as statements, not DSN params.
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// DB returns the underlying *sql.DB.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Path returns the file the store was opened from.
func (s *SQLiteStore) Path() string { return s.path }

// Tx runs fn in a transaction, committing when fn returns nil.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}

// Migrate applies the pending migrations of one module in ascending
// Version order. Applied versions are tracked in _migrations.
func (s *SQLiteStore) Migrate(ctx context.Context, pluginName string, migrations []plugin.Migration) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range migrations {
		var count int
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM _migrations WHERE plugin_name = ? AND version = ?",
			pluginName, m.Version,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s/%d: %w", pluginName, m.Version, err)
		}
		if count > 0 {
			continue
		}

		err = s.Tx(ctx, func(tx *sql.Tx) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO _migrations (plugin_name, version, description) VALUES (?, ?, ?)",
				pluginName, m.Version, m.Description,
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s/%d (%s): %w", pluginName, m.Version, m.Description, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ensureMigrationsTable(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		_, err = s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS _migrations (
				plugin_name TEXT     NOT NULL,
				version     INTEGER  NOT NULL,
				description TEXT     NOT NULL,
				applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (plugin_name, version)
			)
		`)
	})
	return err
}
