package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/HerbHall/printfleet/pkg/plugin"
)

func openMemory(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func widgetMigrations(calls *int) []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create widgets",
			Up: func(tx *sql.Tx) error {
				*calls++
				_, err := tx.Exec(`CREATE TABLE widgets (id TEXT PRIMARY KEY)`)
				return err
			},
		},
	}
}

func TestMigrate_AppliesOnce(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	calls := 0
	for i := 0; i < 3; i++ {
		if err := s.Migrate(ctx, "widgets", widgetMigrations(&calls)); err != nil {
			t.Fatalf("Migrate #%d: %v", i, err)
		}
	}
	if calls != 1 {
		t.Errorf("migration ran %d times, want 1", calls)
	}

	if _, err := s.DB().ExecContext(ctx, `INSERT INTO widgets (id) VALUES ('w1')`); err != nil {
		t.Fatalf("insert into migrated table: %v", err)
	}
}

func TestMigrate_FailureRollsBack(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	bad := []plugin.Migration{{
		Version:     1,
		Description: "broken",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`CREATE TABLE half (id TEXT)`); err != nil {
				return err
			}
			return errors.New("boom")
		},
	}}
	if err := s.Migrate(ctx, "broken", bad); err == nil {
		t.Fatal("Migrate() error = nil, want error")
	}

	var n int
	if err := s.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'half'`).Scan(&n); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if n != 0 {
		t.Error("table from failed migration still exists")
	}
}

func TestTx_CommitAndRollback(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	calls := 0
	if err := s.Migrate(ctx, "widgets", widgetMigrations(&calls)); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	err := s.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO widgets (id) VALUES ('kept')`)
		return err
	})
	if err != nil {
		t.Fatalf("Tx commit: %v", err)
	}

	wantErr := errors.New("abort")
	err = s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO widgets (id) VALUES ('dropped')`); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Tx rollback error = %v, want %v", err, wantErr)
	}

	var n int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM widgets`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("widgets = %d, want 1", n)
	}
}
