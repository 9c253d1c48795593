package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HerbHall/printfleet/pkg/plugin"
)

// Entry is one recorded domain event.
type Entry struct {
	ID        int64           `json:"id"`
	Topic     string          `json:"topic"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Query selects recorded entries, newest first.
type Query struct {
	Topic   string
	AfterID int64
	Limit   int
}

// Store persists entries in the shared SQLite database and keeps at most
// maxEntries of them.
type Store struct {
	db         *sql.DB
	maxEntries int
}

// NewStore runs the journal migrations and returns a Store. A maxEntries
// of zero keeps every entry.
func NewStore(ctx context.Context, store plugin.Store, maxEntries int) (*Store, error) {
	if err := store.Migrate(ctx, "journal", migrations); err != nil {
		return nil, fmt.Errorf("journal migrations: %w", err)
	}
	return &Store{db: store.DB(), maxEntries: maxEntries}, nil
}

// Append stores e and sets its ID. Entries beyond the retention limit are
// pruned oldest first.
func (s *Store) Append(ctx context.Context, e *Entry) error {
	payload := []byte(e.Payload)
	if len(payload) == 0 {
		payload = nil
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO journal_events (topic, source, ts, payload) VALUES (?, ?, ?, ?)`,
		e.Topic, e.Source, e.Timestamp.UTC(), payload)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("journal entry id: %w", err)
	}
	e.ID = id

	if s.maxEntries > 0 && id > int64(s.maxEntries) {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM journal_events WHERE id <= ?`, id-int64(s.maxEntries)); err != nil {
			return fmt.Errorf("prune journal: %w", err)
		}
	}
	return nil
}

// Recent returns entries matching q, newest first.
func (s *Store) Recent(ctx context.Context, q Query) ([]Entry, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, source, ts, payload FROM journal_events
		WHERE (? = '' OR topic = ?) AND id > ?
		ORDER BY id DESC
		LIMIT ?`,
		q.Topic, q.Topic, q.AfterID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.Topic, &e.Source, &e.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		if len(payload) > 0 {
			e.Payload = json.RawMessage(payload)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var migrations = []plugin.Migration{
	{
		Version:     1,
		Description: "create journal table",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE journal_events (
					id      INTEGER PRIMARY KEY AUTOINCREMENT,
					topic   TEXT NOT NULL,
					source  TEXT NOT NULL DEFAULT '',
					ts      DATETIME NOT NULL,
					payload BLOB
				)`,
				`CREATE INDEX idx_journal_events_topic ON journal_events(topic, id)`,
			}
			for _, stmt := range stmts {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}
			return nil
		},
	},
}
