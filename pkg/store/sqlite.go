package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

const sqliteConversationsSchemaV1 = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    version INTEGER NOT NULL DEFAULT 0,
    payload_json TEXT NOT NULL,
    updated_at_ms INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore persists conversations in a SQLite database.
//
// Storage format keeps one JSON payload per conversation row so the record
// schema can evolve without SQL column churn; title and version are
// duplicated into columns for cheap listing queries from other tools.
type SQLiteStore struct {
	mu     sync.RWMutex
	dsn    string
	store  *InMemoryStore
	db     *sql.DB
	closed bool
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite store: empty dsn")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{
		dsn:   dsn,
		store: NewInMemoryStore(),
		db:    db,
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.loadFromDB(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id conversation.ConversationID) (*conversation.Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, false, err
	}
	return s.store.Get(ctx, id)
}

func (s *SQLiteStore) List(ctx context.Context, pattern string) ([]ConversationInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s.store.List(ctx, pattern)
}

func (s *SQLiteStore) Watch(ctx context.Context) (<-chan conversation.ConversationID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s.store.Watch(ctx)
}

func (s *SQLiteStore) Put(ctx context.Context, conv *conversation.Conversation, opts SaveOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.store.Put(ctx, conv, opts); err != nil {
		return err
	}
	return s.persistLocked(ctx, conv.ID)
}

func (s *SQLiteStore) Delete(ctx context.Context, id conversation.ConversationID, opts SaveOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id, opts); err != nil {
		return err
	}
	return s.deleteRowLocked(ctx, id)
}

func (s *SQLiteStore) Rename(ctx context.Context, id conversation.ConversationID, title string, opts SaveOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.store.Rename(ctx, id, title, opts); err != nil {
		return err
	}
	return s.persistLocked(ctx, id)
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.store.Close()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	if s.db == nil {
		return fmt.Errorf("sqlite store: db is nil")
	}
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return err
	}
	if _, err := s.db.Exec(sqliteConversationsSchemaV1); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) loadFromDB() error {
	if s.db == nil {
		return fmt.Errorf("sqlite store: db is nil")
	}
	rows, err := s.db.Query(`SELECT id, payload_json FROM conversations ORDER BY id ASC`)
	if err != nil {
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var rawID string
		var payload string
		if err := rows.Scan(&rawID, &payload); err != nil {
			return err
		}

		conv := &conversation.Conversation{}
		if err := json.Unmarshal([]byte(payload), conv); err != nil {
			return err
		}

		parsedID, err := conversation.ParseConversationID(rawID)
		if err != nil {
			return err
		}
		if conv.ID.IsNull() {
			conv.ID = parsedID
		}
		if conv.ID != parsedID {
			return fmt.Errorf("sqlite store: id mismatch payload=%q row=%q", conv.ID, parsedID)
		}
		if conv.Forks == nil {
			conv.Forks = map[conversation.NodeID]*conversation.ForkEntry{}
		}
		if err := conv.Validate(); err != nil {
			return err
		}
		s.store.conversations[conv.ID] = conv.Clone()
	}
	return rows.Err()
}

func (s *SQLiteStore) persistLocked(ctx context.Context, id conversation.ConversationID) error {
	conv, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok || conv == nil {
		return s.deleteRowLocked(ctx, id)
	}
	payload, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO conversations (id, title, version, payload_json, updated_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET title = excluded.title, version = excluded.version, payload_json = excluded.payload_json, updated_at_ms = excluded.updated_at_ms`,
		conv.ID.String(),
		conv.Title,
		conv.Version,
		string(payload),
		time.Now().UnixMilli(),
	)
	return err
}

func (s *SQLiteStore) deleteRowLocked(ctx context.Context, id conversation.ConversationID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id.String())
	return err
}

func (s *SQLiteStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	if s.store == nil {
		return fmt.Errorf("sqlite store not initialized")
	}
	if s.db == nil {
		return fmt.Errorf("sqlite store db is nil")
	}
	return nil
}

// SQLiteDSNForFile builds a DSN enabling WAL journalling and a busy timeout
// for concurrent desktop windows sharing one database file.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sqlite store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}
