package approval

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is an optional durable backing store for ApprovedForSession
// decisions, surviving process restarts within the same rollout home. It
// is not consulted by GetOrCompute directly; callers that want durability
// wrap Store.GetOrCompute's ask function to read/write through a SQLiteStore
// first.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) a SQLite-backed approval
// cache at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("approval: open sqlite store: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS approvals (
	conversation_id TEXT NOT NULL,
	key TEXT NOT NULL,
	decision TEXT NOT NULL,
	PRIMARY KEY (conversation_id, key)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("approval: init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the persisted decision for (conversationID, key), if any.
func (s *SQLiteStore) Get(ctx context.Context, conversationID string, key Key) (Decision, bool, error) {
	var dec string
	err := s.db.QueryRowContext(ctx,
		`SELECT decision FROM approvals WHERE conversation_id = ? AND key = ?`,
		conversationID, string(key),
	).Scan(&dec)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("approval: query sqlite store: %w", err)
	}
	return Decision(dec), true, nil
}

// Put persists a decision for (conversationID, key). Only ApprovedForSession
// decisions should ever be passed here; callers enforce that policy.
func (s *SQLiteStore) Put(ctx context.Context, conversationID string, key Key, dec Decision) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (conversation_id, key, decision) VALUES (?, ?, ?)
		 ON CONFLICT(conversation_id, key) DO UPDATE SET decision = excluded.decision`,
		conversationID, string(key), string(dec),
	)
	if err != nil {
		return fmt.Errorf("approval: persist sqlite decision: %w", err)
	}
	return nil
}

// DeleteConversation removes all persisted decisions for a conversation,
// called when a session is archived and its cache should not leak into a
// future unrelated session reusing the same key shapes.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM approvals WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("approval: clear sqlite conversation: %w", err)
	}
	return nil
}
