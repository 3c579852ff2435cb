// Package sqlite stores ButtonBindings in a local SQLite database (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/qqrelay/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS button_bindings (
	conversation_key TEXT PRIMARY KEY,
	action_id        TEXT NOT NULL,
	action_payload   TEXT NOT NULL DEFAULT '',
	bound_id         TEXT NOT NULL DEFAULT '',
	updated_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_button_bindings_bound_id ON button_bindings(bound_id);
CREATE INDEX IF NOT EXISTS idx_button_bindings_action ON button_bindings(action_id, action_payload);
`

const selectCols = `SELECT conversation_key, action_id, action_payload, bound_id, updated_at FROM button_bindings`

// BindingStore is a SQLite-backed store.BindingStore.
type BindingStore struct {
	db *sql.DB
}

// Open creates the database file (and parent dirs) and ensures the schema.
func Open(path string) (*BindingStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer; also keeps ":memory:" to a single shared database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	slog.Info("sqlite binding store initialized", "path", path)
	return &BindingStore{db: db}, nil
}

func (s *BindingStore) Get(ctx context.Context, key string) (*store.ButtonBinding, error) {
	return scanOne(s.db.QueryRowContext(ctx, selectCols+` WHERE conversation_key = ?`, key))
}

func (s *BindingStore) Put(ctx context.Context, b store.ButtonBinding) error {
	if err := store.ValidateBinding(b); err != nil {
		return err
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO button_bindings (conversation_key, action_id, action_payload, bound_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(conversation_key) DO UPDATE SET
			action_id = excluded.action_id,
			action_payload = excluded.action_payload,
			bound_id = excluded.bound_id,
			updated_at = excluded.updated_at`,
		b.ConversationKey, b.ActionID, b.ActionPayload, b.BoundID, b.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert binding: %w", err)
	}
	return nil
}

func (s *BindingStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM button_bindings WHERE conversation_key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete binding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrBindingNotFound
	}
	return nil
}

func (s *BindingStore) FindByBoundID(ctx context.Context, boundID string) (*store.ButtonBinding, error) {
	if boundID == "" {
		return nil, store.ErrBindingNotFound
	}
	return scanOne(s.db.QueryRowContext(ctx,
		selectCols+` WHERE bound_id = ? ORDER BY updated_at DESC LIMIT 1`, boundID))
}

func (s *BindingStore) FindByAction(ctx context.Context, actionID, payload string) (*store.ButtonBinding, error) {
	return scanOne(s.db.QueryRowContext(ctx,
		selectCols+` WHERE action_id = ? AND action_payload = ? ORDER BY updated_at DESC LIMIT 1`, actionID, payload))
}

func (s *BindingStore) List(ctx context.Context) ([]store.ButtonBinding, error) {
	rows, err := s.db.QueryContext(ctx, selectCols+` ORDER BY conversation_key`)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	defer rows.Close()

	var out []store.ButtonBinding
	for rows.Next() {
		var b store.ButtonBinding
		if err := rows.Scan(&b.ConversationKey, &b.ActionID, &b.ActionPayload, &b.BoundID, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *BindingStore) Close() error { return s.db.Close() }

func scanOne(row *sql.Row) (*store.ButtonBinding, error) {
	var b store.ButtonBinding
	err := row.Scan(&b.ConversationKey, &b.ActionID, &b.ActionPayload, &b.BoundID, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrBindingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan binding: %w", err)
	}
	return &b, nil
}
