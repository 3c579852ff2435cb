package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/qqrelay/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS button_bindings (
	conversation_key VARCHAR(255) PRIMARY KEY,
	action_id        VARCHAR(255) NOT NULL,
	action_payload   VARCHAR(255) NOT NULL DEFAULT '',
	bound_id         VARCHAR(255) NOT NULL DEFAULT '',
	updated_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_button_bindings_bound_id ON button_bindings(bound_id);
CREATE INDEX IF NOT EXISTS idx_button_bindings_action ON button_bindings(action_id, action_payload);
`

const selectCols = `SELECT conversation_key, action_id, action_payload, bound_id, updated_at FROM button_bindings`

// BindingStore is a Postgres-backed store.BindingStore.
type BindingStore struct {
	db *sql.DB
}

// NewBindingStore ensures the schema on db.
func NewBindingStore(ctx context.Context, db *sql.DB) (*BindingStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create button_bindings: %w", err)
	}
	return &BindingStore{db: db}, nil
}

func (s *BindingStore) Get(ctx context.Context, key string) (*store.ButtonBinding, error) {
	return scanBinding(s.db.QueryRowContext(ctx, selectCols+` WHERE conversation_key = $1`, key))
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
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (conversation_key) DO UPDATE SET
			action_id = EXCLUDED.action_id,
			action_payload = EXCLUDED.action_payload,
			bound_id = EXCLUDED.bound_id,
			updated_at = EXCLUDED.updated_at`,
		b.ConversationKey, b.ActionID, b.ActionPayload, b.BoundID, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert binding: %w", err)
	}
	return nil
}

func (s *BindingStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM button_bindings WHERE conversation_key = $1`, key)
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
	return scanBinding(s.db.QueryRowContext(ctx,
		selectCols+` WHERE bound_id = $1 ORDER BY updated_at DESC LIMIT 1`, boundID))
}

func (s *BindingStore) FindByAction(ctx context.Context, actionID, payload string) (*store.ButtonBinding, error) {
	return scanBinding(s.db.QueryRowContext(ctx,
		selectCols+` WHERE action_id = $1 AND action_payload = $2 ORDER BY updated_at DESC LIMIT 1`, actionID, payload))
}

func (s *BindingStore) List(ctx context.Context) ([]store.ButtonBinding, error) {
	rows, err := s.db.QueryContext(ctx, selectCols+` ORDER BY conversation_key`)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	defer rows.Close()

	var out []store.ButtonBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *BindingStore) Close() error { return s.db.Close() }
