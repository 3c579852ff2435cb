package pg

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/qqrelay/internal/store"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBinding(row rowScanner) (*store.ButtonBinding, error) {
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
