// Package store persists ButtonBindings: the keyboard button the host account
// presses in a conversation to make the official bot receive a fresh event_id.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrBindingNotFound is returned when no binding matches.
var ErrBindingNotFound = errors.New("binding not found")

// ButtonBinding is the button to press for a conversation.
type ButtonBinding struct {
	ConversationKey string    `json:"conversation_key"`
	ActionID        string    `json:"action_id"`      // button id
	ActionPayload   string    `json:"action_payload"` // callback data
	BoundID         string    `json:"bound_id,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// BindingStore is implemented by the file, sqlite, pg and redis backends.
type BindingStore interface {
	Get(ctx context.Context, key string) (*ButtonBinding, error)
	// Put inserts or replaces the binding for b.ConversationKey.
	Put(ctx context.Context, b ButtonBinding) error
	Delete(ctx context.Context, key string) error
	FindByBoundID(ctx context.Context, boundID string) (*ButtonBinding, error)
	// FindByAction returns the binding whose button matches actionID and payload.
	FindByAction(ctx context.Context, actionID, payload string) (*ButtonBinding, error)
	List(ctx context.Context) ([]ButtonBinding, error)
	Close() error
}
