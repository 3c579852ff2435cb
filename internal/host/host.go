// Package host defines the low-capability account the relay borrows capabilities for.
package host

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/qqrelay/internal/store"
)

// Host is the caller's own messaging account. It can post plain text and press
// buttons, but cannot post markdown or rich media itself.
type Host interface {
	// SendOwnChannelMessage posts plain text into the conversation.
	SendOwnChannelMessage(ctx context.Context, conversationKey, text string) error
	// ClickButton presses the keyboard button described by b.
	ClickButton(ctx context.Context, b store.ButtonBinding) error
}

// Conversation kinds in a conversation key.
const (
	KindGroup   = "group"
	KindPrivate = "private"
)

// ParseKey splits "group:123" / "private:456" into kind and id.
// A bare id is treated as a group.
func ParseKey(key string) (kind, id string, err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", fmt.Errorf("empty conversation key")
	}
	kind, id, found := strings.Cut(key, ":")
	if !found {
		return KindGroup, key, nil
	}
	switch kind {
	case KindGroup, KindPrivate:
	default:
		return "", "", fmt.Errorf("conversation key %q: unknown kind %q", key, kind)
	}
	if id == "" {
		return "", "", fmt.Errorf("conversation key %q: empty id", key)
	}
	return kind, id, nil
}

// Key joins kind and id into a conversation key.
func Key(kind, id string) string {
	return kind + ":" + id
}

// CanonicalKey parses key and returns it in "kind:id" form, so "123" and
// "group:123" name the same conversation.
func CanonicalKey(key string) (string, error) {
	kind, id, err := ParseKey(key)
	if err != nil {
		return "", err
	}
	return Key(kind, strings.TrimSpace(id)), nil
}
