package store

import (
	"fmt"
	"strings"
)

// MaxFieldLength bounds every binding string column (VARCHAR(255) in SQL backends).
const MaxFieldLength = 255

// ValidateBinding checks required fields and lengths before a write.
func ValidateBinding(b ButtonBinding) error {
	if strings.TrimSpace(b.ConversationKey) == "" {
		return fmt.Errorf("binding: conversation_key is required")
	}
	if strings.TrimSpace(b.ActionID) == "" {
		return fmt.Errorf("binding %s: action_id is required", b.ConversationKey)
	}
	for name, v := range map[string]string{
		"conversation_key": b.ConversationKey,
		"action_id":        b.ActionID,
		"action_payload":   b.ActionPayload,
		"bound_id":         b.BoundID,
	} {
		if len(v) > MaxFieldLength {
			return fmt.Errorf("binding: %s too long: %d chars (max %d)", name, len(v), MaxFieldLength)
		}
	}
	return nil
}
