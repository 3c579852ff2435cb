package qqbot

import (
	"encoding/json"
	"strings"

	"github.com/nextlevelbuilder/qqrelay/internal/capability"
	"github.com/nextlevelbuilder/qqrelay/pkg/protocol"
)

// Event is a decoded dispatch. Concrete types: *MessageEvent, *InteractionEvent, *UnknownEvent.
type Event interface {
	EventType() string
}

// MessageEvent is an inbound content message (group @-mention or C2C).
type MessageEvent struct {
	Type        string
	ID          string // msg_id usable for passive replies
	ChatType    capability.ChatType
	GroupOpenID string
	AuthorID    string // member_openid in groups, user_openid in C2C
	Content     string
	Timestamp   string
}

func (e *MessageEvent) EventType() string { return e.Type }

// BoundID is the open id replies to this message go to.
func (e *MessageEvent) BoundID() string {
	if e.ChatType == capability.ChatC2C {
		return e.AuthorID
	}
	return e.GroupOpenID
}

// InteractionEvent is a button callback. ID is the event_id capability it grants.
type InteractionEvent struct {
	ID                string
	ChatType          capability.ChatType
	GroupOpenID       string
	GroupMemberOpenID string
	UserOpenID        string
	ButtonID          string
	ButtonData        string
	Timestamp         string
}

func (e *InteractionEvent) EventType() string { return protocol.EventInteraction }

// BoundID is the open id the granted event_id is scoped to.
func (e *InteractionEvent) BoundID() string {
	if e.ChatType == capability.ChatC2C {
		return e.UserOpenID
	}
	return e.GroupOpenID
}

// UnknownEvent carries any dispatch the relay does not interpret.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e *UnknownEvent) EventType() string { return e.Type }

type rawMessage struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Author  struct {
		MemberOpenID string `json:"member_openid"`
		UserOpenID   string `json:"user_openid"`
		ID           string `json:"id"`
	} `json:"author"`
	GroupOpenID string `json:"group_openid"`
	Timestamp   string `json:"timestamp"`
}

type rawInteraction struct {
	ID                string `json:"id"`
	ChatType          int    `json:"chat_type"`
	GroupOpenID       string `json:"group_openid"`
	GroupMemberOpenID string `json:"group_member_openid"`
	UserOpenID        string `json:"user_openid"`
	Timestamp         string `json:"timestamp"`
	Data              struct {
		Resolved struct {
			ButtonID   string `json:"button_id"`
			ButtonData string `json:"button_data"`
		} `json:"resolved"`
	} `json:"data"`
}

// interaction chat_type values
const (
	interactionChatGroup = 1
	interactionChatC2C   = 2
)

// DecodeEvent classifies a dispatch by its t field. Malformed payloads of known
// types decode as *UnknownEvent rather than failing.
func DecodeEvent(t string, d json.RawMessage) Event {
	switch t {
	case protocol.EventGroupAtMessage, protocol.EventC2CMessage:
		var m rawMessage
		if err := json.Unmarshal(d, &m); err != nil || m.ID == "" {
			return &UnknownEvent{Type: t, Raw: d}
		}
		ev := &MessageEvent{
			Type:        t,
			ID:          m.ID,
			GroupOpenID: m.GroupOpenID,
			Content:     strings.TrimSpace(m.Content),
			Timestamp:   m.Timestamp,
		}
		if t == protocol.EventC2CMessage {
			ev.ChatType = capability.ChatC2C
			ev.AuthorID = firstNonEmpty(m.Author.UserOpenID, m.Author.ID)
		} else {
			ev.ChatType = capability.ChatGroup
			ev.AuthorID = firstNonEmpty(m.Author.MemberOpenID, m.Author.ID)
		}
		return ev

	case protocol.EventInteraction:
		var in rawInteraction
		if err := json.Unmarshal(d, &in); err != nil || in.ID == "" {
			return &UnknownEvent{Type: t, Raw: d}
		}
		ev := &InteractionEvent{
			ID:                in.ID,
			GroupOpenID:       in.GroupOpenID,
			GroupMemberOpenID: in.GroupMemberOpenID,
			UserOpenID:        in.UserOpenID,
			ButtonID:          in.Data.Resolved.ButtonID,
			ButtonData:        in.Data.Resolved.ButtonData,
			Timestamp:         in.Timestamp,
			ChatType:          capability.ChatGroup,
		}
		if in.ChatType == interactionChatC2C || (in.ChatType != interactionChatGroup && in.GroupOpenID == "") {
			ev.ChatType = capability.ChatC2C
		}
		return ev
	}
	return &UnknownEvent{Type: t, Raw: d}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
