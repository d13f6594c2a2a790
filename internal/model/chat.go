package model

import "time"

// ChatStatus is the lifecycle of a support conversation.
type ChatStatus string

const (
	ChatStatusOpen    ChatStatus = "open"
	ChatStatusPending ChatStatus = "pending"
	ChatStatusClosed  ChatStatus = "closed"
)

// ChatSupport is a support conversation between a marketplace user and the
// admin team. Its ID doubles as the room key for real-time delivery.
type ChatSupport struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	UserName   string     `json:"user_name"`
	Subject    string     `json:"subject"`
	Status     ChatStatus `json:"status"`
	AssignedTo string     `json:"assigned_to,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ChatSupportListItem is one row of the ticket list the dashboard renders:
// conversation plus preview data so the list can refresh without extra queries.
type ChatSupportListItem struct {
	Chat        ChatSupport `json:"chat"`
	LastMessage *Message    `json:"last_message,omitempty"`
	UnreadCount int         `json:"unread_count"`
}

// ChatUpdates carries the mutable conversation fields a chat_updated event
// announces. Nil fields are unchanged.
type ChatUpdates struct {
	Status     *ChatStatus `json:"status,omitempty"`
	AssignedTo *string     `json:"assigned_to,omitempty"`
}
