package model

import "time"

// SenderType distinguishes support agents from marketplace users in a
// support-chat transcript.
type SenderType string

const (
	SenderAdmin SenderType = "admin"
	SenderUser  SenderType = "user"
)

// Message is a persisted support-chat message. The server-assigned ID is the
// only authoritative identifier; client-generated temp ids never reach the
// database.
type Message struct {
	ID            string     `json:"id"`
	ChatSupportID string     `json:"chat_support_id"`
	SenderType    SenderType `json:"sender_type"`
	SenderName    string     `json:"sender_name"`
	SenderID      string     `json:"sender_id,omitempty"`
	Body          string     `json:"body"`
	IsRead        bool       `json:"is_read"`
	CreatedAt     time.Time  `json:"created_at"`
}
