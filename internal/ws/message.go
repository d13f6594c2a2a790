package ws

import (
	"time"

	"github.com/opsdesk/internal/model"
)

type EventType string

// Inbound (client → server).
const (
	EventJoinRoom    EventType = "join_room"
	EventLeaveRoom   EventType = "leave_room"
	EventSendMessage EventType = "send_message"
)

// Outbound (server → client).
const (
	EventChatNewMessage EventType = "chat_new_message"
	EventChatUpdated    EventType = "chat_updated"
	EventChatNew        EventType = "chat_new"
	EventSendFailed     EventType = "send_failed"
	EventActivityNew    EventType = "activity_new"
	EventAlertCritical  EventType = "alert_critical"
	EventJobUpdated     EventType = "job_updated"
	EventConnected      EventType = "connected"
	EventError          EventType = "error"
)

// Namespaces partition connections: every connection gets room-scoped events
// for rooms it joined; only the admin namespace receives broadcast events
// (activity, alerts, job updates, new-conversation notices).
const (
	NamespaceDefault = "default"
	NamespaceAdmin   = "admin"
)

// IncomingEvent is what the client sends to the server. TempID is the
// client-generated optimistic id; the server echoes it back in the
// confirmation so reconciliation is an exact lookup, never a guess.
type IncomingEvent struct {
	Type          EventType `json:"type"`
	ChatSupportID string    `json:"chat_support_id,omitempty"`
	Body          string    `json:"body,omitempty"`
	TempID        string    `json:"temp_id,omitempty"`
}

// OutgoingEvent is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// NewMessagePayload confirms a persisted message to everyone in the room.
// TempID is non-empty only for the echo of an optimistic send.
type NewMessagePayload struct {
	ChatSupportID string         `json:"chat_support_id"`
	Message       *model.Message `json:"message"`
	TempID        string         `json:"temp_id,omitempty"`
}

// ChatUpdatedPayload is broadcast when conversation status or assignment
// changes, and to the admin namespace after every new message so ticket-list
// previews refresh without joining the room.
type ChatUpdatedPayload struct {
	ChatSupportID string            `json:"chat_support_id"`
	Updates       model.ChatUpdates `json:"updates"`
	Timestamp     time.Time         `json:"timestamp"`
}

// SendFailedPayload goes only to the originating connection; the client rolls
// back its optimistic entry and restores the composer.
type SendFailedPayload struct {
	ChatSupportID string `json:"chat_support_id"`
	TempID        string `json:"temp_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// JobUpdatedPayload is deliberately coarse: clients invalidate the job list
// rather than patch rows.
type JobUpdatedPayload struct {
	JobID      string `json:"job_id"`
	UpdateType string `json:"update_type"`
}
