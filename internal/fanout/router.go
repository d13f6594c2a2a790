// Package fanout translates domain writes from non-real-time collaborators
// (ticket service, job service, alert service, activity logger) into
// room-scoped or broadcast-scoped pushes. It is a freshness accelerator over
// the pull-based source of truth: there is no retry queue, and an event a
// connection misses is recovered by that client's reconnect resync.
package fanout

import (
	"time"

	"github.com/opsdesk/internal/model"
	"github.com/opsdesk/internal/ws"
)

// Broadcaster is the transport the router publishes through. Implemented by
// *ws.Hub; tests use a recording fake.
type Broadcaster interface {
	EmitToRoom(roomID string, ev ws.OutgoingEvent)
	EmitToNamespace(namespace string, ev ws.OutgoingEvent)
}

// Notifier delivers out-of-band notifications for events that must reach
// admins even without a live tab. Nil disables it.
type Notifier interface {
	NotifyCriticalAlert(alert model.AlertEntry)
}

type Router struct {
	b        Broadcaster
	notifier Notifier
}

func NewRouter(b Broadcaster, notifier Notifier) *Router {
	return &Router{b: b, notifier: notifier}
}

// ChatMessage publishes a confirmed message to its room and nudges admin
// ticket lists. Two explicit publishes, not scope inference from the event
// name. tempID is echoed for the optimistic sender's reconciliation and is
// empty for messages that originated outside a live connection.
func (r *Router) ChatMessage(m *model.Message, tempID string) {
	r.b.EmitToRoom(m.ChatSupportID, ws.OutgoingEvent{Type: ws.EventChatNewMessage, Payload: ws.NewMessagePayload{
		ChatSupportID: m.ChatSupportID,
		Message:       m,
		TempID:        tempID,
	}})
	r.b.EmitToNamespace(ws.NamespaceAdmin, ws.OutgoingEvent{Type: ws.EventChatUpdated, Payload: ws.ChatUpdatedPayload{
		ChatSupportID: m.ChatSupportID,
		Timestamp:     m.CreatedAt,
	}})
}

// ChatUpdated publishes a status/assignment change to the room and to the
// admin namespace.
func (r *Router) ChatUpdated(chatSupportID string, updates model.ChatUpdates, at time.Time) {
	ev := ws.OutgoingEvent{Type: ws.EventChatUpdated, Payload: ws.ChatUpdatedPayload{
		ChatSupportID: chatSupportID,
		Updates:       updates,
		Timestamp:     at,
	}}
	r.b.EmitToRoom(chatSupportID, ev)
	r.b.EmitToNamespace(ws.NamespaceAdmin, ev)
}

// ChatCreated tells every admin a new conversation exists so idle dashboards
// refresh their ticket list without having joined anything.
func (r *Router) ChatCreated() {
	r.b.EmitToNamespace(ws.NamespaceAdmin, ws.OutgoingEvent{Type: ws.EventChatNew, Payload: struct{}{}})
}

// Activity broadcasts one activity-feed entry to all admin sessions.
func (r *Router) Activity(e model.ActivityEntry) {
	r.b.EmitToNamespace(ws.NamespaceAdmin, ws.OutgoingEvent{Type: ws.EventActivityNew, Payload: e})
}

// CriticalAlert broadcasts the alert and, when a notifier is configured,
// pushes it to admins without a live tab. Non-critical alerts stay pull-only.
func (r *Router) CriticalAlert(a model.AlertEntry) {
	if a.Level != model.AlertLevelCritical {
		return
	}
	r.b.EmitToNamespace(ws.NamespaceAdmin, ws.OutgoingEvent{Type: ws.EventAlertCritical, Payload: a})
	if r.notifier != nil {
		r.notifier.NotifyCriticalAlert(a)
	}
}

// JobUpdated broadcasts a coarse job-change notice.
func (r *Router) JobUpdated(jobID, updateType string) {
	r.b.EmitToNamespace(ws.NamespaceAdmin, ws.OutgoingEvent{Type: ws.EventJobUpdated, Payload: ws.JobUpdatedPayload{
		JobID:      jobID,
		UpdateType: updateType,
	}})
}
