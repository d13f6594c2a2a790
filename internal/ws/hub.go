package ws

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/internal/logger"
	"github.com/opsdesk/internal/model"
)

// ChatStore is the slice of the conversation collaborator the hub needs:
// room authorization and list-ordering touches.
type ChatStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	Touch(ctx context.Context, id string, at time.Time) error
}

// MessageStore persists messages. The hub broadcasts only what the store
// accepted; optimistic entries never cross this boundary.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
}

// Hub owns every live connection, the namespace partition and the room
// membership map. Membership is rebuilt by clients after reconnect; the hub
// never persists it.
type Hub struct {
	mu         sync.RWMutex
	namespaces map[string]map[*Client]struct{}
	rooms      map[string]map[*Client]struct{}
	memberOf   map[*Client]map[string]struct{}
	total      int
	maxConns   int
	chats      ChatStore
	msgs       MessageStore
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(chats ChatStore, msgs MessageStore, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		namespaces: make(map[string]map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		memberOf:   make(map[*Client]map[string]struct{}),
		maxConns:   maxConns,
		chats:      chats,
		msgs:       msgs,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.namespaces {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.namespaces = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.memberOf = make(map[*Client]map[string]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting admin=%s", h.maxConns, c.adminID)
		c.Close()
		return
	}
	if _, ok := h.namespaces[c.namespace]; !ok {
		h.namespaces[c.namespace] = make(map[*Client]struct{})
	}
	h.namespaces[c.namespace][c] = struct{}{}
	h.memberOf[c] = make(map[string]struct{})
	h.total++
	h.mu.Unlock()

	// Status event tells the client resync can start (room intent replay,
	// list refetch).
	h.sendToClient(c, OutgoingEvent{Type: EventConnected, Payload: "connected"})
	logger.Debugf("ws connected conn=%s admin=%s ns=%s", c.id, c.adminID, c.namespace)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.namespaces[c.namespace]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.namespaces, c.namespace)
	}
	for roomID := range h.memberOf[c] {
		h.detachLocked(c, roomID)
	}
	delete(h.memberOf, c)
	h.total--
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
	logger.Debugf("ws disconnected conn=%s admin=%s", c.id, c.adminID)
}

// detachLocked removes c from one room. Caller holds h.mu.
func (h *Hub) detachLocked(c *Client, roomID string) {
	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
	if set, ok := h.memberOf[c]; ok {
		delete(set, roomID)
	}
}

// HandleEvent dispatches incoming WebSocket events. Handlers run to
// completion on the connection's read goroutine, so events from one
// connection are processed in order.
func (h *Hub) HandleEvent(ctx context.Context, c *Client, ev IncomingEvent) {
	switch ev.Type {
	case EventJoinRoom:
		h.handleJoinRoom(ctx, c, ev)
	case EventLeaveRoom:
		h.handleLeaveRoom(c, ev)
	case EventSendMessage:
		h.handleSendMessage(ctx, c, ev)
	default:
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "unknown event type"})
	}
}

func (h *Hub) handleJoinRoom(ctx context.Context, c *Client, ev IncomingEvent) {
	if ev.ChatSupportID == "" {
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "chat_support_id required"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := h.chats.Exists(ctx, ev.ChatSupportID)
	if err != nil {
		logger.Errorf("ws join check chat=%s admin=%s: %v", ev.ChatSupportID, c.adminID, err)
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "internal error"})
		return
	}
	if !exists {
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "unknown conversation"})
		return
	}

	// Idempotent: re-join after reconnect replay is a set insert.
	h.mu.Lock()
	if _, ok := h.memberOf[c]; !ok {
		// Connection already unregistered; ignore the late join.
		h.mu.Unlock()
		return
	}
	if _, ok := h.rooms[ev.ChatSupportID]; !ok {
		h.rooms[ev.ChatSupportID] = make(map[*Client]struct{})
	}
	h.rooms[ev.ChatSupportID][c] = struct{}{}
	h.memberOf[c][ev.ChatSupportID] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) handleLeaveRoom(c *Client, ev IncomingEvent) {
	if ev.ChatSupportID == "" {
		return
	}
	// Idempotent: leaving a room never joined is a no-op.
	h.mu.Lock()
	h.detachLocked(c, ev.ChatSupportID)
	h.mu.Unlock()
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, ev IncomingEvent) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	if ev.ChatSupportID == "" || strings.TrimSpace(ev.Body) == "" {
		h.sendFailed(c, ev, "chat_support_id and body required")
		return
	}
	if !h.InRoom(c, ev.ChatSupportID) {
		h.sendFailed(c, ev, "not joined")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	m := &model.Message{
		ID:            uuid.New().String(),
		ChatSupportID: ev.ChatSupportID,
		SenderType:    model.SenderAdmin,
		SenderName:    c.adminName,
		SenderID:      c.adminID,
		Body:          ev.Body,
		CreatedAt:     now,
	}

	if err := h.msgs.Create(ctx, m); err != nil {
		logger.Errorf("ws save message chat=%s admin=%s: %v", ev.ChatSupportID, c.adminID, err)
		h.sendFailed(c, ev, "failed to save message")
		return
	}
	if err := h.chats.Touch(ctx, ev.ChatSupportID, now); err != nil {
		logger.Errorf("ws touch chat=%s: %v", ev.ChatSupportID, err)
	}

	// Two explicit publishes: the confirmation to the room (with the echoed
	// temp id for exact reconciliation), and a namespace-wide notice so admin
	// ticket lists refresh without joining the room.
	h.EmitToRoom(ev.ChatSupportID, OutgoingEvent{Type: EventChatNewMessage, Payload: NewMessagePayload{
		ChatSupportID: ev.ChatSupportID,
		Message:       m,
		TempID:        ev.TempID,
	}})
	h.EmitToNamespace(NamespaceAdmin, OutgoingEvent{Type: EventChatUpdated, Payload: ChatUpdatedPayload{
		ChatSupportID: ev.ChatSupportID,
		Timestamp:     now,
	}})
}

func (h *Hub) sendFailed(c *Client, ev IncomingEvent, reason string) {
	h.sendToClient(c, OutgoingEvent{Type: EventSendFailed, Payload: SendFailedPayload{
		ChatSupportID: ev.ChatSupportID,
		TempID:        ev.TempID,
		Reason:        reason,
	}})
}

// InRoom reports whether the connection currently belongs to the room.
func (h *Hub) InRoom(c *Client, roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set, ok := h.memberOf[c]
	if !ok {
		return false
	}
	_, joined := set[roomID]
	return joined
}

// EmitToRoom delivers an event to every connection joined to the room.
// Events for connections that are gone are simply dropped; the client's
// reconnect resync is the recovery path, not event replay.
func (h *Hub) EmitToRoom(roomID string, ev OutgoingEvent) {
	h.mu.RLock()
	members, ok := h.rooms[roomID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(members))
	for c := range members {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, ev)
	}
}

// EmitToNamespace delivers an event to every connection in the namespace.
func (h *Hub) EmitToNamespace(namespace string, ev OutgoingEvent) {
	h.mu.RLock()
	clients, ok := h.namespaces[namespace]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, ev)
	}
}

func (h *Hub) sendToClient(c *Client, ev OutgoingEvent) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client admin=%s", c.adminID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
