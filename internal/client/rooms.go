package client

import (
	"sort"
	"sync"

	"github.com/opsdesk/internal/logger"
	"github.com/opsdesk/internal/ws"
)

// Emitter is the slice of the connection manager the intent set needs.
type Emitter interface {
	Send(ev ws.IncomingEvent) error
	Status() Status
}

// RoomIntentSet holds the authoritative intent of which conversations this
// client observes, independent of transient disconnects. Server-side room
// membership is lost on every disconnect, so intent lives here and is
// replayed by ResyncAll after each reconnect.
type RoomIntentSet struct {
	mu     sync.Mutex
	intent map[string]struct{}
	em     Emitter
}

func NewRoomIntentSet(em Emitter) *RoomIntentSet {
	return &RoomIntentSet{
		intent: make(map[string]struct{}),
		em:     em,
	}
}

// Join adds the conversation to the intent set and, when connected, emits the
// join request immediately. Re-join is harmless: the id is re-emitted to be
// safe and the server treats join as a set insert.
func (r *RoomIntentSet) Join(chatSupportID string) {
	if chatSupportID == "" {
		return
	}
	r.mu.Lock()
	r.intent[chatSupportID] = struct{}{}
	r.mu.Unlock()

	if err := r.em.Send(ws.IncomingEvent{Type: ws.EventJoinRoom, ChatSupportID: chatSupportID}); err != nil {
		// Not connected: intent is recorded, ResyncAll replays it on reconnect.
		logger.Debugf("join %s deferred: %v", chatSupportID, err)
	}
}

// Leave removes the conversation from the intent set and emits the leave
// request when connected. Idempotent; a join/leave race resolves
// last-writer-wins because both are set operations server-side.
func (r *RoomIntentSet) Leave(chatSupportID string) {
	if chatSupportID == "" {
		return
	}
	r.mu.Lock()
	delete(r.intent, chatSupportID)
	r.mu.Unlock()

	if err := r.em.Send(ws.IncomingEvent{Type: ws.EventLeaveRoom, ChatSupportID: chatSupportID}); err != nil {
		logger.Debugf("leave %s dropped: %v", chatSupportID, err)
	}
}

// ResyncAll replays a join request for every id still in the intent set.
// Wired to the connection manager's OnConnect hook.
func (r *RoomIntentSet) ResyncAll() {
	for _, id := range r.Intent() {
		if err := r.em.Send(ws.IncomingEvent{Type: ws.EventJoinRoom, ChatSupportID: id}); err != nil {
			logger.Errorf("resync join %s: %v", id, err)
		}
	}
}

// Intent returns the tracked ids, sorted for deterministic replay.
func (r *RoomIntentSet) Intent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.intent))
	for id := range r.intent {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Contains reports whether the conversation is currently observed.
func (r *RoomIntentSet) Contains(chatSupportID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.intent[chatSupportID]
	return ok
}
