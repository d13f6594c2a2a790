package client

import (
	"reflect"
	"testing"

	"github.com/opsdesk/internal/ws"
)

func TestJoinRecordsIntentAndEmits(t *testing.T) {
	em := &fakeEmitter{status: StatusConnected}
	r := NewRoomIntentSet(em)

	r.Join("chat-a")
	r.Join("chat-b")

	if got := r.Intent(); !reflect.DeepEqual(got, []string{"chat-a", "chat-b"}) {
		t.Fatalf("intent = %v", got)
	}
	evs := em.events()
	if len(evs) != 2 || evs[0].Type != ws.EventJoinRoom || evs[1].Type != ws.EventJoinRoom {
		t.Fatalf("emitted = %+v", evs)
	}
}

func TestJoinWhileDisconnectedStillRecorded(t *testing.T) {
	em := &fakeEmitter{status: StatusDisconnected, err: ErrNotConnected}
	r := NewRoomIntentSet(em)

	r.Join("chat-a")

	if !r.Contains("chat-a") {
		t.Fatal("intent lost because the emit failed")
	}
}

func TestLeaveRemovesIntent(t *testing.T) {
	em := &fakeEmitter{status: StatusConnected}
	r := NewRoomIntentSet(em)

	r.Join("chat-a")
	r.Join("chat-b")
	r.Leave("chat-a")

	if got := r.Intent(); !reflect.DeepEqual(got, []string{"chat-b"}) {
		t.Fatalf("intent = %v", got)
	}
	// Leaving something never joined is harmless.
	r.Leave("chat-zz")
	if got := r.Intent(); !reflect.DeepEqual(got, []string{"chat-b"}) {
		t.Fatalf("intent = %v after noop leave", got)
	}
}

func TestResyncReplaysExactIntent(t *testing.T) {
	em := &fakeEmitter{status: StatusConnected}
	r := NewRoomIntentSet(em)

	r.Join("chat-a")
	r.Join("chat-b")
	r.Join("chat-c")
	r.Leave("chat-c")

	em.mu.Lock()
	em.sent = nil
	em.mu.Unlock()

	r.ResyncAll()

	var replayed []string
	for _, ev := range em.events() {
		if ev.Type != ws.EventJoinRoom {
			t.Fatalf("resync emitted %q", ev.Type)
		}
		replayed = append(replayed, ev.ChatSupportID)
	}
	// Exactly {a, b}: c was left before the reconnect and must not come back.
	if !reflect.DeepEqual(replayed, []string{"chat-a", "chat-b"}) {
		t.Fatalf("replayed = %v, want [chat-a chat-b]", replayed)
	}
}

func TestRejoinIdempotent(t *testing.T) {
	em := &fakeEmitter{status: StatusConnected}
	r := NewRoomIntentSet(em)

	r.Join("chat-a")
	r.Join("chat-a")

	if got := r.Intent(); !reflect.DeepEqual(got, []string{"chat-a"}) {
		t.Fatalf("intent = %v", got)
	}
}
