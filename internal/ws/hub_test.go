package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opsdesk/internal/model"
)

type fakeChatStore struct {
	mu      sync.Mutex
	exists  map[string]bool
	err     error
	touched []string
}

func (f *fakeChatStore) Exists(_ context.Context, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.exists[id], nil
}

func (f *fakeChatStore) Touch(_ context.Context, id string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, id)
	return nil
}

type fakeMessageStore struct {
	mu      sync.Mutex
	err     error
	created []*model.Message
}

func (f *fakeMessageStore) Create(_ context.Context, m *model.Message) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, m)
	return nil
}

func newTestHub(chats *fakeChatStore, msgs *fakeMessageStore) *Hub {
	if chats == nil {
		chats = &fakeChatStore{exists: map[string]bool{}}
	}
	if msgs == nil {
		msgs = &fakeMessageStore{}
	}
	return NewHub(chats, msgs, 100)
}

// testClient builds a registered client without a network connection.
func testClient(t *testing.T, h *Hub, adminID, namespace string) *Client {
	t.Helper()
	c := NewClient(h, nil, "conn-"+adminID, adminID, "Admin "+adminID, namespace)
	h.addClient(c)
	// addClient pushes the connected status event; drain it.
	ev := recvEvent(t, c)
	if ev.Type != EventConnected {
		t.Fatalf("first event = %q, want %q", ev.Type, EventConnected)
	}
	return c
}

func recvEvent(t *testing.T, c *Client) OutgoingEvent {
	t.Helper()
	select {
	case ev := <-c.send:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return OutgoingEvent{}
	}
}

func expectNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.send:
		t.Fatalf("unexpected event %q", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJoinRoomIdempotent(t *testing.T) {
	chats := &fakeChatStore{exists: map[string]bool{"chat-1": true}}
	h := newTestHub(chats, nil)
	c := testClient(t, h, "a1", NamespaceAdmin)

	ctx := context.Background()
	h.HandleEvent(ctx, c, IncomingEvent{Type: EventJoinRoom, ChatSupportID: "chat-1"})
	h.HandleEvent(ctx, c, IncomingEvent{Type: EventJoinRoom, ChatSupportID: "chat-1"})

	if !h.InRoom(c, "chat-1") {
		t.Fatal("client not in room after join")
	}
	h.mu.RLock()
	n := len(h.rooms["chat-1"])
	h.mu.RUnlock()
	if n != 1 {
		t.Fatalf("room member count = %d, want 1", n)
	}
	expectNoEvent(t, c)
}

func TestJoinUnknownConversation(t *testing.T) {
	h := newTestHub(nil, nil)
	c := testClient(t, h, "a1", NamespaceAdmin)

	h.HandleEvent(context.Background(), c, IncomingEvent{Type: EventJoinRoom, ChatSupportID: "nope"})

	ev := recvEvent(t, c)
	if ev.Type != EventError {
		t.Fatalf("event = %q, want %q", ev.Type, EventError)
	}
	if h.InRoom(c, "nope") {
		t.Fatal("client joined a conversation that does not exist")
	}
}

func TestJoinStoreError(t *testing.T) {
	chats := &fakeChatStore{err: errors.New("db down")}
	h := newTestHub(chats, nil)
	c := testClient(t, h, "a1", NamespaceAdmin)

	h.HandleEvent(context.Background(), c, IncomingEvent{Type: EventJoinRoom, ChatSupportID: "chat-1"})

	ev := recvEvent(t, c)
	if ev.Type != EventError {
		t.Fatalf("event = %q, want %q", ev.Type, EventError)
	}
}

func TestLeaveRoomNeverJoinedIsNoop(t *testing.T) {
	h := newTestHub(nil, nil)
	c := testClient(t, h, "a1", NamespaceAdmin)

	h.HandleEvent(context.Background(), c, IncomingEvent{Type: EventLeaveRoom, ChatSupportID: "chat-1"})
	expectNoEvent(t, c)
}

func TestSendMessageRequiresMembership(t *testing.T) {
	chats := &fakeChatStore{exists: map[string]bool{"chat-1": true}}
	msgs := &fakeMessageStore{}
	h := newTestHub(chats, msgs)
	c := testClient(t, h, "a1", NamespaceAdmin)

	h.HandleEvent(context.Background(), c, IncomingEvent{
		Type: EventSendMessage, ChatSupportID: "chat-1", Body: "hi", TempID: "temp-1",
	})

	ev := recvEvent(t, c)
	if ev.Type != EventSendFailed {
		t.Fatalf("event = %q, want %q", ev.Type, EventSendFailed)
	}
	p, ok := ev.Payload.(SendFailedPayload)
	if !ok {
		t.Fatalf("payload type %T", ev.Payload)
	}
	if p.TempID != "temp-1" {
		t.Fatalf("temp_id = %q, want %q", p.TempID, "temp-1")
	}
	if len(msgs.created) != 0 {
		t.Fatal("message persisted despite membership check")
	}
}

func TestSendMessagePersistsAndFansOut(t *testing.T) {
	chats := &fakeChatStore{exists: map[string]bool{"chat-1": true}}
	msgs := &fakeMessageStore{}
	h := newTestHub(chats, msgs)

	sender := testClient(t, h, "a1", NamespaceAdmin)
	peer := testClient(t, h, "a2", NamespaceAdmin)
	outsider := testClient(t, h, "a3", NamespaceAdmin)

	ctx := context.Background()
	h.HandleEvent(ctx, sender, IncomingEvent{Type: EventJoinRoom, ChatSupportID: "chat-1"})
	h.HandleEvent(ctx, peer, IncomingEvent{Type: EventJoinRoom, ChatSupportID: "chat-1"})

	h.HandleEvent(ctx, sender, IncomingEvent{
		Type: EventSendMessage, ChatSupportID: "chat-1", Body: "hello", TempID: "temp-42",
	})

	if len(msgs.created) != 1 {
		t.Fatalf("created %d messages, want 1", len(msgs.created))
	}
	saved := msgs.created[0]
	if saved.SenderID != "a1" || saved.SenderType != model.SenderAdmin {
		t.Fatalf("sender = %s/%s, want a1/admin", saved.SenderID, saved.SenderType)
	}
	if len(chats.touched) != 1 || chats.touched[0] != "chat-1" {
		t.Fatalf("touched = %v, want [chat-1]", chats.touched)
	}

	// Both room members get the confirmation with the echoed temp id.
	for _, c := range []*Client{sender, peer} {
		ev := recvEvent(t, c)
		if ev.Type != EventChatNewMessage {
			t.Fatalf("room event = %q, want %q", ev.Type, EventChatNewMessage)
		}
		p := ev.Payload.(NewMessagePayload)
		if p.TempID != "temp-42" {
			t.Fatalf("temp_id = %q, want %q", p.TempID, "temp-42")
		}
		if p.Message == nil || p.Message.ID != saved.ID {
			t.Fatal("confirmation does not carry the persisted message")
		}
	}

	// Everyone in the admin namespace gets the list nudge, members included.
	for _, c := range []*Client{sender, peer, outsider} {
		ev := recvEvent(t, c)
		if ev.Type != EventChatUpdated {
			t.Fatalf("namespace event = %q, want %q", ev.Type, EventChatUpdated)
		}
	}
	// The outsider must not have received the room-scoped confirmation.
	expectNoEvent(t, outsider)
}

func TestSendMessageStoreFailure(t *testing.T) {
	chats := &fakeChatStore{exists: map[string]bool{"chat-1": true}}
	msgs := &fakeMessageStore{err: errors.New("insert failed")}
	h := newTestHub(chats, msgs)
	c := testClient(t, h, "a1", NamespaceAdmin)

	ctx := context.Background()
	h.HandleEvent(ctx, c, IncomingEvent{Type: EventJoinRoom, ChatSupportID: "chat-1"})
	h.HandleEvent(ctx, c, IncomingEvent{
		Type: EventSendMessage, ChatSupportID: "chat-1", Body: "hi", TempID: "temp-9",
	})

	ev := recvEvent(t, c)
	if ev.Type != EventSendFailed {
		t.Fatalf("event = %q, want %q", ev.Type, EventSendFailed)
	}
	if p := ev.Payload.(SendFailedPayload); p.TempID != "temp-9" {
		t.Fatalf("temp_id = %q, want %q", p.TempID, "temp-9")
	}
}

func TestRoomIsolation(t *testing.T) {
	chats := &fakeChatStore{exists: map[string]bool{"chat-a": true, "chat-b": true}}
	h := newTestHub(chats, nil)
	inA := testClient(t, h, "a1", NamespaceAdmin)
	inB := testClient(t, h, "a2", NamespaceAdmin)

	ctx := context.Background()
	h.HandleEvent(ctx, inA, IncomingEvent{Type: EventJoinRoom, ChatSupportID: "chat-a"})
	h.HandleEvent(ctx, inB, IncomingEvent{Type: EventJoinRoom, ChatSupportID: "chat-b"})

	h.EmitToRoom("chat-a", OutgoingEvent{Type: EventChatNewMessage})

	if ev := recvEvent(t, inA); ev.Type != EventChatNewMessage {
		t.Fatalf("event = %q, want %q", ev.Type, EventChatNewMessage)
	}
	expectNoEvent(t, inB)
}

func TestUnregisterDetachesAllRooms(t *testing.T) {
	chats := &fakeChatStore{exists: map[string]bool{"chat-a": true, "chat-b": true}}
	h := newTestHub(chats, nil)
	c := testClient(t, h, "a1", NamespaceAdmin)

	ctx := context.Background()
	h.HandleEvent(ctx, c, IncomingEvent{Type: EventJoinRoom, ChatSupportID: "chat-a"})
	h.HandleEvent(ctx, c, IncomingEvent{Type: EventJoinRoom, ChatSupportID: "chat-b"})

	h.removeClient(c)

	h.mu.RLock()
	ra, rb := h.rooms["chat-a"], h.rooms["chat-b"]
	h.mu.RUnlock()
	if len(ra) != 0 || len(rb) != 0 {
		t.Fatalf("rooms not cleaned up: a=%d b=%d", len(ra), len(rb))
	}
	if h.InRoom(c, "chat-a") {
		t.Fatal("membership survived unregister")
	}

	// A join replayed after unregister must not resurrect membership.
	h.HandleEvent(ctx, c, IncomingEvent{Type: EventJoinRoom, ChatSupportID: "chat-a"})
	if h.InRoom(c, "chat-a") {
		t.Fatal("late join after unregister re-attached the client")
	}
}

func TestConnectionLimit(t *testing.T) {
	h := NewHub(&fakeChatStore{exists: map[string]bool{}}, &fakeMessageStore{}, 1)
	first := testClient(t, h, "a1", NamespaceAdmin)
	_ = first

	second := NewClient(h, nil, "conn-a2", "a2", "Admin a2", NamespaceAdmin)
	h.addClient(second)

	select {
	case <-second.done:
	case <-time.After(time.Second):
		t.Fatal("client over the limit was not closed")
	}
	h.mu.RLock()
	total := h.total
	h.mu.RUnlock()
	if total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}
}

func TestSlowClientDisconnected(t *testing.T) {
	h := newTestHub(nil, nil)
	c := testClient(t, h, "a1", NamespaceAdmin)

	// Nobody drains c.send: filling the buffer must close the client
	// instead of blocking the emitter.
	for i := 0; i < sendBufSize+1; i++ {
		h.sendToClient(c, OutgoingEvent{Type: EventActivityNew})
	}

	select {
	case <-c.done:
	case <-time.After(time.Second):
		t.Fatal("slow client was not closed")
	}
}

func TestRunShutdownClosesClients(t *testing.T) {
	h := newTestHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	c := NewClient(h, nil, "conn-a1", "a1", "Admin a1", NamespaceAdmin)
	h.Register(c)
	if ev := recvEvent(t, c); ev.Type != EventConnected {
		t.Fatalf("event = %q, want %q", ev.Type, EventConnected)
	}

	cancel()
	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	select {
	case <-c.done:
	case <-time.After(time.Second):
		t.Fatal("client not closed on shutdown")
	}
}
