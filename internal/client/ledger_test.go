package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opsdesk/internal/model"
	"github.com/opsdesk/internal/ws"
)

// fakeEmitter records emitted events and plays a fixed connection status.
type fakeEmitter struct {
	mu     sync.Mutex
	status Status
	sent   []ws.IncomingEvent
	err    error
}

func (f *fakeEmitter) Send(ev ws.IncomingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeEmitter) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeEmitter) events() []ws.IncomingEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ws.IncomingEvent, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeRESTSender struct {
	mu     sync.Mutex
	err    error
	sent   []string
	nextID string
}

func (f *fakeRESTSender) SendMessage(_ context.Context, chatSupportID, body string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, body)
	id := f.nextID
	if id == "" {
		id = "rest-msg"
	}
	return &model.Message{
		ID:            id,
		ChatSupportID: chatSupportID,
		Body:          body,
		SenderID:      "a1",
		SenderType:    model.SenderAdmin,
		CreatedAt:     time.Now(),
	}, nil
}

func TestSendOptimistic(t *testing.T) {
	em := &fakeEmitter{status: StatusConnected}
	l := NewLedger(em, "a1", "Alice")

	tempID, err := l.Send(context.Background(), "chat-1", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if tempID == "" {
		t.Fatal("expected a temp id")
	}

	pending := l.Pending("chat-1")
	if len(pending) != 1 || pending[0].TempID != tempID || pending[0].Body != "hello" {
		t.Fatalf("pending = %+v", pending)
	}
	evs := em.events()
	if len(evs) != 1 || evs[0].Type != ws.EventSendMessage || evs[0].TempID != tempID {
		t.Fatalf("emitted = %+v", evs)
	}
}

func TestConfirmationResolvesByTempID(t *testing.T) {
	em := &fakeEmitter{status: StatusConnected}
	l := NewLedger(em, "a1", "Alice")

	tempID, _ := l.Send(context.Background(), "chat-1", "hello")

	l.HandleConfirmed(ws.NewMessagePayload{
		ChatSupportID: "chat-1",
		TempID:        tempID,
		Message: &model.Message{
			ID: "m1", ChatSupportID: "chat-1", Body: "hello", SenderID: "a1",
		},
	})

	if n := len(l.Pending("chat-1")); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
	msgs := l.Messages("chat-1")
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestConfirmationRecencyFallback(t *testing.T) {
	em := &fakeEmitter{status: StatusConnected}
	l := NewLedger(em, "a1", "Alice")

	first, _ := l.Send(context.Background(), "chat-1", "first")
	second, _ := l.Send(context.Background(), "chat-1", "second")

	// No temp id echoed: the oldest in-flight entry is the one resolved.
	l.HandleConfirmed(ws.NewMessagePayload{
		ChatSupportID: "chat-1",
		Message:       &model.Message{ID: "m1", ChatSupportID: "chat-1", Body: "first", SenderID: "a1"},
	})

	pending := l.Pending("chat-1")
	if len(pending) != 1 || pending[0].TempID != second {
		t.Fatalf("pending = %+v, want only %s", pending, second)
	}
	_ = first
}

func TestConfirmationFromOtherSenderKeepsPending(t *testing.T) {
	em := &fakeEmitter{status: StatusConnected}
	l := NewLedger(em, "a1", "Alice")

	l.Send(context.Background(), "chat-1", "mine")

	// Another admin's message in the same conversation must not consume our
	// optimistic entry.
	l.HandleConfirmed(ws.NewMessagePayload{
		ChatSupportID: "chat-1",
		Message:       &model.Message{ID: "m2", ChatSupportID: "chat-1", Body: "theirs", SenderID: "a2"},
	})

	if n := len(l.Pending("chat-1")); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}
	if msgs := l.Messages("chat-1"); len(msgs) != 1 || msgs[0].ID != "m2" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestDuplicateConfirmationAbsorbed(t *testing.T) {
	em := &fakeEmitter{status: StatusConnected}
	l := NewLedger(em, "a1", "Alice")

	p := ws.NewMessagePayload{
		ChatSupportID: "chat-1",
		Message:       &model.Message{ID: "m1", ChatSupportID: "chat-1", Body: "hi"},
	}
	l.HandleConfirmed(p)
	l.HandleConfirmed(p)

	if msgs := l.Messages("chat-1"); len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1 (duplicate id must be absorbed)", len(msgs))
	}
}

func TestTimeoutRollsBackAndRestoresComposer(t *testing.T) {
	em := &fakeEmitter{status: StatusConnected}
	restored := make(chan string, 1)
	failed := make(chan string, 1)
	l := NewLedger(em, "a1", "Alice",
		WithSendTimeout(20*time.Millisecond),
		WithComposerRestore(func(_, body string) { restored <- body }),
		WithFailureHandler(func(_, tempID string) { failed <- tempID }),
	)

	tempID, err := l.Send(context.Background(), "chat-1", "lost forever?")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case body := <-restored:
		if body != "lost forever?" {
			t.Fatalf("restored %q, want the original text", body)
		}
	case <-time.After(time.Second):
		t.Fatal("composer restore never ran")
	}
	select {
	case got := <-failed:
		if got != tempID {
			t.Fatalf("failure handler got %q, want %q", got, tempID)
		}
	case <-time.After(time.Second):
		t.Fatal("failure handler never ran")
	}
	if n := len(l.Pending("chat-1")); n != 0 {
		t.Fatalf("pending = %d, want 0 after timeout", n)
	}
}

func TestLateConfirmationAfterTimeout(t *testing.T) {
	em := &fakeEmitter{status: StatusConnected}
	l := NewLedger(em, "a1", "Alice", WithSendTimeout(10*time.Millisecond))

	tempID, _ := l.Send(context.Background(), "chat-1", "slow")
	time.Sleep(50 * time.Millisecond)

	// Confirmation arriving after the rollback: appended as a normal
	// confirmed message, no pending entry to resolve.
	l.HandleConfirmed(ws.NewMessagePayload{
		ChatSupportID: "chat-1",
		TempID:        tempID,
		Message:       &model.Message{ID: "m1", ChatSupportID: "chat-1", Body: "slow", SenderID: "a1"},
	})

	if msgs := l.Messages("chat-1"); len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestServerRejectionRollsBack(t *testing.T) {
	em := &fakeEmitter{status: StatusConnected}
	restored := make(chan string, 1)
	l := NewLedger(em, "a1", "Alice",
		WithComposerRestore(func(_, body string) { restored <- body }),
	)

	tempID, _ := l.Send(context.Background(), "chat-1", "rejected")
	l.HandleSendFailed(ws.SendFailedPayload{ChatSupportID: "chat-1", TempID: tempID, Reason: "not joined"})

	select {
	case body := <-restored:
		if body != "rejected" {
			t.Fatalf("restored %q", body)
		}
	case <-time.After(time.Second):
		t.Fatal("composer restore never ran")
	}
	if n := len(l.Pending("chat-1")); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
}

func TestDisconnectedFallsBackToREST(t *testing.T) {
	em := &fakeEmitter{status: StatusDisconnected}
	rest := &fakeRESTSender{}
	l := NewLedger(em, "a1", "Alice", WithRESTFallback(rest))

	tempID, err := l.Send(context.Background(), "chat-1", "offline")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if tempID != "" {
		t.Fatalf("temp id = %q, want empty on the fallback path", tempID)
	}
	if len(rest.sent) != 1 || rest.sent[0] != "offline" {
		t.Fatalf("rest sent = %v", rest.sent)
	}
	// The fallback result is already confirmed; nothing pending.
	if n := len(l.Pending("chat-1")); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
	if msgs := l.Messages("chat-1"); len(msgs) != 1 || msgs[0].ID != "rest-msg" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestDisconnectedWithoutFallback(t *testing.T) {
	em := &fakeEmitter{status: StatusDisconnected}
	l := NewLedger(em, "a1", "Alice")

	if _, err := l.Send(context.Background(), "chat-1", "offline"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestWriteFailureRetriesOverREST(t *testing.T) {
	em := &fakeEmitter{status: StatusConnected, err: errors.New("broken pipe")}
	rest := &fakeRESTSender{}
	restored := false
	l := NewLedger(em, "a1", "Alice",
		WithRESTFallback(rest),
		WithComposerRestore(func(_, _ string) { restored = true }),
	)

	tempID, err := l.Send(context.Background(), "chat-1", "racy")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if tempID != "" {
		t.Fatalf("temp id = %q, want empty after fallback", tempID)
	}
	if len(rest.sent) != 1 {
		t.Fatalf("rest sent = %v, want one fallback send", rest.sent)
	}
	// The silent rollback before the retry must not bother the composer.
	if restored {
		t.Fatal("composer restore ran for a send that succeeded over REST")
	}
	if n := len(l.Pending("chat-1")); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
}

func TestPendingBound(t *testing.T) {
	em := &fakeEmitter{status: StatusConnected}
	l := NewLedger(em, "a1", "Alice")

	ctx := context.Background()
	for i := 0; i < maxPendingPerChat; i++ {
		if _, err := l.Send(ctx, "chat-1", "spam"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if _, err := l.Send(ctx, "chat-1", "one too many"); !errors.Is(err, ErrTooManyPending) {
		t.Fatalf("err = %v, want ErrTooManyPending", err)
	}
	// Other conversations are not affected by the bound.
	if _, err := l.Send(ctx, "chat-2", "fine"); err != nil {
		t.Fatalf("send to other chat: %v", err)
	}
}

func TestSeedReplacesConfirmedKeepsPending(t *testing.T) {
	em := &fakeEmitter{status: StatusConnected}
	l := NewLedger(em, "a1", "Alice")

	l.HandleConfirmed(ws.NewMessagePayload{
		ChatSupportID: "chat-1",
		Message:       &model.Message{ID: "stale", ChatSupportID: "chat-1", Body: "old"},
	})
	tempID, _ := l.Send(context.Background(), "chat-1", "in flight")

	l.Seed("chat-1", []model.Message{
		{ID: "m1", ChatSupportID: "chat-1", Body: "one"},
		{ID: "m2", ChatSupportID: "chat-1", Body: "two"},
	})

	msgs := l.Messages("chat-1")
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("messages = %+v", msgs)
	}
	pending := l.Pending("chat-1")
	if len(pending) != 1 || pending[0].TempID != tempID {
		t.Fatalf("pending = %+v, want the in-flight entry to survive", pending)
	}
}

func TestViewOrdersConfirmedThenPending(t *testing.T) {
	em := &fakeEmitter{status: StatusConnected}
	l := NewLedger(em, "a1", "Alice")

	l.Seed("chat-1", []model.Message{{ID: "m1", ChatSupportID: "chat-1", Body: "confirmed"}})
	l.Send(context.Background(), "chat-1", "pending")

	view := l.View("chat-1")
	if len(view) != 2 {
		t.Fatalf("view = %d items, want 2", len(view))
	}
	if view[0].Pending || view[0].ID != "m1" {
		t.Fatalf("view[0] = %+v, want the confirmed message", view[0])
	}
	if !view[1].Pending || view[1].Body != "pending" {
		t.Fatalf("view[1] = %+v, want the pending entry", view[1])
	}
}

func TestDropDiscardsConversation(t *testing.T) {
	em := &fakeEmitter{status: StatusConnected}
	l := NewLedger(em, "a1", "Alice")

	l.Send(context.Background(), "chat-1", "bye")
	l.Drop("chat-1")

	if l.Messages("chat-1") != nil || l.Pending("chat-1") != nil {
		t.Fatal("transcript survived Drop")
	}
}
