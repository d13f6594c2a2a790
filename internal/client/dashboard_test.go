package client

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opsdesk/internal/model"
	"github.com/opsdesk/internal/ws"
)

type fakeListFetcher struct {
	items []model.ChatSupportListItem
	err   error
	calls int
}

func (f *fakeListFetcher) ListChats(context.Context) ([]model.ChatSupportListItem, error) {
	f.calls++
	return f.items, f.err
}

func seededAggregator(t *testing.T, ids ...string) (*Aggregator, *fakeListFetcher) {
	t.Helper()
	items := make([]model.ChatSupportListItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, model.ChatSupportListItem{
			Chat: model.ChatSupport{ID: id, UserName: "user-" + id, Status: model.ChatStatusOpen},
		})
	}
	f := &fakeListFetcher{items: items}
	a := NewAggregator(f)
	if err := a.RefreshTickets(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return a, f
}

func TestNewMessagePatchesRowAndMovesToTop(t *testing.T) {
	a, _ := seededAggregator(t, "c1", "c2", "c3")

	msg := &model.Message{
		ID: "m1", ChatSupportID: "c2", Body: "help!",
		SenderType: model.SenderUser, CreatedAt: time.Now(),
	}
	a.HandleChatNewMessage(ws.NewMessagePayload{ChatSupportID: "c2", Message: msg})

	tickets := a.Tickets()
	if tickets[0].Chat.ID != "c2" {
		t.Fatalf("top ticket = %s, want c2", tickets[0].Chat.ID)
	}
	if tickets[0].LastMessage == nil || tickets[0].LastMessage.ID != "m1" {
		t.Fatal("preview not patched")
	}
	if tickets[0].UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1", tickets[0].UnreadCount)
	}
	if tickets[1].Chat.ID != "c1" || tickets[2].Chat.ID != "c3" {
		t.Fatalf("order = %s,%s, want c1,c3 preserved below", tickets[1].Chat.ID, tickets[2].Chat.ID)
	}
	if a.TicketsStale() {
		t.Fatal("in-place patch must not mark the list stale")
	}
}

func TestAdminMessageDoesNotBumpUnread(t *testing.T) {
	a, _ := seededAggregator(t, "c1")

	a.HandleChatNewMessage(ws.NewMessagePayload{
		ChatSupportID: "c1",
		Message:       &model.Message{ID: "m1", ChatSupportID: "c1", SenderType: model.SenderAdmin},
	})

	if got := a.Tickets()[0].UnreadCount; got != 0 {
		t.Fatalf("unread = %d, want 0 for admin-sent message", got)
	}
}

func TestMessageForUnknownConversationMarksStale(t *testing.T) {
	a, _ := seededAggregator(t, "c1")

	a.HandleChatNewMessage(ws.NewMessagePayload{
		ChatSupportID: "brand-new",
		Message:       &model.Message{ID: "m1", ChatSupportID: "brand-new", SenderType: model.SenderUser},
	})

	if !a.TicketsStale() {
		t.Fatal("unknown conversation must mark the cache stale")
	}
}

func TestChatUpdatedPatchesStatusAndAssignment(t *testing.T) {
	a, _ := seededAggregator(t, "c1")

	status := model.ChatStatusClosed
	assignee := "admin-9"
	a.HandleChatUpdated(ws.ChatUpdatedPayload{
		ChatSupportID: "c1",
		Updates:       model.ChatUpdates{Status: &status, AssignedTo: &assignee},
		Timestamp:     time.Now(),
	})

	row := a.Tickets()[0]
	if row.Chat.Status != model.ChatStatusClosed || row.Chat.AssignedTo != "admin-9" {
		t.Fatalf("row = %+v", row.Chat)
	}
}

func TestChatUpdatedUnknownMarksStale(t *testing.T) {
	a, _ := seededAggregator(t, "c1")

	a.HandleChatUpdated(ws.ChatUpdatedPayload{ChatSupportID: "nope"})

	if !a.TicketsStale() {
		t.Fatal("unknown conversation must mark the cache stale")
	}
}

func TestChatNewMarksStaleAndRefreshClears(t *testing.T) {
	a, f := seededAggregator(t, "c1")

	a.HandleChatNew()
	if !a.TicketsStale() {
		t.Fatal("chat_new must mark the cache stale")
	}

	if err := a.RefreshTickets(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if a.TicketsStale() {
		t.Fatal("refresh did not clear the stale flag")
	}
	if f.calls != 2 {
		t.Fatalf("fetcher calls = %d, want 2", f.calls)
	}
}

func TestActivityFeedCapped(t *testing.T) {
	a := NewAggregator(nil)
	for i := 0; i < activityFeedCap+10; i++ {
		a.HandleActivity(model.ActivityEntry{ID: fmt.Sprintf("e%d", i)})
	}

	feed := a.Activity()
	if len(feed) != activityFeedCap {
		t.Fatalf("feed = %d entries, want %d", len(feed), activityFeedCap)
	}
	// Newest first.
	if feed[0].ID != fmt.Sprintf("e%d", activityFeedCap+9) {
		t.Fatalf("feed[0] = %s, want the newest entry", feed[0].ID)
	}
}

func TestAlertObserverAndLog(t *testing.T) {
	var seen []string
	a := NewAggregator(nil, WithAlertHandler(func(e model.AlertEntry) {
		seen = append(seen, e.ID)
	}))

	a.HandleAlert(model.AlertEntry{ID: "a1", Level: model.AlertLevelCritical})

	if len(seen) != 1 || seen[0] != "a1" {
		t.Fatalf("observer saw %v", seen)
	}
	if alerts := a.Alerts(); len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
}

func TestJobUpdateOnlyInvalidates(t *testing.T) {
	a, _ := seededAggregator(t, "c1")

	a.HandleJobUpdated(ws.JobUpdatedPayload{JobID: "j1", UpdateType: "status_changed"})
	if !a.JobsStale() {
		t.Fatal("job update must mark job views stale")
	}
	// Ticket cache untouched: jobs are a separate view.
	if a.TicketsStale() {
		t.Fatal("job update must not touch the ticket cache")
	}

	a.ClearJobsStale()
	if a.JobsStale() {
		t.Fatal("ClearJobsStale did not clear")
	}
}

func TestChangeHandlerFires(t *testing.T) {
	calls := 0
	a := NewAggregator(nil, WithChangeHandler(func() { calls++ }))

	a.HandleChatNew()
	a.HandleActivity(model.ActivityEntry{ID: "e1"})

	if calls != 2 {
		t.Fatalf("change handler fired %d times, want 2", calls)
	}
}
