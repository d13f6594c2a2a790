package client

import (
	"context"
	"sync"

	"github.com/opsdesk/internal/logger"
	"github.com/opsdesk/internal/model"
	"github.com/opsdesk/internal/ws"
)

const activityFeedCap = 50

// ListFetcher re-requests authoritative lists; *RESTClient satisfies it.
type ListFetcher interface {
	ListChats(ctx context.Context) ([]model.ChatSupportListItem, error)
}

// Aggregator keeps the dashboard's list/counter views fresh by reacting to
// fan-out events instead of polling. Chat events patch the cached ticket
// list; job events only mark it stale — a little over-fetching for a lot
// less bookkeeping.
type Aggregator struct {
	fetcher ListFetcher

	mu           sync.Mutex
	tickets      []model.ChatSupportListItem
	ticketsStale bool
	activity     []model.ActivityEntry
	alerts       []model.AlertEntry
	jobsStale    bool

	onChange  func()
	onAlert   func(model.AlertEntry)
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithChangeHandler is called after every state change (UI re-render hook).
func WithChangeHandler(fn func()) AggregatorOption {
	return func(a *Aggregator) { a.onChange = fn }
}

// WithAlertHandler observes incoming critical alerts.
func WithAlertHandler(fn func(model.AlertEntry)) AggregatorOption {
	return func(a *Aggregator) { a.onAlert = fn }
}

func NewAggregator(fetcher ListFetcher, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{fetcher: fetcher}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) changed() {
	if a.onChange != nil {
		a.onChange()
	}
}

// HandleChatNewMessage patches the matching ticket row in place: preview,
// unread badge, move to top. Unknown conversation means the cache predates
// it — mark stale instead of guessing.
func (a *Aggregator) HandleChatNewMessage(p ws.NewMessagePayload) {
	if p.Message == nil {
		return
	}
	a.mu.Lock()
	idx := -1
	for i := range a.tickets {
		if a.tickets[i].Chat.ID == p.ChatSupportID {
			idx = i
			break
		}
	}
	if idx < 0 {
		a.ticketsStale = true
	} else {
		it := a.tickets[idx]
		it.LastMessage = p.Message
		it.Chat.UpdatedAt = p.Message.CreatedAt
		if p.Message.SenderType == model.SenderUser {
			it.UnreadCount++
		}
		copy(a.tickets[1:idx+1], a.tickets[:idx])
		a.tickets[0] = it
	}
	a.mu.Unlock()
	a.changed()
}

// HandleChatUpdated patches status/assignment when the event carries them; a
// bare timestamp bump (the list-refresh nudge after a message) only reorders
// on the next refresh.
func (a *Aggregator) HandleChatUpdated(p ws.ChatUpdatedPayload) {
	a.mu.Lock()
	found := false
	for i := range a.tickets {
		if a.tickets[i].Chat.ID != p.ChatSupportID {
			continue
		}
		found = true
		if p.Updates.Status != nil {
			a.tickets[i].Chat.Status = *p.Updates.Status
		}
		if p.Updates.AssignedTo != nil {
			a.tickets[i].Chat.AssignedTo = *p.Updates.AssignedTo
		}
		if !p.Timestamp.IsZero() {
			a.tickets[i].Chat.UpdatedAt = p.Timestamp
		}
		break
	}
	if !found {
		a.ticketsStale = true
	}
	a.mu.Unlock()
	a.changed()
}

// HandleChatNew marks the ticket list stale; the payload is deliberately
// empty and the refresh pulls the authoritative list.
func (a *Aggregator) HandleChatNew() {
	a.mu.Lock()
	a.ticketsStale = true
	a.mu.Unlock()
	a.changed()
}

// HandleActivity prepends to the capped feed. Volume is low, so correctness
// fixups ride on the occasional full resync.
func (a *Aggregator) HandleActivity(e model.ActivityEntry) {
	a.mu.Lock()
	a.activity = append([]model.ActivityEntry{e}, a.activity...)
	if len(a.activity) > activityFeedCap {
		a.activity = a.activity[:activityFeedCap]
	}
	a.mu.Unlock()
	a.changed()
}

// HandleAlert records the alert and notifies the observer.
func (a *Aggregator) HandleAlert(e model.AlertEntry) {
	a.mu.Lock()
	a.alerts = append(a.alerts, e)
	a.mu.Unlock()
	if a.onAlert != nil {
		a.onAlert(e)
	}
	a.changed()
}

// HandleJobUpdated invalidates the job list; no per-row patching.
func (a *Aggregator) HandleJobUpdated(p ws.JobUpdatedPayload) {
	a.mu.Lock()
	a.jobsStale = true
	a.mu.Unlock()
	a.changed()
}

// RefreshTickets re-fetches the authoritative ticket list and clears the
// stale flag. Wired to the connection manager's OnConnect hook, and called by
// the UI whenever TicketsStale reports true.
func (a *Aggregator) RefreshTickets(ctx context.Context) error {
	if a.fetcher == nil {
		return nil
	}
	items, err := a.fetcher.ListChats(ctx)
	if err != nil {
		logger.Errorf("refresh tickets: %v", err)
		return err
	}
	a.mu.Lock()
	a.tickets = items
	a.ticketsStale = false
	a.mu.Unlock()
	a.changed()
	return nil
}

// Tickets returns a copy of the cached ticket list.
func (a *Aggregator) Tickets() []model.ChatSupportListItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.ChatSupportListItem, len(a.tickets))
	copy(out, a.tickets)
	return out
}

// TicketsStale reports whether the cache needs a refresh.
func (a *Aggregator) TicketsStale() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ticketsStale
}

// Activity returns a copy of the feed, newest first.
func (a *Aggregator) Activity() []model.ActivityEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.ActivityEntry, len(a.activity))
	copy(out, a.activity)
	return out
}

// Alerts returns a copy of received critical alerts.
func (a *Aggregator) Alerts() []model.AlertEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.AlertEntry, len(a.alerts))
	copy(out, a.alerts)
	return out
}

// JobsStale reports whether job views should re-fetch.
func (a *Aggregator) JobsStale() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.jobsStale
}

// ClearJobsStale acknowledges a job-list refresh.
func (a *Aggregator) ClearJobsStale() {
	a.mu.Lock()
	a.jobsStale = false
	a.mu.Unlock()
}
