package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opsdesk/internal/logger"
	"github.com/opsdesk/internal/model"
	"github.com/opsdesk/internal/ws"
)

const (
	// defaultSendTimeout bounds the optimistic wait; after it the send
	// resolves deterministically as failed and the composer gets its text back.
	defaultSendTimeout = 10 * time.Second
	// tempIDPrefix makes client-generated ids unambiguously distinguishable
	// from server-assigned ones.
	tempIDPrefix = "temp-"
	// maxPendingPerChat bounds in-flight optimistic entries per conversation.
	maxPendingPerChat = 4
)

var ErrTooManyPending = errors.New("too many in-flight sends for conversation")

// OptimisticEntry is a client-local stand-in for a message whose server
// outcome is not yet known.
type OptimisticEntry struct {
	TempID        string
	ChatSupportID string
	Body          string
	SenderName    string
	SenderType    model.SenderType
	CreatedAt     time.Time

	timer *time.Timer
}

// TranscriptItem is one row of the view a client renders: a confirmed message
// or a still-pending optimistic entry (dimmed by the UI).
type TranscriptItem struct {
	ID         string           `json:"id"`
	Body       string           `json:"body"`
	SenderName string           `json:"sender_name"`
	SenderType model.SenderType `json:"sender_type"`
	CreatedAt  time.Time        `json:"created_at"`
	Pending    bool             `json:"pending"`
}

// RESTSender is the request/response fallback used when the socket is down
// but the base HTTP channel is reachable.
type RESTSender interface {
	SendMessage(ctx context.Context, chatSupportID, body string) (*model.Message, error)
}

// ComposerRestore receives the original input text back after a failed or
// timed-out send; user-entered text is never silently lost.
type ComposerRestore func(chatSupportID, body string)

type transcript struct {
	messages []model.Message
	seen     map[string]struct{}
	pending  []*OptimisticEntry
}

// Ledger keeps one transcript per observed conversation: confirmed messages
// in arrival order (never re-sorted by timestamp) plus in-flight optimistic
// entries, and reconciles the two. The transcript never contains two entries
// with the same confirmed id, and a confirmed message always supersedes its
// optimistic placeholder.
type Ledger struct {
	em         Emitter
	rest       RESTSender
	timeout    time.Duration
	senderID   string
	senderName string
	restore    ComposerRestore
	onFailed   func(chatSupportID, tempID string)

	mu          sync.Mutex
	transcripts map[string]*transcript
	seq         atomic.Int64
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithSendTimeout overrides the optimistic wait window.
func WithSendTimeout(d time.Duration) LedgerOption {
	return func(l *Ledger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithRESTFallback enables the direct request/response send path for when the
// socket is down.
func WithRESTFallback(rs RESTSender) LedgerOption {
	return func(l *Ledger) { l.rest = rs }
}

// WithComposerRestore sets the callback that gets the original text back on
// rollback.
func WithComposerRestore(fn ComposerRestore) LedgerOption {
	return func(l *Ledger) { l.restore = fn }
}

// WithFailureHandler sets an observer for failed sends (transient UI
// indicator; retry stays a manual user action).
func WithFailureHandler(fn func(chatSupportID, tempID string)) LedgerOption {
	return func(l *Ledger) { l.onFailed = fn }
}

func NewLedger(em Emitter, senderID, senderName string, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		em:          em,
		timeout:     defaultSendTimeout,
		senderID:    senderID,
		senderName:  senderName,
		transcripts: make(map[string]*transcript),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) transcriptLocked(chatSupportID string) *transcript {
	t, ok := l.transcripts[chatSupportID]
	if !ok {
		t = &transcript{seen: make(map[string]struct{})}
		l.transcripts[chatSupportID] = t
	}
	return t
}

func (l *Ledger) nextTempID() string {
	return fmt.Sprintf("%s%d-%d", tempIDPrefix, time.Now().Unix(), l.seq.Add(1))
}

// Send performs an optimistic send: insert the pending entry, emit the
// event, and start the bounded wait. When the socket is down it falls back to
// the REST channel and appends the confirmed message directly, skipping the
// optimistic dance. Returns the temp id of the pending entry ("" on the
// fallback path).
func (l *Ledger) Send(ctx context.Context, chatSupportID, body string) (string, error) {
	if chatSupportID == "" || body == "" {
		return "", errors.New("chat id and body required")
	}

	if l.em.Status() != StatusConnected {
		return "", l.sendViaREST(ctx, chatSupportID, body)
	}

	tempID := l.nextTempID()
	entry := &OptimisticEntry{
		TempID:        tempID,
		ChatSupportID: chatSupportID,
		Body:          body,
		SenderName:    l.senderName,
		SenderType:    model.SenderAdmin,
		CreatedAt:     time.Now(),
	}

	l.mu.Lock()
	t := l.transcriptLocked(chatSupportID)
	if len(t.pending) >= maxPendingPerChat {
		l.mu.Unlock()
		return "", ErrTooManyPending
	}
	t.pending = append(t.pending, entry)
	entry.timer = time.AfterFunc(l.timeout, func() { l.expire(chatSupportID, tempID) })
	l.mu.Unlock()

	err := l.em.Send(ws.IncomingEvent{
		Type:          ws.EventSendMessage,
		ChatSupportID: chatSupportID,
		Body:          body,
		TempID:        tempID,
	})
	if err != nil {
		// Connection dropped between the status check and the write: roll
		// back immediately and try the fallback channel.
		l.rollback(chatSupportID, tempID, false)
		return "", l.sendViaREST(ctx, chatSupportID, body)
	}
	return tempID, nil
}

func (l *Ledger) sendViaREST(ctx context.Context, chatSupportID, body string) error {
	if l.rest == nil {
		return ErrNotConnected
	}
	m, err := l.rest.SendMessage(ctx, chatSupportID, body)
	if err != nil {
		return fmt.Errorf("fallback send: %w", err)
	}
	l.appendConfirmed(m)
	return nil
}

// HandleConfirmed reconciles a chat_new_message event. Exact temp-id lookup
// first; the conversation+recency heuristic only covers servers that do not
// echo the temp id. Duplicate confirmed ids are absorbed silently.
func (l *Ledger) HandleConfirmed(p ws.NewMessagePayload) {
	if p.Message == nil {
		return
	}
	var resolved *OptimisticEntry

	l.mu.Lock()
	t := l.transcriptLocked(p.Message.ChatSupportID)
	if p.TempID != "" {
		resolved = t.removePending(p.TempID)
	} else if p.Message.SenderID != "" && p.Message.SenderID == l.senderID && len(t.pending) > 0 {
		// No echo: correlate by conversation and recency (oldest in-flight).
		resolved = t.removePending(t.pending[0].TempID)
	}
	appended := t.appendLocked(*p.Message)
	l.mu.Unlock()

	if resolved != nil {
		resolved.timer.Stop()
	}
	if !appended {
		logger.Debugf("duplicate message %s absorbed", p.Message.ID)
	}
}

// HandleSendFailed rolls back the optimistic entry named by the server's
// explicit rejection, restoring the composer.
func (l *Ledger) HandleSendFailed(p ws.SendFailedPayload) {
	if p.TempID == "" {
		return
	}
	l.rollback(p.ChatSupportID, p.TempID, true)
}

// expire fires when no confirmation arrived inside the timeout window.
func (l *Ledger) expire(chatSupportID, tempID string) {
	l.rollback(chatSupportID, tempID, true)
}

// rollback removes a pending entry if it is still pending. notify controls
// whether the composer restore and failure observer run (a rollback that
// precedes an immediate REST retry stays silent).
func (l *Ledger) rollback(chatSupportID, tempID string, notify bool) {
	l.mu.Lock()
	t, ok := l.transcripts[chatSupportID]
	if !ok {
		l.mu.Unlock()
		return
	}
	entry := t.removePending(tempID)
	l.mu.Unlock()

	if entry == nil {
		return
	}
	entry.timer.Stop()
	if !notify {
		return
	}
	if l.restore != nil {
		l.restore(chatSupportID, entry.Body)
	}
	if l.onFailed != nil {
		l.onFailed(chatSupportID, tempID)
	}
}

func (l *Ledger) appendConfirmed(m *model.Message) {
	l.mu.Lock()
	t := l.transcriptLocked(m.ChatSupportID)
	t.appendLocked(*m)
	l.mu.Unlock()
}

// Seed replaces the confirmed transcript from an authoritative fetch (the
// reconnect fetch-then-resync path). In-flight optimistic entries survive;
// their confirmations or timeouts resolve them as usual.
func (l *Ledger) Seed(chatSupportID string, messages []model.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.transcriptLocked(chatSupportID)
	t.messages = t.messages[:0]
	t.seen = make(map[string]struct{}, len(messages))
	for _, m := range messages {
		t.appendLocked(m)
	}
}

// Drop discards a conversation's transcript and pending entries (navigating
// away); abandoned in-flight sends need no special cleanup.
func (l *Ledger) Drop(chatSupportID string) {
	l.mu.Lock()
	t, ok := l.transcripts[chatSupportID]
	if ok {
		delete(l.transcripts, chatSupportID)
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	for _, e := range t.pending {
		e.timer.Stop()
	}
}

// Messages returns the confirmed transcript in arrival order.
func (l *Ledger) Messages(chatSupportID string) []model.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.transcripts[chatSupportID]
	if !ok {
		return nil
	}
	out := make([]model.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Pending returns the in-flight optimistic entries, oldest first.
func (l *Ledger) Pending(chatSupportID string) []OptimisticEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.transcripts[chatSupportID]
	if !ok {
		return nil
	}
	out := make([]OptimisticEntry, 0, len(t.pending))
	for _, e := range t.pending {
		out = append(out, *e)
	}
	return out
}

// View is the ordered sequence a client renders: confirmed messages followed
// by pending entries. Ordering is monotonic by arrival; the UI trusts
// server-emitted order and never re-sorts by timestamp.
func (l *Ledger) View(chatSupportID string) []TranscriptItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.transcripts[chatSupportID]
	if !ok {
		return nil
	}
	out := make([]TranscriptItem, 0, len(t.messages)+len(t.pending))
	for _, m := range t.messages {
		out = append(out, TranscriptItem{
			ID:         m.ID,
			Body:       m.Body,
			SenderName: m.SenderName,
			SenderType: m.SenderType,
			CreatedAt:  m.CreatedAt,
		})
	}
	for _, e := range t.pending {
		out = append(out, TranscriptItem{
			ID:         e.TempID,
			Body:       e.Body,
			SenderName: e.SenderName,
			SenderType: e.SenderType,
			CreatedAt:  e.CreatedAt,
			Pending:    true,
		})
	}
	return out
}

// appendLocked deduplicates by confirmed id. Returns false for a duplicate.
func (t *transcript) appendLocked(m model.Message) bool {
	if _, dup := t.seen[m.ID]; dup {
		return false
	}
	t.seen[m.ID] = struct{}{}
	t.messages = append(t.messages, m)
	return true
}

// removePending removes and returns the entry with tempID, or nil.
func (t *transcript) removePending(tempID string) *OptimisticEntry {
	for i, e := range t.pending {
		if e.TempID == tempID {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return e
		}
	}
	return nil
}
