// Package client is the dashboard-side half of the realtime sync core: one
// connection manager per tab, a client-owned room intent set replayed after
// every reconnect, an optimistic send ledger, and the aggregator that keeps
// list/counter views fresh from fan-out events.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/opsdesk/internal/logger"
	"github.com/opsdesk/internal/ws"
)

// Status is the tri-state connection status dependents observe.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

var ErrNotConnected = errors.New("not connected")

const (
	dialTimeout    = 10 * time.Second
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Conn is the transport-level session. *websocket.Conn satisfies it; tests
// substitute an in-memory pipe.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens one transport session. The default dials gorilla WebSocket.
type Dialer func(ctx context.Context, url string) (Conn, error)

func websocketDialer(ctx context.Context, url string) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// envelope mirrors ws.OutgoingEvent with the payload left raw so each
// handler decodes its own type.
type envelope struct {
	Type    ws.EventType    `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Manager supervises one logical connection per tab/process. Construct it
// once, pass it to dependents, Open it for the lifetime of the view and
// Close it on teardown. Reconnection is automatic and unbounded: connect
// errors degrade to StatusDisconnected, never terminate the session.
type Manager struct {
	url   string
	urlFn func() string
	dial  Dialer

	mu       sync.Mutex
	status   Status
	conn     Conn
	writeMu  sync.Mutex
	handlers map[ws.EventType][]func(json.RawMessage)
	onStatus []func(Status)
	// onConnect runs after every successful (re)connect, before any event is
	// dispatched: room intent replay and fetch-then-resync hang off it.
	onConnect []func()

	cancel context.CancelFunc
	done   chan struct{}
	opened bool
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer substitutes the transport; tests use an in-memory pipe.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// WithURLProvider asks for a fresh URL before every dial. Needed when the
// endpoint carries a signed, time-limited query string: the signature from
// the first dial is stale by the time a reconnect happens.
func WithURLProvider(fn func() string) Option {
	return func(m *Manager) { m.urlFn = fn }
}

// NewManager builds a manager for the namespaced endpoint URL
// (e.g. "wss://ops.example.com/ws?namespace=admin&session_id=..."). It does
// not connect until Open.
func NewManager(url string, opts ...Option) *Manager {
	m := &Manager{
		url:      url,
		dial:     websocketDialer,
		status:   StatusDisconnected,
		handlers: make(map[ws.EventType][]func(json.RawMessage)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnEvent registers a handler for one server event type. Handlers run on the
// read goroutine in arrival order, which is what preserves per-room ordering
// downstream. Register before Open.
func (m *Manager) OnEvent(t ws.EventType, fn func(json.RawMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[t] = append(m.handlers[t], fn)
}

// OnStatus registers a status observer. Register before Open.
func (m *Manager) OnStatus(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStatus = append(m.onStatus, fn)
}

// OnConnect registers a resync hook run after every successful (re)connect.
// Register before Open.
func (m *Manager) OnConnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = append(m.onConnect, fn)
}

// Status returns the current tri-state status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Open starts the connect/reconnect loop. Calling Open twice is an error;
// calling it after Close is too.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.opened || m.closed {
		m.mu.Unlock()
		return errors.New("connection manager already opened")
	}
	m.opened = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(runCtx)
	return nil
}

// Close releases the transport and stops reconnecting. Idempotent and safe
// during unmount/navigation.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cancel := m.cancel
	conn := m.conn
	done := m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
	m.setStatus(StatusDisconnected)
}

// Send emits one event over the live transport. Returns ErrNotConnected when
// the socket is down; callers fall back to the request/response channel.
func (m *Manager) Send(ev ws.IncomingEvent) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.status == StatusConnected
	m.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		m.setStatus(StatusConnecting)
		url := m.url
		if m.urlFn != nil {
			url = m.urlFn()
		}
		conn, err := m.dial(ctx, url)
		if err != nil {
			m.setStatus(StatusDisconnected)
			logger.Errorf("client connect: %v (retry in %v)", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = initialBackoff

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			conn.Close()
			return
		}
		m.conn = conn
		m.status = StatusConnected
		statusFns := append(([]func(Status))(nil), m.onStatus...)
		connectFns := append(([]func())(nil), m.onConnect...)
		m.mu.Unlock()

		for _, fn := range statusFns {
			fn(StatusConnected)
		}
		// Room membership is not preserved server-side across disconnects:
		// this is where intent replay happens.
		for _, fn := range connectFns {
			fn()
		}

		m.readLoop(ctx, conn)

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		conn.Close()
		m.setStatus(StatusDisconnected)
	}
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Errorf("client read: %v", err)
			}
			return
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Errorf("client unmarshal: %v", err)
			continue
		}
		m.dispatch(env)
	}
}

func (m *Manager) dispatch(env envelope) {
	m.mu.Lock()
	fns := append(([]func(json.RawMessage))(nil), m.handlers[env.Type]...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(env.Payload)
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if m.status == s || m.closed && s != StatusDisconnected {
		m.mu.Unlock()
		return
	}
	m.status = s
	fns := append(([]func(Status))(nil), m.onStatus...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}
