package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the slice of *websocket.Conn the manager needs. Tests substitute a
// scripted implementation.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Dialer opens one websocket connection. The manager redials through it on
// every reconnect.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}

// DefaultDialer dials with gorilla's default websocket dialer.
func DefaultDialer() Dialer { return wsDialer{} }

// Handler receives every message for one table. Called from the read loop, so
// it must not block.
type Handler func(action string, data json.RawMessage)

type subscribeRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// envelope covers every frame the venue sends on a public stream: table
// pushes, subscription acks, the greeting and error frames.
type envelope struct {
	Table     string          `json:"table"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data"`
	Subscribe string          `json:"subscribe"`
	Success   *bool           `json:"success"`
	Error     string          `json:"error"`
	Info      string          `json:"info"`
}

type Config struct {
	URL           string
	ReconnectWait time.Duration
	PingInterval  time.Duration
	ReadTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * c.PingInterval
	}
}

// Manager keeps one websocket session alive. On any failure it closes the
// connection, waits a fixed interval and redials; after every successful dial
// it replays the full topic list in a single subscribe frame. Handlers stay
// registered across reconnects.
type Manager struct {
	cfg    Config
	dialer Dialer

	mu       sync.RWMutex
	topics   []string
	topicSet map[string]struct{}
	handlers map[string][]Handler
}

func NewManager(cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:      cfg,
		dialer:   wsDialer{},
		topicSet: make(map[string]struct{}),
		handlers: make(map[string][]Handler),
	}
}

// SetDialer replaces the websocket dialer. Call before Run; the engine uses
// this to gate dials behind its circuit breaker.
func (m *Manager) SetDialer(d Dialer) {
	if d != nil {
		m.dialer = d
	}
}

// Subscribe records topics for the current and all future connections.
// Duplicates are dropped. Topics added while connected take effect on the
// next reconnect.
func (m *Manager) Subscribe(topics ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range topics {
		if _, ok := m.topicSet[t]; ok {
			continue
		}
		m.topicSet[t] = struct{}{}
		m.topics = append(m.topics, t)
	}
}

// Handle registers fn for every message whose table matches.
func (m *Manager) Handle(table string, fn Handler) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.handlers[table] = append(m.handlers[table], fn)
	m.mu.Unlock()
}

// Run dials and serves the stream until ctx is cancelled. It never returns a
// transport error; those are logged and absorbed by the reconnect loop.
func (m *Manager) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := m.dialer.Dial(ctx, m.cfg.URL)
		if err != nil {
			log.Printf("level=WARN event=stream_dial_failed url=%s err=%q", m.cfg.URL, err.Error())
			if !m.wait(ctx) {
				return ctx.Err()
			}
			continue
		}
		if err := m.subscribeAll(conn); err != nil {
			log.Printf("level=WARN event=stream_subscribe_failed err=%q", err.Error())
			_ = conn.Close()
			if !m.wait(ctx) {
				return ctx.Err()
			}
			continue
		}
		log.Printf("level=INFO event=stream_connected url=%s topics=%d", m.cfg.URL, len(m.snapshotTopics()))

		err = m.serve(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("level=WARN event=stream_disconnected err=%q wait=%s", errString(err), m.cfg.ReconnectWait)
		if !m.wait(ctx) {
			return ctx.Err()
		}
	}
}

// subscribeAll sends the complete topic list in one frame. Called exactly once
// per connection.
func (m *Manager) subscribeAll(conn Conn) error {
	topics := m.snapshotTopics()
	if len(topics) == 0 {
		return errors.New("no topics subscribed")
	}
	return conn.WriteJSON(subscribeRequest{Op: "subscribe", Args: topics})
}

// serve reads and dispatches until the connection breaks or ctx ends. A
// keepalive goroutine pings on a ticker and closes the connection on ctx
// cancellation so the blocked read returns.
func (m *Manager) serve(ctx context.Context, conn Conn) error {
	done := make(chan struct{})
	defer close(done)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
	})
	go func() {
		ticker := time.NewTicker(m.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					_ = conn.Close()
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if len(data) == 0 {
			continue
		}
		m.dispatch(data)
	}
}

func (m *Manager) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("level=WARN event=stream_bad_frame err=%q", err.Error())
		return
	}
	switch {
	case env.Error != "":
		log.Printf("level=WARN event=stream_error msg=%q", env.Error)
	case env.Subscribe != "":
		if env.Success != nil && !*env.Success {
			log.Printf("level=WARN event=stream_subscribe_rejected topic=%s", env.Subscribe)
			return
		}
		log.Printf("level=INFO event=stream_subscribed topic=%s", env.Subscribe)
	case env.Table != "":
		m.mu.RLock()
		handlers := m.handlers[env.Table]
		m.mu.RUnlock()
		for _, fn := range handlers {
			fn(env.Action, env.Data)
		}
	case env.Info != "":
		// Server greeting, nothing to do.
	}
}

func (m *Manager) snapshotTopics() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.topics))
	copy(out, m.topics)
	return out
}

// wait sleeps one reconnect interval; false means ctx ended first.
func (m *Manager) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(m.cfg.ReconnectWait):
		return true
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
