// Package conn maintains one logical WebSocket connection to the live call
// server. It reconnects on a fixed interval after any close or failed dial,
// decodes inbound frames into protocol events and hands them to a Handler one
// at a time.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/village-live/pkg/live/metrics"
	"github.com/vango-go/village-live/pkg/live/protocol"
)

const (
	DefaultURL               = "ws://localhost:8000/ws"
	DefaultReconnectInterval = 3000 * time.Millisecond

	defaultDialTimeout  = 15 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// ErrClosed is returned by Connect after Disconnect.
var ErrClosed = errors.New("conn: manager is closed")

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Conn is the subset of *websocket.Conn the manager uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc opens a socket to url.
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// Handler receives connection lifecycle callbacks and decoded events. Calls
// are serialized and arrive in order; a handler may call Send from any of
// them.
type Handler interface {
	OnOpen()
	OnEvent(ev protocol.Event)
	OnClose(err error)
}

// Config configures a Manager. Zero durations take the defaults.
type Config struct {
	URL               string
	Header            http.Header
	ReconnectInterval time.Duration
	DisableReconnect  bool
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	// PingInterval enables an application-level {"type":"ping"} keep-alive.
	PingInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// AfterFunc schedules f after d and returns a function that cancels it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func timeAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(dial DialFunc) Option {
	return func(m *Manager) {
		if dial != nil {
			m.dial = dial
		}
	}
}

// WithAfterFunc replaces time.AfterFunc for reconnect scheduling.
func WithAfterFunc(after AfterFunc) Option {
	return func(m *Manager) {
		if after != nil {
			m.afterFunc = after
		}
	}
}

// Manager owns the socket and its reconnect task.
type Manager struct {
	cfg       Config
	handler   Handler
	logger    *slog.Logger
	metrics   *metrics.Metrics
	dial      DialFunc
	afterFunc AfterFunc

	mu         sync.Mutex
	state      State
	generation uint64
	started    bool
	closed     bool
	conn       Conn
	cancelDial context.CancelFunc
	stopTimer  func() bool
	stopCtx    func() bool

	// writeMu serializes socket writes; dispatchMu serializes handler calls.
	writeMu    sync.Mutex
	dispatchMu sync.Mutex
}

// New returns a disconnected Manager. handler must not be nil.
func New(cfg Config, handler Handler, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:       cfg,
		handler:   handler,
		logger:    slog.Default(),
		afterFunc: timeAfterFunc,
		state:     StateDisconnected,
	}
	m.dial = websocketDialer(cfg.DialTimeout)
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.logger = m.logger.With("component", "conn", "url", cfg.URL)
	return m
}

func websocketDialer(handshakeTimeout time.Duration) DialFunc {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	return func(ctx context.Context, url string, header http.Header) (Conn, error) {
		c, resp, err := dialer.DialContext(ctx, url, header)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
			}
			return nil, fmt.Errorf("websocket dial: %w", err)
		}
		return c, nil
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Generation returns the number of dial attempts made so far, plus one more
// after Disconnect. Callbacks from older generations are never delivered.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Connect starts the connection in the background. A second call is a no-op;
// after Disconnect it returns ErrClosed. Cancelling ctx disconnects.
func (m *Manager) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.stopCtx = context.AfterFunc(ctx, m.Disconnect)
	g, dialCtx := m.beginDialLocked(StateConnecting)
	m.mu.Unlock()

	m.metrics.SetConnectionState(string(StateConnecting))
	go m.run(g, dialCtx)
	return nil
}

// Disconnect tears the connection down for good: the pending reconnect is
// cancelled, in-flight callbacks are invalidated and the socket is closed.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.generation++
	m.state = StateDisconnected
	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.stopCtx != nil {
		m.stopCtx()
		m.stopCtx = nil
	}
	c := m.conn
	m.conn = nil
	m.mu.Unlock()

	m.metrics.SetConnectionState(string(StateDisconnected))
	if c != nil {
		m.writeMu.Lock()
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(m.cfg.WriteTimeout))
		m.writeMu.Unlock()
		_ = c.Close()
	}
	m.logger.Info("websocket disconnected")
}

// Send marshals v to JSON and writes it if the socket is open. Otherwise it
// logs a warning and reports false; nothing is queued.
func (m *Manager) Send(v any) bool {
	m.mu.Lock()
	c, state := m.conn, m.state
	m.mu.Unlock()

	if state != StateConnected || c == nil {
		m.logger.Warn("websocket not connected, message dropped", "state", string(state))
		m.metrics.RecordSendDropped()
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("encode outbound message", "error", err)
		return false
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := c.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout)); err != nil {
		m.logger.Warn("set write deadline", "error", err)
	}
	if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
		m.logger.Warn("websocket write failed", "error", err)
		// The read loop observes the close and schedules the reconnect.
		_ = c.Close()
		return false
	}
	return true
}

// beginDialLocked starts a new generation. The state holds until the socket
// opens: connecting for the first dial, reconnecting for a redial.
func (m *Manager) beginDialLocked(state State) (uint64, context.Context) {
	m.generation++
	m.state = state
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	return m.generation, ctx
}

func (m *Manager) run(g uint64, ctx context.Context) {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	c, err := m.dial(dialCtx, m.cfg.URL, m.cfg.Header)
	cancel()
	m.metrics.RecordDial(err)
	if err != nil {
		m.logger.Warn("websocket dial failed", "generation", g, "error", err)
		m.handleClosed(g, err)
		return
	}

	m.mu.Lock()
	if m.closed || m.generation != g {
		m.mu.Unlock()
		_ = c.Close()
		return
	}
	m.conn = c
	m.state = StateConnected
	m.stopTimer = nil
	m.mu.Unlock()

	m.metrics.SetConnectionState(string(StateConnected))
	m.logger.Info("websocket connected", "generation", g)
	m.dispatch(g, m.handler.OnOpen)

	done := make(chan struct{})
	if m.cfg.PingInterval > 0 {
		go m.pingLoop(done)
	}
	m.readLoop(g, c)
	close(done)
}

func (m *Manager) readLoop(g uint64, c Conn) {
	for {
		messageType, data, err := c.ReadMessage()
		if err != nil {
			m.handleClosed(g, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		ev, err := protocol.DecodeServerMessage(data)
		if err != nil {
			m.logger.Warn("dropping malformed frame", "generation", g, "error", err)
			m.metrics.RecordDecodeError()
			continue
		}
		m.dispatch(g, func() { m.handler.OnEvent(ev) })
	}
}

func (m *Manager) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.Send(protocol.NewPing())
		}
	}
}

// handleClosed moves generation g to disconnected and, unless reconnection is
// disabled, schedules exactly one reconnect. Stale generations are ignored.
func (m *Manager) handleClosed(g uint64, cause error) {
	m.mu.Lock()
	if m.closed || m.generation != g {
		m.mu.Unlock()
		return
	}
	c := m.conn
	m.conn = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if c != nil {
		_ = c.Close()
	}
	m.metrics.SetConnectionState(string(StateDisconnected))
	if isNormalClose(cause) {
		m.logger.Info("websocket closed", "generation", g)
	} else {
		m.logger.Warn("websocket closed", "generation", g, "error", cause)
	}
	m.dispatch(g, func() { m.handler.OnClose(cause) })

	if m.cfg.DisableReconnect {
		return
	}

	m.mu.Lock()
	if m.closed || m.generation != g {
		m.mu.Unlock()
		return
	}
	m.state = StateReconnecting
	m.stopTimer = m.afterFunc(m.cfg.ReconnectInterval, func() { m.reconnect(g) })
	m.mu.Unlock()

	m.metrics.SetConnectionState(string(StateReconnecting))
	m.metrics.RecordReconnectScheduled()
	m.logger.Info("reconnect scheduled", "generation", g, "in", m.cfg.ReconnectInterval)
}

func (m *Manager) reconnect(g uint64) {
	m.mu.Lock()
	if m.closed || m.generation != g || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.stopTimer = nil
	next, ctx := m.beginDialLocked(StateReconnecting)
	m.mu.Unlock()

	m.metrics.SetConnectionState(string(StateReconnecting))
	go m.run(next, ctx)
}

// dispatch runs fn if g is still the live generation. Handler calls never
// overlap and are made without m.mu held.
func (m *Manager) dispatch(g uint64, fn func()) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	current := !m.closed && m.generation == g
	m.mu.Unlock()
	if !current {
		return
	}
	fn()
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
