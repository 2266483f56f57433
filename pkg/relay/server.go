// Package relay is a development backend for the live dashboard. It accepts
// dashboard WebSocket connections, serves the call-lifecycle REST API and
// lets tests and demos inject server events into a call.
package relay

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/vango-go/village-live/pkg/live/metrics"
	"github.com/vango-go/village-live/pkg/village"
)

const (
	defaultWriteTimeout  = 5 * time.Second
	defaultMaxFrameBytes = 64 << 10
	maxBodyBytes         = 1 << 20
)

// Config tunes the relay's WebSocket side.
type Config struct {
	WriteTimeout  time.Duration
	MaxFrameBytes int64
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithStore replaces the default MemoryStore.
func WithStore(st Store) Option {
	return func(s *Server) {
		if st != nil {
			s.store = st
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDs replaces the UUID generator used for new calls and actions.
func WithIDs(newID func() string) Option {
	return func(s *Server) {
		if newID != nil {
			s.newID = newID
		}
	}
}

type Server struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	store    Store
	hub      *Hub
	echo     *echo.Echo
	upgrader websocket.Upgrader

	now   func() time.Time
	newID func() string

	draining atomic.Bool
	// recordMu serializes read-modify-write of stored call records.
	recordMu sync.Mutex
}

func New(cfg Config, opts ...Option) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = defaultMaxFrameBytes
	}
	s := &Server{
		cfg:    cfg,
		logger: slog.Default(),
		store:  NewMemoryStore(),
		now:    time.Now,
		newID:  uuid.NewString,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.hub = NewHub(s.logger, s.metrics)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(requestID, s.accessLog, s.recoverPanic)
	s.echo = e
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/health", s.health)
	e.GET("/ready", s.ready)
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	e.GET("/ws", s.serveWS)

	api := e.Group("/api", bodyLimit(maxBodyBytes))
	api.POST("/call/start", s.startCall)
	api.POST("/call/:id/end", s.endCall)
	api.GET("/call/:id", s.getCall)
	api.POST("/call/:id/events", s.injectEvent)
	api.GET("/calls", s.listCalls)
	api.GET("/elder/:id", s.getElder)
	api.GET("/elder/:id/history", s.elderHistory)
	api.POST("/village/trigger", s.triggerAction)
	api.GET("/village/actions", s.listActions)
}

func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Store() Store { return s.store }

// SeedElder stores elder so calls can be started for it.
func (s *Server) SeedElder(ctx context.Context, elder village.Elder) error {
	return s.store.PutElder(ctx, elder)
}

// SetDraining makes /ready fail and refuses new WebSocket connections.
func (s *Server) SetDraining() { s.draining.Store(true) }

func (s *Server) IsDraining() bool { return s.draining.Load() }

// CloseSessions closes every dashboard connection.
func (s *Server) CloseSessions() int { return s.hub.CloseAll() }

func (s *Server) health(c echo.Context) error {
	return c.String(http.StatusOK, "ok\n")
}

func (s *Server) ready(c echo.Context) error {
	type readyResp struct {
		OK       bool `json:"ok"`
		Draining bool `json:"draining"`
		Sessions int  `json:"sessions"`
	}
	draining := s.IsDraining()
	status := http.StatusOK
	if draining {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, readyResp{OK: !draining, Draining: draining, Sessions: s.hub.Count()})
}
