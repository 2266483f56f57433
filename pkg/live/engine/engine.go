// Package engine keeps a live call dashboard in sync with the call server.
//
// An Engine owns one conn.Manager and one call aggregate. Every time the
// socket opens with a call in progress it subscribes to that call; every
// decoded event is folded into the aggregate with callstate.Apply and the
// resulting snapshot is handed to the OnUpdate callback.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/village-live/pkg/live/callstate"
	"github.com/vango-go/village-live/pkg/live/conn"
	"github.com/vango-go/village-live/pkg/live/metrics"
	"github.com/vango-go/village-live/pkg/live/protocol"
	"github.com/vango-go/village-live/pkg/village"
)

// Config configures an Engine.
type Config struct {
	Conn           conn.Config
	ResponseTarget time.Duration
}

// Snapshot is a consistent view of the engine at one instant. Aggregate is a
// value and is never modified after it is handed out.
type Snapshot struct {
	State      conn.State
	Generation uint64
	Aggregate  callstate.Aggregate
}

// CallEnded is delivered once when the active call ends.
type CallEnded struct {
	CallID    string
	Summary   *village.CallSummary
	Aggregate callstate.Aggregate
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces time.Now for event receipt times.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithOnUpdate registers a callback for every aggregate change and every
// connection state change. It runs on the dispatch goroutine, or on the
// caller's goroutine for StartSession and EndSession, and must not block.
func WithOnUpdate(fn func(Snapshot)) Option {
	return func(e *Engine) { e.onUpdate = fn }
}

// WithOnCallEnded registers a callback for call_ended.
func WithOnCallEnded(fn func(CallEnded)) Option {
	return func(e *Engine) { e.onCallEnded = fn }
}

// WithConnOptions passes extra options to the underlying conn.Manager.
func WithConnOptions(opts ...conn.Option) Option {
	return func(e *Engine) { e.connOpts = append(e.connOpts, opts...) }
}

// Engine is the live call-state synchronization engine.
type Engine struct {
	target      time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	onUpdate    func(Snapshot)
	onCallEnded func(CallEnded)
	connOpts    []conn.Option

	manager *conn.Manager

	mu  sync.Mutex
	agg callstate.Aggregate
}

// New builds an idle Engine. Call Start to connect.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		target: cfg.ResponseTarget,
		logger: slog.Default(),
		now:    time.Now,
		agg:    callstate.Empty(),
	}
	if e.target <= 0 {
		e.target = callstate.DefaultResponseTarget
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	connOpts := append([]conn.Option{
		conn.WithLogger(e.logger),
		conn.WithMetrics(e.metrics),
	}, e.connOpts...)
	e.manager = conn.New(cfg.Conn, e, connOpts...)
	e.logger = e.logger.With("component", "engine")
	return e
}

// Start connects in the background. Cancelling ctx closes the engine.
func (e *Engine) Start(ctx context.Context) error {
	return e.manager.Connect(ctx)
}

// Close disconnects and cancels any pending reconnect. It is idempotent.
func (e *Engine) Close() {
	e.manager.Disconnect()
}

func (e *Engine) ConnectionState() conn.State { return e.manager.State() }

func (e *Engine) Generation() uint64 { return e.manager.Generation() }

// Snapshot returns the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// ResponseTimer returns the response timer as it stands now, completing it
// in the returned value once the target has elapsed.
func (e *Engine) ResponseTimer() callstate.ResponseTimer {
	e.mu.Lock()
	timer := e.agg.Timer
	e.mu.Unlock()
	return timer.Evaluate(e.now(), e.target)
}

// ResponseTarget is the duration after which the response timer completes.
func (e *Engine) ResponseTarget() time.Duration { return e.target }

// CompleteResponseTimer stops a running response timer, freezing its elapsed
// time.
func (e *Engine) CompleteResponseTimer() {
	e.mu.Lock()
	before := e.agg.Timer
	e.agg.Timer = before.Complete(e.now())
	changed := before != e.agg.Timer
	snap := e.snapshotLocked()
	e.mu.Unlock()
	if changed {
		e.logger.Info("response timer completed", "call_id", snap.Aggregate.CallID(), "elapsed", snap.Aggregate.Timer.Elapsed)
		e.publish(snap)
	}
}

// Send writes an arbitrary client message. It reports false when the socket
// is not open.
func (e *Engine) Send(v any) bool {
	return e.manager.Send(v)
}

// StartSession begins tracking call. The previous aggregate is discarded
// before any later event is applied, and the call is subscribed right away
// when the socket is open.
func (e *Engine) StartSession(call callstate.Call) {
	e.mu.Lock()
	e.agg = callstate.NewCall(call)
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.logger.Info("session started", "call_id", call.ID, "elder_id", call.ElderID)
	e.publish(snap)
	if snap.State == conn.StateConnected {
		e.subscribe(call.ID)
	}
}

// EndSession stops tracking the current call.
func (e *Engine) EndSession() {
	e.mu.Lock()
	callID := e.agg.CallID()
	e.agg = callstate.Empty()
	snap := e.snapshotLocked()
	e.mu.Unlock()

	if callID != "" {
		e.logger.Info("session ended", "call_id", callID)
	}
	e.publish(snap)
}

// OnOpen implements conn.Handler.
func (e *Engine) OnOpen() {
	snap := e.Snapshot()
	e.publish(snap)
	if id := snap.Aggregate.CallID(); id != "" {
		e.subscribe(id)
	}
}

// OnClose implements conn.Handler.
func (e *Engine) OnClose(err error) {
	e.publish(e.Snapshot())
}

// OnEvent implements conn.Handler.
func (e *Engine) OnEvent(ev protocol.Event) {
	switch v := ev.(type) {
	case protocol.ServerError:
		e.logger.Warn("server reported error", "message", v.Message, "code", v.Code)
	case protocol.Subscribed:
		e.logger.Debug("subscription confirmed", "call_id", v.CallID)
	}

	now := e.now()
	e.mu.Lock()
	next, res := callstate.Apply(e.agg, ev, now)
	e.agg = next
	snap := e.snapshotLocked()
	e.mu.Unlock()

	eventType := metricLabel(ev)
	e.metrics.RecordEvent(eventType, string(res.Outcome))

	switch res.Outcome {
	case callstate.OutcomeDropped:
		e.logger.Warn("event dropped",
			"event_type", eventType,
			"reason", res.Reason,
			"call_id", snap.Aggregate.CallID())
		return
	case callstate.OutcomeIgnored:
		return
	}

	if res.TimerArmed {
		e.metrics.RecordTimerArmed()
		e.logger.Info("response timer started", "call_id", snap.Aggregate.CallID())
	}
	e.publish(snap)

	if res.Ended {
		e.logger.Info("call ended", "call_id", snap.Aggregate.CallID())
		if e.onCallEnded != nil {
			e.onCallEnded(CallEnded{
				CallID:    snap.Aggregate.CallID(),
				Summary:   snap.Aggregate.Call.Summary,
				Aggregate: snap.Aggregate,
			})
		}
	}
}

func (e *Engine) subscribe(callID string) {
	if !e.manager.Send(protocol.NewSubscribe(callID)) {
		return
	}
	e.metrics.RecordSubscribe()
	e.logger.Info("subscribed to call", "call_id", callID, "generation", e.manager.Generation())
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		State:      e.manager.State(),
		Generation: e.manager.Generation(),
		Aggregate:  e.agg,
	}
}

func (e *Engine) publish(snap Snapshot) {
	if e.onUpdate != nil {
		e.onUpdate(snap)
	}
}

func metricLabel(ev protocol.Event) string {
	if _, ok := ev.(protocol.Unknown); ok {
		return "unknown"
	}
	if ev == nil {
		return "nil"
	}
	return ev.EventType()
}
