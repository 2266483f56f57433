package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/village-live/pkg/live/callstate"
	"github.com/vango-go/village-live/pkg/live/conn"
	"github.com/vango-go/village-live/pkg/live/protocol"
	"github.com/vango-go/village-live/pkg/village"
)

const waitTimeout = 2 * time.Second

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeScheduler struct {
	mu    sync.Mutex
	tasks []func()
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	s.mu.Lock()
	s.tasks = append(s.tasks, f)
	s.mu.Unlock()
	return func() bool { return true }
}

func (s *fakeScheduler) fire(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.tasks) >= n {
			f := s.tasks[n-1]
			s.mu.Unlock()
			f()
			return
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("reconnect #%d never scheduled", n)
}

type serverConn struct {
	*websocket.Conn
}

func (c serverConn) send(t *testing.T, typ string, data any) {
	t.Helper()
	frame, err := protocol.Encode(typ, data)
	if err != nil {
		t.Fatalf("encode %s: %v", typ, err)
	}
	if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func (c serverConn) expectSubscribe(t *testing.T, callID string) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(waitTimeout))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read subscribe: %v", err)
	}
	var msg protocol.ClientSubscribe
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	if msg.Type != protocol.TypeSubscribeCall || msg.CallID != callID {
		t.Fatalf("frame=%s, want subscribe_call %q", data, callID)
	}
}

func newServer(t *testing.T) (string, <-chan serverConn) {
	t.Helper()
	conns := make(chan serverConn, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- serverConn{c}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), conns
}

func nextConn(t *testing.T, conns <-chan serverConn) serverConn {
	t.Helper()
	select {
	case c := <-conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(waitTimeout):
		t.Fatal("no client connection")
		return serverConn{}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEngine_SubscribesOnOpenAndAfterReconnect(t *testing.T) {
	t.Parallel()

	url, conns := newServer(t)
	sched := &fakeScheduler{}
	e := New(Config{Conn: conn.Config{URL: url}},
		WithLogger(quietLogger()),
		WithConnOptions(conn.WithAfterFunc(sched.AfterFunc)),
	)
	t.Cleanup(e.Close)

	e.StartSession(callstate.Call{ID: "c1", ElderID: "elder-1"})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	first := nextConn(t, conns)
	first.expectSubscribe(t, "c1")

	_ = first.Close()
	sched.fire(t, 1)
	second := nextConn(t, conns)
	second.expectSubscribe(t, "c1")

	waitUntil(t, "connected", func() bool { return e.ConnectionState() == conn.StateConnected })
	if e.Generation() != 2 {
		t.Fatalf("generation=%d, want 2", e.Generation())
	}
}

func TestEngine_NoSubscribeWithoutActiveCall(t *testing.T) {
	t.Parallel()

	url, conns := newServer(t)
	e := New(Config{Conn: conn.Config{URL: url}}, WithLogger(quietLogger()))
	t.Cleanup(e.Close)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	server := nextConn(t, conns)

	_ = server.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, data, err := server.ReadMessage(); err == nil {
		t.Fatalf("unexpected frame without a call: %s", data)
	}
}

func TestEngine_StartSessionWhileConnectedSubscribesImmediately(t *testing.T) {
	t.Parallel()

	url, conns := newServer(t)
	var mu sync.Mutex
	var updates []Snapshot
	e := New(Config{Conn: conn.Config{URL: url}},
		WithLogger(quietLogger()),
		WithOnUpdate(func(s Snapshot) {
			mu.Lock()
			updates = append(updates, s)
			mu.Unlock()
		}),
	)
	t.Cleanup(e.Close)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	server := nextConn(t, conns)
	waitUntil(t, "connected", func() bool { return e.ConnectionState() == conn.StateConnected })

	e.StartSession(callstate.Call{ID: "c7"})
	server.expectSubscribe(t, "c7")

	mu.Lock()
	defer mu.Unlock()
	for _, s := range updates {
		if s.Aggregate.CallID() == "c7" && s.Aggregate.Call.Status == village.CallInProgress {
			return
		}
	}
	t.Fatalf("no update for c7 among %d updates", len(updates))
}

func TestEngine_FullCallFlow(t *testing.T) {
	t.Parallel()

	url, conns := newServer(t)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	ended := make(chan CallEnded, 1)
	e := New(Config{Conn: conn.Config{URL: url}},
		WithLogger(quietLogger()),
		WithClock(clock.Now),
		WithOnCallEnded(func(c CallEnded) { ended <- c }),
	)
	t.Cleanup(e.Close)

	e.StartSession(callstate.Call{ID: "c1", ElderID: "elder-1"})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	server := nextConn(t, conns)
	server.expectSubscribe(t, "c1")

	armedAt := clock.Now()
	server.send(t, protocol.TypeSubscribed, map[string]string{"call_id": "c1"})
	server.send(t, protocol.TypeTranscriptUpdate, village.TranscriptLine{ID: "l1", Speaker: village.SpeakerElder, Text: "I fell yesterday"})
	server.send(t, protocol.TypeConcernDetected, village.Concern{ID: "k1", Dimension: village.DimensionPhysical, Severity: village.SeverityHigh, ActionRequired: true})
	server.send(t, protocol.TypeVillageActionStarted, village.VillageAction{ID: "va-1", CallSessionID: "c1", Status: village.ActionCalling})
	server.send(t, protocol.TypeVillageActionUpdate, map[string]string{"id": "va-1", "status": "completed", "response": "on my way"})
	server.send(t, protocol.TypeVillageActionUpdate, map[string]string{"id": "va-404", "status": "completed"})

	waitUntil(t, "action completed", func() bool {
		a, ok := e.Snapshot().Aggregate.VillageActions.Get("va-1")
		return ok && a.Status == village.ActionCompleted
	})

	clock.Advance(30 * time.Second)
	timer := e.ResponseTimer()
	if !timer.Running() || !timer.StartedAt.Equal(armedAt) {
		t.Fatalf("timer=%+v", timer)
	}
	if got := timer.ElapsedAt(clock.Now()); got != 30*time.Second {
		t.Fatalf("elapsed=%v", got)
	}

	server.send(t, protocol.TypeCallEnded, map[string]any{"call_id": "c1", "summary": map[string]string{"overview": "fall reported"}})

	var got CallEnded
	select {
	case got = <-ended:
	case <-time.After(waitTimeout):
		t.Fatal("call_ended not delivered")
	}
	if got.CallID != "c1" || got.Summary == nil || got.Summary.Overview != "fall reported" {
		t.Fatalf("ended=%+v", got)
	}

	agg := e.Snapshot().Aggregate
	if len(agg.Transcript) != 1 || len(agg.Concerns) != 1 || agg.VillageActions.Len() != 1 {
		t.Fatalf("transcript=%d concerns=%d actions=%d", len(agg.Transcript), len(agg.Concerns), agg.VillageActions.Len())
	}
	if agg.Call.Status != village.CallCompleted || agg.Timer.State() != callstate.TimerIdle {
		t.Fatalf("call=%+v timer=%+v", agg.Call, agg.Timer)
	}
}

func TestEngine_ResponseTimerCompletesAtTarget(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(1000, 0)}
	e := New(Config{ResponseTarget: 10 * time.Second}, WithLogger(quietLogger()), WithClock(clock.Now))
	e.StartSession(callstate.Call{ID: "c1"})
	e.OnEvent(protocol.ConcernDetected{Concern: village.Concern{ID: "k1", ActionRequired: true}})

	clock.Advance(9 * time.Second)
	if !e.ResponseTimer().Running() {
		t.Fatalf("timer=%+v", e.ResponseTimer())
	}
	clock.Advance(time.Second)
	if got := e.ResponseTimer(); got.State() != callstate.TimerCompleted || got.Elapsed != 10*time.Second {
		t.Fatalf("timer=%+v", got)
	}

	e.CompleteResponseTimer()
	clock.Advance(time.Minute)
	if got := e.ResponseTimer(); got.Elapsed != 10*time.Second {
		t.Fatalf("frozen elapsed=%v", got.Elapsed)
	}
}

func TestEngine_StartSessionResetsAndEndSessionClears(t *testing.T) {
	t.Parallel()

	e := New(Config{}, WithLogger(quietLogger()))
	e.StartSession(callstate.Call{ID: "c1"})
	e.OnEvent(protocol.TranscriptUpdate{Line: village.TranscriptLine{ID: "l1"}})
	e.OnEvent(protocol.ConcernDetected{Concern: village.Concern{ID: "k1", ActionRequired: true}})

	e.StartSession(callstate.Call{ID: "c2"})
	agg := e.Snapshot().Aggregate
	if agg.CallID() != "c2" || len(agg.Transcript) != 0 || len(agg.Concerns) != 0 || agg.Timer.State() != callstate.TimerIdle {
		t.Fatalf("aggregate not reset: %+v", agg)
	}

	// Late events for the previous call are dropped.
	e.OnEvent(protocol.CallEnded{CallID: "c1"})
	if e.Snapshot().Aggregate.Call.Status == village.CallCompleted {
		t.Fatal("stale call_ended applied to the new call")
	}

	e.EndSession()
	if e.Snapshot().Aggregate.Active() {
		t.Fatal("aggregate still active after EndSession")
	}
	e.OnEvent(protocol.TranscriptUpdate{Line: village.TranscriptLine{ID: "l2"}})
	if len(e.Snapshot().Aggregate.Transcript) != 0 {
		t.Fatal("event applied without an active call")
	}
}

func TestEngine_CallEndedDeliveredOnce(t *testing.T) {
	t.Parallel()

	var ended []CallEnded
	e := New(Config{}, WithLogger(quietLogger()), WithOnCallEnded(func(c CallEnded) { ended = append(ended, c) }))
	e.StartSession(callstate.Call{ID: "c1"})

	e.OnEvent(protocol.CallEnded{CallID: "c1", Summary: &village.CallSummary{Overview: "good call"}})
	e.OnEvent(protocol.CallEnded{CallID: "c1"})

	if len(ended) != 1 {
		t.Fatalf("call ended delivered %d times, want 1", len(ended))
	}
	if ended[0].Summary == nil || ended[0].Summary.Overview != "good call" {
		t.Fatalf("ended=%+v", ended[0])
	}
}

func TestEngine_SendWhileDisconnected(t *testing.T) {
	t.Parallel()

	e := New(Config{}, WithLogger(quietLogger()))
	if e.Send(protocol.NewPing()) {
		t.Fatal("Send() = true while disconnected")
	}
	if e.ConnectionState() != conn.StateDisconnected {
		t.Fatalf("state=%q", e.ConnectionState())
	}
}
