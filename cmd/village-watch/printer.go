package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/village-live/pkg/live/callstate"
	"github.com/vango-go/village-live/pkg/live/conn"
	"github.com/vango-go/village-live/pkg/live/engine"
	"github.com/vango-go/village-live/pkg/village"
)

// printer renders engine snapshots as a log of what changed since the last
// one. It is called from the engine's dispatch goroutine.
type printer struct {
	out io.Writer

	mu         sync.Mutex
	state      conn.State
	callID     string
	status     village.CallStatus
	transcript int
	concerns   int
	facts      int
	overall    string
	actions    map[string]village.ActionStatus
	timer      callstate.TimerPhase
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, actions: make(map[string]village.ActionStatus)}
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) update(s engine.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.State != p.state {
		p.state = s.State
		p.printf("[conn] %s (generation %d)", s.State, s.Generation)
	}

	agg := s.Aggregate
	if agg.CallID() != p.callID {
		p.resetCall(agg.CallID())
		if agg.Call != nil {
			p.printf("[call] watching %s for elder %s", agg.Call.ID, agg.Call.ElderID)
		}
	}
	if agg.Call == nil {
		return
	}

	if agg.Call.Status != p.status {
		p.status = agg.Call.Status
		p.printf("[call] status %s", p.status)
	}
	for _, line := range agg.Transcript[min(p.transcript, len(agg.Transcript)):] {
		name := line.SpeakerName
		if name == "" {
			name = string(line.Speaker)
		}
		p.printf("%s: %s", name, line.Text)
	}
	p.transcript = len(agg.Transcript)

	for _, c := range agg.Concerns[min(p.concerns, len(agg.Concerns)):] {
		p.printf("[concern] %s %s/%s: %s", strings.ToUpper(string(c.Severity)), c.Dimension, c.Type, c.Description)
	}
	p.concerns = len(agg.Concerns)

	for _, f := range agg.ProfileFacts[min(p.facts, len(agg.ProfileFacts)):] {
		p.printf("[learned] %s", f.Fact)
	}
	p.facts = len(agg.ProfileFacts)

	if agg.Wellbeing != nil && agg.Wellbeing.OverallConcernLevel != "" && agg.Wellbeing.OverallConcernLevel != p.overall {
		p.overall = agg.Wellbeing.OverallConcernLevel
		p.printf("[wellbeing] overall concern level %s", p.overall)
	}

	for _, a := range agg.VillageActions.List() {
		if p.actions[a.ID] == a.Status {
			continue
		}
		p.actions[a.ID] = a.Status
		line := fmt.Sprintf("[village] %s (%s) %s", a.Recipient.Name, a.Recipient.Role, a.Status)
		if a.Response != "" {
			line += fmt.Sprintf(": %q", a.Response)
		}
		p.printf("%s", line)
	}

	p.timerLocked(agg.Timer)
}

// timerUpdate prints timer transitions the engine does not publish, such as the
// evaluated completion.
func (p *printer) timerUpdate(t callstate.ResponseTimer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timerLocked(t)
}

func (p *printer) timerLocked(t callstate.ResponseTimer) {
	phase := t.State()
	if phase == p.timer {
		return
	}
	p.timer = phase
	switch phase {
	case callstate.TimerRunning:
		p.printf("[timer] village response clock started")
	case callstate.TimerCompleted:
		p.printf("[timer] village mobilized in %s", t.Elapsed.Round(time.Second))
	}
}

func (p *printer) resetCall(callID string) {
	p.callID = callID
	p.status = ""
	p.transcript, p.concerns, p.facts = 0, 0, 0
	p.overall = ""
	p.actions = make(map[string]village.ActionStatus)
	p.timer = callstate.TimerIdle
}

func (p *printer) summary(ev engine.CallEnded) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printf("[call] %s ended", ev.CallID)
	if ev.Summary == nil {
		return
	}
	s := ev.Summary
	if s.Overview != "" {
		p.printf("summary: %s", s.Overview)
	}
	if s.MemorableMoment != "" {
		p.printf("memorable moment: %s", s.MemorableMoment)
	}
	for _, prompt := range s.NextCallPrompts {
		p.printf("next call: %s", prompt)
	}
}
