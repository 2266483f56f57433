package callstate

import "time"

// DefaultResponseTarget is how quickly the village is expected to be
// mobilized once an action-required concern is detected.
const DefaultResponseTarget = 78 * time.Second

// TimerPhase is the phase of the response timer.
type TimerPhase string

const (
	TimerIdle      TimerPhase = "idle"
	TimerRunning   TimerPhase = "running"
	TimerCompleted TimerPhase = "completed"
)

// ResponseTimer records when the village response clock started. The engine
// only records transitions; elapsed time is sampled by whoever renders it.
// The zero value is idle.
type ResponseTimer struct {
	Phase     TimerPhase    `json:"phase"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	Elapsed   time.Duration `json:"elapsed,omitempty"`
}

// State returns the phase, treating the zero value as idle.
func (t ResponseTimer) State() TimerPhase {
	if t.Phase == "" {
		return TimerIdle
	}
	return t.Phase
}

func (t ResponseTimer) Running() bool { return t.State() == TimerRunning }

// Arm starts the clock at now if the timer is idle. A running or completed
// timer is returned unchanged.
func (t ResponseTimer) Arm(now time.Time) ResponseTimer {
	if t.State() != TimerIdle {
		return t
	}
	return ResponseTimer{Phase: TimerRunning, StartedAt: now}
}

// Evaluate completes a running timer once now-StartedAt reaches target. It
// is level-triggered: calling it repeatedly with the same inputs is stable.
func (t ResponseTimer) Evaluate(now time.Time, target time.Duration) ResponseTimer {
	if t.State() != TimerRunning {
		return t
	}
	if target <= 0 {
		target = DefaultResponseTarget
	}
	if elapsed := now.Sub(t.StartedAt); elapsed >= target {
		return ResponseTimer{Phase: TimerCompleted, StartedAt: t.StartedAt, Elapsed: elapsed}
	}
	return t
}

// Complete force-clears a running timer, recording the elapsed time.
func (t ResponseTimer) Complete(now time.Time) ResponseTimer {
	if t.State() != TimerRunning {
		return t
	}
	elapsed := now.Sub(t.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return ResponseTimer{Phase: TimerCompleted, StartedAt: t.StartedAt, Elapsed: elapsed}
}

// Reset returns an idle timer.
func (t ResponseTimer) Reset() ResponseTimer {
	return ResponseTimer{Phase: TimerIdle}
}

// ElapsedAt reports the time shown for the timer at now: zero when idle,
// the frozen value when completed.
func (t ResponseTimer) ElapsedAt(now time.Time) time.Duration {
	switch t.State() {
	case TimerRunning:
		if d := now.Sub(t.StartedAt); d > 0 {
			return d
		}
		return 0
	case TimerCompleted:
		return t.Elapsed
	default:
		return 0
	}
}
