package callstate

import (
	"slices"
	"time"

	"github.com/vango-go/village-live/pkg/village"
)

// Call is the identity and lifecycle of the active call.
type Call struct {
	ID        string               `json:"id"`
	ElderID   string               `json:"elder_id"`
	Status    village.CallStatus   `json:"status"`
	StartedAt time.Time            `json:"started_at"`
	EndedAt   *time.Time           `json:"ended_at,omitempty"`
	Summary   *village.CallSummary `json:"summary,omitempty"`
}

// Aggregate is the projected state of one call. It is a value: Apply never
// mutates an aggregate it was given, so callers may keep and share old ones.
type Aggregate struct {
	Call           *Call                        `json:"call"`
	Transcript     []village.TranscriptLine     `json:"transcript"`
	Wellbeing      *village.WellbeingAssessment `json:"wellbeing"`
	Concerns       []village.Concern            `json:"concerns"`
	VillageActions ActionSet                    `json:"village_actions"`
	ProfileFacts   []village.ProfileFact        `json:"profile_facts"`
	Timer          ResponseTimer                `json:"response_timer"`
}

// Empty is the aggregate with no active call.
func Empty() Aggregate {
	return Aggregate{Timer: ResponseTimer{Phase: TimerIdle}}
}

// NewCall returns a fresh aggregate for call. Everything from any previous
// call is gone.
func NewCall(call Call) Aggregate {
	if call.Status == "" {
		call.Status = village.CallInProgress
	}
	agg := Empty()
	agg.Call = &call
	return agg
}

// CallFromSession takes the identity of a call record returned by the
// call-lifecycle API.
func CallFromSession(s village.CallSession) Call {
	return Call{
		ID:        s.ID,
		ElderID:   s.ElderID,
		Status:    s.Status,
		StartedAt: s.StartedAt.Time,
	}
}

// Active reports whether a call is being tracked.
func (a Aggregate) Active() bool { return a.Call != nil }

// CallID returns the active call's identity or "".
func (a Aggregate) CallID() string {
	if a.Call == nil {
		return ""
	}
	return a.Call.ID
}

// appendClipped appends without ever writing into a backing array another
// aggregate may share.
func appendClipped[T any](s []T, v T) []T {
	return append(slices.Clip(s), v)
}

func (a Aggregate) withCall(mutate func(c *Call)) Aggregate {
	c := *a.Call
	mutate(&c)
	a.Call = &c
	return a
}
