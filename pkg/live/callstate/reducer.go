package callstate

import (
	"time"

	"github.com/vango-go/village-live/pkg/live/protocol"
	"github.com/vango-go/village-live/pkg/village"
)

// Outcome classifies what Apply did with an event.
type Outcome string

const (
	// OutcomeApplied means the aggregate changed.
	OutcomeApplied Outcome = "applied"
	// OutcomeIgnored means the event is informational for the projection.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeDropped means the event was rejected; Reason says why.
	OutcomeDropped Outcome = "dropped"
)

// Drop reasons.
const (
	ReasonNoActiveCall    = "no_active_call"
	ReasonCallMismatch    = "call_mismatch"
	ReasonUnknownType     = "unknown_event_type"
	ReasonUnknownAction   = "unknown_action_id"
	ReasonDuplicateAction = "duplicate_action_id"
	ReasonNilEvent        = "nil_event"
)

// Result describes the effect of one Apply.
type Result struct {
	Outcome Outcome
	Reason  string
	// TimerArmed is set when the event started the response timer.
	TimerArmed bool
	// Ended is set when the event closed the active call.
	Ended bool
}

func applied() Result { return Result{Outcome: OutcomeApplied} }

func ignored() Result { return Result{Outcome: OutcomeIgnored} }

func dropped(reason string) Result { return Result{Outcome: OutcomeDropped, Reason: reason} }

// Apply projects one event onto agg and returns the next aggregate. It is a
// pure function of its inputs: now is the receipt time used for the response
// timer and the call end time. Events that cannot be applied come back with
// OutcomeDropped and agg unchanged.
//
// Events are scoped to the active call, so a call_started naming another call
// is dropped as a mismatch and leaves the timer as it is. The timer returns to
// idle for a new call through NewCall, which the engine's StartSession uses.
// A repeated call_ended for a call that already ended is ignored.
func Apply(agg Aggregate, ev protocol.Event, now time.Time) (Aggregate, Result) {
	switch ev.(type) {
	case nil:
		return agg, dropped(ReasonNilEvent)
	case protocol.Connected, protocol.Subscribed, protocol.Pong, protocol.ServerError,
		protocol.BiometricUpdate, protocol.TimerUpdate:
		return agg, ignored()
	case protocol.Unknown:
		return agg, dropped(ReasonUnknownType)
	}

	if !agg.Active() {
		return agg, dropped(ReasonNoActiveCall)
	}
	if scope := eventCallID(ev); scope != "" && scope != agg.Call.ID {
		return agg, dropped(ReasonCallMismatch)
	}

	switch e := ev.(type) {
	case protocol.CallStarted:
		if agg.Timer.State() == TimerIdle {
			return agg, ignored()
		}
		agg.Timer = agg.Timer.Reset()
		return agg, applied()

	case protocol.CallStatus:
		return agg.withCall(func(c *Call) { c.Status = e.Status }), applied()

	case protocol.TranscriptUpdate:
		agg.Transcript = appendClipped(agg.Transcript, e.Line)
		return agg, applied()

	case protocol.WellbeingUpdate:
		agg.Wellbeing = village.MergeWellbeing(agg.Wellbeing, e.Update)
		return agg, applied()

	case protocol.ProfileUpdate:
		agg.ProfileFacts = appendClipped(agg.ProfileFacts, e.Fact)
		return agg, applied()

	case protocol.ConcernDetected:
		agg.Concerns = appendClipped(agg.Concerns, e.Concern)
		res := applied()
		if e.Concern.ActionRequired && agg.Timer.State() == TimerIdle {
			agg.Timer = agg.Timer.Arm(now)
			res.TimerArmed = true
		}
		return agg, res

	case protocol.VillageActionStarted:
		next, ok := agg.VillageActions.Insert(e.Action)
		if !ok {
			return agg, dropped(ReasonDuplicateAction)
		}
		agg.VillageActions = next
		return agg, applied()

	case protocol.VillageActionUpdate:
		next, ok := agg.VillageActions.Patch(e.ID, e.Status, e.Response)
		if !ok {
			return agg, dropped(ReasonUnknownAction)
		}
		agg.VillageActions = next
		return agg, applied()

	case protocol.CallEnded:
		if agg.Call.EndedAt != nil {
			return agg, ignored()
		}
		ended := now
		agg = agg.withCall(func(c *Call) {
			c.Status = village.CallCompleted
			c.EndedAt = &ended
			c.Summary = e.Summary
		})
		agg.Timer = agg.Timer.Reset()
		res := applied()
		res.Ended = true
		return agg, res
	}

	return agg, dropped(ReasonUnknownType)
}

// eventCallID returns the call identity an event is scoped to, or "" when
// the event does not name one.
func eventCallID(ev protocol.Event) string {
	switch e := ev.(type) {
	case protocol.CallStarted:
		return e.CallID
	case protocol.CallStatus:
		return e.CallID
	case protocol.CallEnded:
		return e.CallID
	case protocol.VillageActionStarted:
		return e.Action.CallSessionID
	case protocol.ProfileUpdate:
		return e.Fact.SourceCallID
	default:
		return ""
	}
}
