package relay

import (
	"slices"
	"time"

	"github.com/vango-go/village-live/pkg/live/protocol"
	"github.com/vango-go/village-live/pkg/village"
)

// recordEvent folds an injected event into the stored call record so GET
// /api/call/:id reflects what subscribers have seen. It reports whether the
// record changed. Village actions are stored separately; see Server.injectEvent.
func recordEvent(call *village.CallSession, ev protocol.Event, now time.Time) bool {
	switch e := ev.(type) {
	case protocol.CallStatus:
		if !e.Status.Valid() {
			return false
		}
		call.Status = e.Status
	case protocol.TranscriptUpdate:
		call.Transcript = append(slices.Clip(call.Transcript), e.Line)
	case protocol.BiometricUpdate:
		b := e.Biometrics
		call.Biometrics = &b
	case protocol.WellbeingUpdate:
		call.Wellbeing = village.MergeWellbeing(call.Wellbeing, e.Update)
	case protocol.ProfileUpdate:
		call.ProfileUpdates = append(slices.Clip(call.ProfileUpdates), e.Fact)
	case protocol.ConcernDetected:
		call.Concerns = append(slices.Clip(call.Concerns), e.Concern)
	case protocol.CallEnded:
		endCall(call, village.CallCompleted, now)
		if e.Summary != nil {
			call.Summary = e.Summary
		}
	default:
		return false
	}
	return true
}

func endCall(call *village.CallSession, status village.CallStatus, now time.Time) {
	call.Status = status
	if call.EndedAt == nil {
		ended := village.NewTimestamp(now.UTC())
		call.EndedAt = &ended
		secs := int(now.Sub(call.StartedAt.Time) / time.Second)
		if secs < 0 {
			secs = 0
		}
		call.DurationSeconds = &secs
	}
}

// upsertAction replaces the action with the same ID or appends it.
func upsertAction(actions []village.VillageAction, a village.VillageAction) []village.VillageAction {
	out := slices.Clone(actions)
	for i := range out {
		if out[i].ID == a.ID {
			out[i] = a
			return out
		}
	}
	return append(out, a)
}
