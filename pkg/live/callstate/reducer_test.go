package callstate

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/vango-go/village-live/pkg/live/protocol"
	"github.com/vango-go/village-live/pkg/village"
)

var cmpAggregate = cmp.AllowUnexported(ActionSet{})

func activeCall(id string) Aggregate {
	return NewCall(Call{ID: id, ElderID: "elder-1", StartedAt: time.Unix(900, 0)})
}

func applyAll(t *testing.T, agg Aggregate, now time.Time, events ...protocol.Event) Aggregate {
	t.Helper()
	for _, ev := range events {
		agg, _ = Apply(agg, ev, now)
	}
	return agg
}

func TestApply_FullCallScenario(t *testing.T) {
	t0 := time.Unix(1000, 0)
	agg := activeCall("c1")

	agg, res := Apply(agg, protocol.TranscriptUpdate{Line: village.TranscriptLine{ID: "l1", Speaker: village.SpeakerElder, Text: "I'm fine"}}, t0)
	if res.Outcome != OutcomeApplied {
		t.Fatalf("transcript res=%+v", res)
	}
	agg, res = Apply(agg, protocol.ConcernDetected{Concern: village.Concern{ID: "k1", Dimension: village.DimensionPhysical, ActionRequired: true}}, t0)
	if !res.TimerArmed {
		t.Fatalf("concern did not arm timer: %+v", res)
	}
	agg, _ = Apply(agg, protocol.VillageActionStarted{Action: village.VillageAction{ID: "va-1", CallSessionID: "c1", Status: village.ActionPending}}, t0.Add(time.Second))
	response := "on my way"
	agg, _ = Apply(agg, protocol.VillageActionUpdate{ID: "va-1", Status: village.ActionCompleted, Response: &response}, t0.Add(2*time.Second))

	if len(agg.Transcript) != 1 || len(agg.Concerns) != 1 {
		t.Fatalf("transcript=%d concerns=%d", len(agg.Transcript), len(agg.Concerns))
	}
	if !agg.Timer.Running() || !agg.Timer.StartedAt.Equal(t0) {
		t.Fatalf("timer=%+v", agg.Timer)
	}
	action, ok := agg.VillageActions.Get("va-1")
	if !ok || action.Status != village.ActionCompleted || action.Response != "on my way" {
		t.Fatalf("action=%+v ok=%v", action, ok)
	}
	if agg.VillageActions.Len() != 1 {
		t.Fatalf("actions=%d, want 1", agg.VillageActions.Len())
	}

	endAt := t0.Add(30 * time.Second)
	agg, res = Apply(agg, protocol.CallEnded{CallID: "c1", Summary: &village.CallSummary{Overview: "ok"}}, endAt)
	if !res.Ended {
		t.Fatalf("call_ended res=%+v", res)
	}
	if agg.Call.Status != village.CallCompleted || agg.Call.EndedAt == nil || !agg.Call.EndedAt.Equal(endAt) {
		t.Fatalf("call=%+v", agg.Call)
	}
	if agg.Call.Summary == nil || agg.Call.Summary.Overview != "ok" {
		t.Fatalf("summary=%+v", agg.Call.Summary)
	}
	if agg.Timer.State() != TimerIdle {
		t.Fatalf("timer after end=%+v", agg.Timer)
	}
}

func TestApply_IsDeterministic(t *testing.T) {
	now := time.Unix(1000, 0)
	events := []protocol.Event{
		protocol.CallStatus{CallID: "c1", Status: village.CallInProgress},
		protocol.TranscriptUpdate{Line: village.TranscriptLine{ID: "l1", Text: "hi"}},
		protocol.WellbeingUpdate{Update: village.WellbeingAssessment{OverallConcernLevel: "low"}},
		protocol.ProfileUpdate{Fact: village.ProfileFact{ID: "f1", Fact: "likes tea"}},
		protocol.ConcernDetected{Concern: village.Concern{ID: "k1", ActionRequired: true}},
		protocol.VillageActionStarted{Action: village.VillageAction{ID: "va-1"}},
	}

	a := applyAll(t, activeCall("c1"), now, events...)
	b := applyAll(t, activeCall("c1"), now, events...)
	if diff := cmp.Diff(a, b, cmpAggregate); diff != "" {
		t.Fatalf("aggregates differ (-a +b):\n%s", diff)
	}
}

func TestApply_TranscriptKeepsArrivalOrder(t *testing.T) {
	now := time.Unix(1000, 0)
	agg := applyAll(t, activeCall("c1"), now,
		protocol.TranscriptUpdate{Line: village.TranscriptLine{ID: "l1", Text: "one"}},
		protocol.TranscriptUpdate{Line: village.TranscriptLine{ID: "l2", Text: "two"}},
		protocol.TranscriptUpdate{Line: village.TranscriptLine{ID: "l3", Text: "three"}},
	)

	var got []string
	for _, line := range agg.Transcript {
		got = append(got, line.ID)
	}
	if diff := cmp.Diff([]string{"l1", "l2", "l3"}, got); diff != "" {
		t.Fatalf("order (-want +got):\n%s", diff)
	}
}

func TestApply_WellbeingPartialUpdateKeepsOtherDimensions(t *testing.T) {
	now := time.Unix(1000, 0)
	emotional := &village.EmotionalState{CurrentMood: "content"}
	agg := applyAll(t, activeCall("c1"), now,
		protocol.WellbeingUpdate{Update: village.WellbeingAssessment{Emotional: emotional, OverallConcernLevel: "low"}},
		protocol.WellbeingUpdate{Update: village.WellbeingAssessment{Social: &village.SocialState{IsolationLevel: "moderate"}}},
	)

	if agg.Wellbeing == nil || agg.Wellbeing.Emotional == nil || agg.Wellbeing.Emotional.CurrentMood != "content" {
		t.Fatalf("emotional lost: %+v", agg.Wellbeing)
	}
	if agg.Wellbeing.Social == nil || agg.Wellbeing.Social.IsolationLevel != "moderate" {
		t.Fatalf("social=%+v", agg.Wellbeing.Social)
	}
	if agg.Wellbeing.OverallConcernLevel != "low" {
		t.Fatalf("overall=%q", agg.Wellbeing.OverallConcernLevel)
	}
}

func TestApply_UnknownActionUpdateIsNoOp(t *testing.T) {
	now := time.Unix(1000, 0)
	before := applyAll(t, activeCall("c1"), now,
		protocol.VillageActionStarted{Action: village.VillageAction{ID: "va-1", Status: village.ActionPending}},
	)

	after, res := Apply(before, protocol.VillageActionUpdate{ID: "va-404", Status: village.ActionCompleted}, now)
	if res.Outcome != OutcomeDropped || res.Reason != ReasonUnknownAction {
		t.Fatalf("res=%+v", res)
	}
	if diff := cmp.Diff(before, after, cmpAggregate); diff != "" {
		t.Fatalf("aggregate changed (-before +after):\n%s", diff)
	}
}

func TestApply_DuplicateActionStartIsDropped(t *testing.T) {
	now := time.Unix(1000, 0)
	agg := applyAll(t, activeCall("c1"), now,
		protocol.VillageActionStarted{Action: village.VillageAction{ID: "va-1", Reason: "first"}},
	)
	agg, res := Apply(agg, protocol.VillageActionStarted{Action: village.VillageAction{ID: "va-1", Reason: "second"}}, now)
	if res.Reason != ReasonDuplicateAction {
		t.Fatalf("res=%+v", res)
	}
	if a, _ := agg.VillageActions.Get("va-1"); a.Reason != "first" {
		t.Fatalf("action replaced: %+v", a)
	}
}

func TestApply_TimerArmsOnceAndOnlyForActionRequired(t *testing.T) {
	t0 := time.Unix(1000, 0)
	agg, res := Apply(activeCall("c1"), protocol.ConcernDetected{Concern: village.Concern{ID: "k0"}}, t0)
	if res.TimerArmed || agg.Timer.State() != TimerIdle {
		t.Fatalf("informational concern armed timer: %+v", agg.Timer)
	}

	agg, _ = Apply(agg, protocol.ConcernDetected{Concern: village.Concern{ID: "k1", ActionRequired: true}}, t0)
	agg, res = Apply(agg, protocol.ConcernDetected{Concern: village.Concern{ID: "k2", ActionRequired: true}}, t0.Add(5*time.Second))
	if res.TimerArmed {
		t.Fatalf("second concern re-armed: %+v", res)
	}
	if !agg.Timer.StartedAt.Equal(t0) {
		t.Fatalf("start=%v, want %v", agg.Timer.StartedAt, t0)
	}
	if len(agg.Concerns) != 3 {
		t.Fatalf("concerns=%d", len(agg.Concerns))
	}
}

func TestApply_CallStartedForActiveCallResetsTimer(t *testing.T) {
	t0 := time.Unix(1000, 0)
	agg := applyAll(t, activeCall("c1"), t0,
		protocol.ConcernDetected{Concern: village.Concern{ID: "k1", ActionRequired: true}},
	)
	agg, res := Apply(agg, protocol.CallStarted{CallID: "c1", ElderID: "elder-1"}, t0.Add(time.Second))
	if res.Outcome != OutcomeApplied || agg.Timer.State() != TimerIdle {
		t.Fatalf("res=%+v timer=%+v", res, agg.Timer)
	}
	if _, res = Apply(agg, protocol.CallStarted{CallID: "c1"}, t0); res.Outcome != OutcomeIgnored {
		t.Fatalf("idle call_started res=%+v", res)
	}
}

func TestApply_CallStartedForOtherCallKeepsTimer(t *testing.T) {
	t0 := time.Unix(1000, 0)
	agg := applyAll(t, activeCall("c1"), t0,
		protocol.ConcernDetected{Concern: village.Concern{ID: "k1", ActionRequired: true}},
	)
	got, res := Apply(agg, protocol.CallStarted{CallID: "c2", ElderID: "elder-1"}, t0.Add(time.Second))
	if res.Outcome != OutcomeDropped || res.Reason != ReasonCallMismatch {
		t.Fatalf("res=%+v", res)
	}
	if !got.Timer.Running() {
		t.Fatalf("timer=%+v, want still running", got.Timer)
	}
}

func TestApply_RepeatedCallEndedIsIgnored(t *testing.T) {
	t0 := time.Unix(1000, 0)
	summary := &village.CallSummary{Overview: "first"}
	agg, res := Apply(activeCall("c1"), protocol.CallEnded{CallID: "c1", Summary: summary}, t0)
	if !res.Ended {
		t.Fatalf("first call_ended res=%+v", res)
	}

	got, res := Apply(agg, protocol.CallEnded{CallID: "c1", Summary: &village.CallSummary{Overview: "second"}}, t0.Add(time.Minute))
	if res.Outcome != OutcomeIgnored || res.Ended {
		t.Fatalf("second call_ended res=%+v", res)
	}
	if !got.Call.EndedAt.Equal(t0) || got.Call.Summary != summary {
		t.Fatalf("call=%+v", got.Call)
	}
}

func TestApply_ScopeChecks(t *testing.T) {
	now := time.Unix(1000, 0)
	tests := []struct {
		name   string
		agg    Aggregate
		ev     protocol.Event
		reason string
	}{
		{"no active call", Empty(), protocol.TranscriptUpdate{Line: village.TranscriptLine{ID: "l1"}}, ReasonNoActiveCall},
		{"stale call_ended", activeCall("c2"), protocol.CallEnded{CallID: "c1"}, ReasonCallMismatch},
		{"stale call_status", activeCall("c2"), protocol.CallStatus{CallID: "c1", Status: village.CallFailed}, ReasonCallMismatch},
		{"action for other call", activeCall("c2"), protocol.VillageActionStarted{Action: village.VillageAction{ID: "va-1", CallSessionID: "c1"}}, ReasonCallMismatch},
		{"fact from other call", activeCall("c2"), protocol.ProfileUpdate{Fact: village.ProfileFact{ID: "f1", SourceCallID: "c1"}}, ReasonCallMismatch},
		{"unknown type", activeCall("c1"), protocol.Unknown{Type: "mood_forecast"}, ReasonUnknownType},
		{"nil", activeCall("c1"), nil, ReasonNilEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, res := Apply(tt.agg, tt.ev, now)
			if res.Outcome != OutcomeDropped || res.Reason != tt.reason {
				t.Fatalf("res=%+v, want dropped %q", res, tt.reason)
			}
			if diff := cmp.Diff(tt.agg, got, cmpAggregate); diff != "" {
				t.Fatalf("aggregate changed:\n%s", diff)
			}
		})
	}
}

func TestApply_InformationalEventsAreIgnored(t *testing.T) {
	now := time.Unix(1000, 0)
	agg := activeCall("c1")
	events := []protocol.Event{
		protocol.Connected{Message: "hello"},
		protocol.Subscribed{CallID: "c1"},
		protocol.Pong{},
		protocol.ServerError{Message: "nope"},
		protocol.BiometricUpdate{},
		protocol.TimerUpdate{ElapsedSeconds: 12},
	}
	for _, ev := range events {
		got, res := Apply(agg, ev, now)
		if res.Outcome != OutcomeIgnored {
			t.Fatalf("%s res=%+v", ev.EventType(), res)
		}
		if diff := cmp.Diff(agg, got, cmpAggregate); diff != "" {
			t.Fatalf("%s changed aggregate:\n%s", ev.EventType(), diff)
		}
	}
}

func TestApply_DoesNotMutatePriorAggregates(t *testing.T) {
	now := time.Unix(1000, 0)
	base := applyAll(t, activeCall("c1"), now,
		protocol.TranscriptUpdate{Line: village.TranscriptLine{ID: "l1"}},
		protocol.VillageActionStarted{Action: village.VillageAction{ID: "va-1", Status: village.ActionPending}},
	)
	// Two branches from the same parent must not see each other's lines.
	left, _ := Apply(base, protocol.TranscriptUpdate{Line: village.TranscriptLine{ID: "left"}}, now)
	right, _ := Apply(base, protocol.TranscriptUpdate{Line: village.TranscriptLine{ID: "right"}}, now)
	if left.Transcript[1].ID != "left" || right.Transcript[1].ID != "right" {
		t.Fatalf("branches share backing array: left=%v right=%v", left.Transcript, right.Transcript)
	}

	patched, _ := Apply(base, protocol.VillageActionUpdate{ID: "va-1", Status: village.ActionCompleted}, now)
	if a, _ := base.VillageActions.Get("va-1"); a.Status != village.ActionPending {
		t.Fatalf("base action mutated: %+v", a)
	}
	if a, _ := patched.VillageActions.Get("va-1"); a.Status != village.ActionCompleted {
		t.Fatalf("patched action=%+v", a)
	}

	ended, _ := Apply(base, protocol.CallEnded{CallID: "c1"}, now)
	if base.Call.Status == village.CallCompleted || ended.Call.Status != village.CallCompleted {
		t.Fatalf("base=%q ended=%q", base.Call.Status, ended.Call.Status)
	}
	if len(base.Transcript) != 1 {
		t.Fatalf("base transcript=%d", len(base.Transcript))
	}
}

func TestActionSet_ListKeepsFirstSeenOrder(t *testing.T) {
	var set ActionSet
	for _, id := range []string{"b", "a", "c"} {
		set, _ = set.Insert(village.VillageAction{ID: id})
	}
	set, _ = set.Patch("a", village.ActionCalling, nil)

	var ids []string
	for _, a := range set.List() {
		ids = append(ids, a.ID)
	}
	if diff := cmp.Diff([]string{"b", "a", "c"}, ids); diff != "" {
		t.Fatalf("order (-want +got):\n%s", diff)
	}
}
