package village

// CallSummary is produced by the backend when a call ends.
type CallSummary struct {
	Overview          string             `json:"overview"`
	EmotionalArc      EmotionalArc       `json:"emotional_arc"`
	WellbeingSnapshot WellbeingSnapshot  `json:"wellbeing_snapshot"`
	ThingsLearned     []LearnedThing     `json:"things_learned"`
	ConcernsAddressed []AddressedConcern `json:"concerns_addressed"`
	VillageSummary    []VillageOutcome   `json:"village_summary"`
	NextCallPrompts   []string           `json:"next_call_prompts"`
	MemorableMoment   string             `json:"memorable_moment,omitempty"`
}

type EmotionalArc struct {
	Started string `json:"started"`
	Ended   string `json:"ended"`
	Shift   string `json:"shift"`
}

type WellbeingSnapshot struct {
	Emotional string `json:"emotional"`
	Mental    string `json:"mental"`
	Social    string `json:"social"`
	Physical  string `json:"physical"`
	Cognitive string `json:"cognitive"`
}

type LearnedThing struct {
	Fact     string `json:"fact"`
	Context  string `json:"context"`
	Category string `json:"category"`
}

type AddressedConcern struct {
	Concern     string `json:"concern"`
	Dimension   string `json:"dimension"`
	Severity    string `json:"severity"`
	TheirWords  string `json:"their_words"`
	ActionTaken string `json:"action_taken"`
}

type VillageOutcome struct {
	Who           string `json:"who"`
	Role          string `json:"role"`
	Action        string `json:"action"`
	Status        string `json:"status"`
	ScheduledTime string `json:"scheduled_time,omitempty"`
}
