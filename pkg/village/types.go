// Package village holds the records exchanged between the check-in backend
// and the live dashboard: calls, transcript lines, wellbeing assessments,
// concerns, village actions, learned profile facts and call summaries.
package village

// CallStatus is the lifecycle status of a call session.
type CallStatus string

const (
	CallRinging    CallStatus = "ringing"
	CallInProgress CallStatus = "in_progress"
	CallCompleted  CallStatus = "completed"
	CallFailed     CallStatus = "failed"
	CallNoAnswer   CallStatus = "no_answer"
)

// Valid reports whether s is one of the known call statuses.
func (s CallStatus) Valid() bool {
	switch s {
	case CallRinging, CallInProgress, CallCompleted, CallFailed, CallNoAnswer:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further status change is expected.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallCompleted, CallFailed, CallNoAnswer:
		return true
	default:
		return false
	}
}

// CallType distinguishes the elder check-in from outbound village calls.
type CallType string

const (
	CallElderCheckin    CallType = "elder_checkin"
	CallVillageOutbound CallType = "village_outbound"
)

// Speaker identifies who said a transcript line.
type Speaker string

const (
	SpeakerAgent         Speaker = "agent"
	SpeakerElder         Speaker = "elder"
	SpeakerVillageMember Speaker = "village_member"
)

// CallSession is the call record served by the call-lifecycle API.
type CallSession struct {
	ID              string               `json:"id"`
	ElderID         string               `json:"elder_id"`
	Type            CallType             `json:"type,omitempty"`
	TargetMember    *VillageMember       `json:"target_member,omitempty"`
	StartedAt       Timestamp            `json:"started_at"`
	EndedAt         *Timestamp           `json:"ended_at,omitempty"`
	DurationSeconds *int                 `json:"duration_seconds,omitempty"`
	Status          CallStatus           `json:"status"`
	Transcript      []TranscriptLine     `json:"transcript"`
	Wellbeing       *WellbeingAssessment `json:"wellbeing"`
	Concerns        []Concern            `json:"concerns"`
	ProfileUpdates  []ProfileFact        `json:"profile_updates"`
	VillageActions  []VillageAction      `json:"village_actions"`
	Summary         *CallSummary         `json:"summary,omitempty"`
	Biometrics      *Biometrics          `json:"biometrics,omitempty"`
}

// TranscriptLine is one utterance in a call.
type TranscriptLine struct {
	ID          string    `json:"id"`
	Speaker     Speaker   `json:"speaker"`
	SpeakerName string    `json:"speaker_name"`
	Text        string    `json:"text"`
	Timestamp   Timestamp `json:"timestamp"`
}

// Biometrics is a voice-derived vitals sample. RespiratoryRate arrives either
// as a number or as a descriptive string.
type Biometrics struct {
	HeartRate            *float64  `json:"heartRate,omitempty"`
	HeartRateVariability *float64  `json:"heartRateVariability,omitempty"`
	RespiratoryRate      any       `json:"respiratoryRate,omitempty"`
	RhythmRegularity     string    `json:"rhythmRegularity,omitempty"`
	AudioQuality         *float64  `json:"audioQuality,omitempty"`
	Confidence           *float64  `json:"confidence,omitempty"`
	Timestamp            Timestamp `json:"timestamp,omitempty"`
}

// Dimension is one of the five wellbeing dimensions.
type Dimension string

const (
	DimensionEmotional Dimension = "emotional"
	DimensionMental    Dimension = "mental"
	DimensionSocial    Dimension = "social"
	DimensionPhysical  Dimension = "physical"
	DimensionCognitive Dimension = "cognitive"
)

// Severity grades a concern.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Concern is a detected wellbeing concern.
type Concern struct {
	ID               string    `json:"id"`
	Dimension        Dimension `json:"dimension"`
	Type             string    `json:"type"`
	Severity         Severity  `json:"severity"`
	Description      string    `json:"description"`
	Quote            string    `json:"quote"`
	DetectedAt       Timestamp `json:"detected_at"`
	ActionRequired   bool      `json:"action_required"`
	IsPattern        bool      `json:"is_pattern"`
	PatternHistory   []string  `json:"pattern_history,omitempty"`
	ActionsTriggered []string  `json:"actions_triggered"`
}

// ProfileFact is something learned about the elder during a call.
type ProfileFact struct {
	ID           string    `json:"id"`
	Fact         string    `json:"fact"`
	Category     string    `json:"category"`
	Context      string    `json:"context,omitempty"`
	LearnedAt    Timestamp `json:"learned_at"`
	SourceCallID string    `json:"source_call_id,omitempty"`
}

// MemberRole is the relationship class of a village member.
type MemberRole string

const (
	RoleFamily       MemberRole = "family"
	RoleNeighbor     MemberRole = "neighbor"
	RoleMedical      MemberRole = "medical"
	RoleMentalHealth MemberRole = "mental_health"
	RoleVolunteer    MemberRole = "volunteer"
	RoleService      MemberRole = "service"
)

// Valid reports whether r is one of the known roles.
func (r MemberRole) Valid() bool {
	switch r {
	case RoleFamily, RoleNeighbor, RoleMedical, RoleMentalHealth, RoleVolunteer, RoleService:
		return true
	default:
		return false
	}
}

// VillageMember is a person in the elder's care network.
type VillageMember struct {
	ID           string     `json:"id" koanf:"id"`
	Name         string     `json:"name" koanf:"name"`
	Role         MemberRole `json:"role" koanf:"role"`
	Relationship string     `json:"relationship" koanf:"relationship"`
	Phone        string     `json:"phone" koanf:"phone"`
	Availability string     `json:"availability,omitempty" koanf:"availability"`
	Notes        string     `json:"notes,omitempty" koanf:"notes"`
	Enabled      *bool      `json:"enabled,omitempty" koanf:"enabled"`
}

// IsEnabled treats an unset flag as enabled.
func (m VillageMember) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// ActionStatus is the progress of a village action.
type ActionStatus string

const (
	ActionPending    ActionStatus = "pending"
	ActionCalling    ActionStatus = "calling"
	ActionRinging    ActionStatus = "ringing"
	ActionConnected  ActionStatus = "connected"
	ActionInProgress ActionStatus = "in_progress"
	ActionCompleted  ActionStatus = "completed"
	ActionFailed     ActionStatus = "failed"
	ActionNoAnswer   ActionStatus = "no_answer"
)

// VillageAction is an outreach to a village member triggered by a concern.
type VillageAction struct {
	ID                  string        `json:"id"`
	CallSessionID       string        `json:"call_session_id"`
	Recipient           VillageMember `json:"recipient"`
	ActionType          string        `json:"action_type"`
	Reason              string        `json:"reason"`
	Urgency             string        `json:"urgency"`
	ContextForRecipient string        `json:"context_for_recipient"`
	Status              ActionStatus  `json:"status"`
	InitiatedAt         Timestamp     `json:"initiated_at"`
	CompletedAt         *Timestamp    `json:"completed_at,omitempty"`
	Response            string        `json:"response,omitempty"`
	OutboundCallID      string        `json:"outbound_call_id,omitempty"`
}

// Elder is the person being checked in on.
type Elder struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Age      int             `json:"age"`
	Phone    string          `json:"phone"`
	PhotoURL string          `json:"photo_url,omitempty"`
	Address  string          `json:"address"`
	Profile  []ProfileFact   `json:"profile"`
	Village  []VillageMember `json:"village"`
}
