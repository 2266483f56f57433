package village

// WellbeingAssessment is the five-dimension assessment of the elder. Every
// dimension is optional so the same type carries full snapshots and partial
// updates; MergeWellbeing overlays only the dimensions an update carries.
type WellbeingAssessment struct {
	Emotional           *EmotionalState `json:"emotional,omitempty"`
	Mental              *MentalState    `json:"mental,omitempty"`
	Social              *SocialState    `json:"social,omitempty"`
	Physical            *PhysicalState  `json:"physical,omitempty"`
	Cognitive           *CognitiveState `json:"cognitive,omitempty"`
	OverallConcernLevel string          `json:"overall_concern_level,omitempty"`
}

type EmotionalState struct {
	CurrentMood     string `json:"current_mood"`
	LonelinessLevel string `json:"loneliness_level"`
	GriefIndicators bool   `json:"grief_indicators"`
	FearIndicators  bool   `json:"fear_indicators"`
	HopeIndicators  bool   `json:"hope_indicators"`
	Notes           string `json:"notes"`
}

type MentalState struct {
	DepressionIndicators []string `json:"depression_indicators"`
	AnxietyIndicators    []string `json:"anxiety_indicators"`
	PurposeLevel         string   `json:"purpose_level"`
	PatternChange        bool     `json:"pattern_change"`
	Notes                string   `json:"notes"`
}

type SocialState struct {
	FamilyContactRecency   string `json:"family_contact_recency"`
	IsolationLevel         string `json:"isolation_level"`
	CommunityEngagement    string `json:"community_engagement"`
	SupportNetworkStrength string `json:"support_network_strength"`
	Notes                  string `json:"notes"`
}

type PhysicalState struct {
	PainReported      bool   `json:"pain_reported"`
	PainDetails       string `json:"pain_details,omitempty"`
	MobilityConcerns  bool   `json:"mobility_concerns"`
	SleepIssues       bool   `json:"sleep_issues"`
	NutritionConcerns bool   `json:"nutrition_concerns"`
	MedicationIssues  bool   `json:"medication_issues"`
	EnergyLevel       string `json:"energy_level"`
	Notes             string `json:"notes"`
}

type CognitiveState struct {
	MemoryConcerns    bool   `json:"memory_concerns"`
	OrientationIssues bool   `json:"orientation_issues"`
	BaselineChange    bool   `json:"baseline_change"`
	Notes             string `json:"notes"`
}

// MergeWellbeing returns base with every dimension present in update
// replacing the corresponding dimension of base. Dimensions absent from the
// update keep their previous value. Neither argument is modified; a nil base
// yields a copy of update.
func MergeWellbeing(base *WellbeingAssessment, update WellbeingAssessment) *WellbeingAssessment {
	var merged WellbeingAssessment
	if base != nil {
		merged = *base
	}
	if update.Emotional != nil {
		merged.Emotional = update.Emotional
	}
	if update.Mental != nil {
		merged.Mental = update.Mental
	}
	if update.Social != nil {
		merged.Social = update.Social
	}
	if update.Physical != nil {
		merged.Physical = update.Physical
	}
	if update.Cognitive != nil {
		merged.Cognitive = update.Cognitive
	}
	if update.OverallConcernLevel != "" {
		merged.OverallConcernLevel = update.OverallConcernLevel
	}
	return &merged
}
