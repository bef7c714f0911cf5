package extract

// FactType identifies the profile attribute a candidate proposes.
type FactType string

const (
	Name              FactType = "name"
	Birthday          FactType = "birthday"
	LikePreference    FactType = "preference_like"
	DislikePreference FactType = "preference_dislike"
	FreeNote          FactType = "memory"
)

// Base confidences per category.
const (
	NameConfidence           = 0.9
	BirthdayConfidence       = 0.85
	PreferenceConfidence     = 0.8
	ExplicitNoteConfidence   = 0.8
	ContextualNoteConfidence = 0.6

	// MemoryTriggerBoost is added to category confidences when the utterance
	// also carries an explicit "remember this" request.
	MemoryTriggerBoost = 0.05
)

// Span locates a match inside the (width-folded) utterance, in bytes.
type Span struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

// Candidate is one proposed profile attribute extracted from a single
// utterance. It is not committed until merged into the profile.
type Candidate struct {
	Type                FactType `json:"type"`
	RawValue            string   `json:"raw_value"`
	NormalizedValue     string   `json:"normalized_value"`
	Confidence          float64  `json:"confidence"`
	ExplicitlyRequested bool     `json:"explicitly_requested"`
	Span                Span     `json:"span"`
}
