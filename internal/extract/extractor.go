package extract

import (
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"
)

// Extractor scans a single utterance for profile facts. It is stateless apart
// from its rule table and safe for concurrent use.
type Extractor struct {
	rules  *RuleSet
	logger *slog.Logger
}

// NewExtractor returns an Extractor over rs. A nil rs uses DefaultRuleSet.
func NewExtractor(rs *RuleSet, logger *slog.Logger) *Extractor {
	if rs == nil {
		rs = DefaultRuleSet()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{rules: rs, logger: logger}
}

// Extract returns the candidates found in utterance in rule evaluation order:
// Name, Birthday, LikePreference, DislikePreference, then the explicit and
// contextual FreeNotes. Blank or invalid UTF-8 input yields nil.
func (e *Extractor) Extract(utterance string) []Candidate {
	if !utf8.ValidString(utterance) || strings.TrimSpace(utterance) == "" {
		return nil
	}
	text := fold(utterance)

	triggered := e.memoryTriggered(text)

	var out []Candidate
	for _, t := range []FactType{Name, Birthday, LikePreference, DislikePreference} {
		c, ok := e.matchCategory(t, text)
		if !ok {
			continue
		}
		c.ExplicitlyRequested = triggered
		if triggered {
			c.Confidence = math.Min(1.0, c.Confidence+MemoryTriggerBoost)
		}
		out = append(out, c)
	}

	if len(out) == 0 && triggered {
		if c, ok := e.explicitNote(text); ok {
			out = append(out, c)
		}
	}

	if c, ok := e.contextualNote(text); ok {
		out = append(out, c)
	}
	return out
}

// MemoryTriggered reports whether the utterance asks for something to be
// remembered.
func (e *Extractor) MemoryTriggered(utterance string) bool {
	if !utf8.ValidString(utterance) {
		return false
	}
	return e.memoryTriggered(fold(utterance))
}

func (e *Extractor) memoryTriggered(text string) bool {
	for _, r := range e.rules.Memory {
		if _, ok := safeMatch(r, text); ok {
			return true
		}
	}
	return false
}

func (e *Extractor) matchCategory(t FactType, text string) (Candidate, bool) {
	for _, r := range e.rules.ForType(t) {
		m, ok := safeMatch(r, text)
		if !ok {
			continue
		}
		raw := strings.TrimSpace(m.Value)
		if raw == "" {
			continue
		}

		c := Candidate{Type: t, RawValue: raw, Span: m.Span}
		switch t {
		case Name:
			if reason := rejectName(raw, e.rules.NameBlacklist); reason != "" {
				e.logger.Debug("name candidate rejected", "value", raw, "reason", reason)
				continue
			}
			c.NormalizedValue = normalizeName(raw)
			c.Confidence = NameConfidence
		case Birthday:
			c.NormalizedValue = normalizeBirthday(raw)
			c.Confidence = BirthdayConfidence
		default:
			c.NormalizedValue = raw
			c.Confidence = PreferenceConfidence
		}
		return c, true
	}
	return Candidate{}, false
}

func (e *Extractor) explicitNote(text string) (Candidate, bool) {
	for _, r := range e.rules.Memory {
		m, ok := safeMatch(r, text)
		if !ok {
			continue
		}
		value := strings.TrimSpace(m.Value)
		if !m.HasGroup || value == "" {
			value = strings.TrimSpace(text)
		}
		return Candidate{
			Type:                FreeNote,
			RawValue:            value,
			NormalizedValue:     value,
			Confidence:          ExplicitNoteConfidence,
			ExplicitlyRequested: true,
			Span:                m.Span,
		}, true
	}
	return Candidate{}, false
}

func (e *Extractor) contextualNote(text string) (Candidate, bool) {
	for _, r := range e.rules.Importance {
		m, ok := safeMatch(r, text)
		if !ok {
			continue
		}
		value := strings.TrimSpace(m.Value)
		if !m.HasGroup || value == "" {
			value = strings.TrimSpace(text)
		}
		return Candidate{
			Type:            FreeNote,
			RawValue:        value,
			NormalizedValue: value,
			Confidence:      ContextualNoteConfidence,
			Span:            m.Span,
		}, true
	}
	return Candidate{}, false
}
