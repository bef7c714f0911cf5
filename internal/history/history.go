// Package history keeps the bounded, expiring log of conversation turns.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/bella/internal/emotion"
)

// Entry is one user utterance and, once completed, the reply to it.
type Entry struct {
	ID            string
	CreatedAt     time.Time
	UserText      string
	ResponseText  string // empty until completed
	Emotion       emotion.Emotion
	AffinityDelta int
	Important     bool // fixed at creation
}

// Pending reports whether the entry still awaits its response.
func (e Entry) Pending() bool { return e.ResponseText == "" }

// History is the ordered (oldest first) list of retained entries.
type History struct {
	Entries          []Entry
	SessionStartedAt time.Time
}

type document struct {
	Conversations  []entryDoc `json:"conversations"`
	SessionStarted time.Time  `json:"sessionStarted"`
}

type entryDoc struct {
	ID                 string          `json:"id"`
	Timestamp          time.Time       `json:"timestamp"`
	UserMessage        string          `json:"userMessage"`
	AIResponse         string          `json:"aiResponse"`
	Emotion            emotion.Emotion `json:"emotion"`
	FavorabilityChange int             `json:"favorabilityChange"`
	IsImportant        bool            `json:"isImportant"`
}

// Encode serializes h to its persisted JSON form.
func Encode(h History) ([]byte, error) {
	doc := document{
		Conversations:  make([]entryDoc, 0, len(h.Entries)),
		SessionStarted: h.SessionStartedAt,
	}
	for _, e := range h.Entries {
		doc.Conversations = append(doc.Conversations, entryDoc{
			ID:                 e.ID,
			Timestamp:          e.CreatedAt,
			UserMessage:        e.UserText,
			AIResponse:         e.ResponseText,
			Emotion:            e.Emotion,
			FavorabilityChange: e.AffinityDelta,
			IsImportant:        e.Important,
		})
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding history: %w", err)
	}
	return data, nil
}

// Decode parses the persisted JSON form. An empty list decodes to nil.
func Decode(data []byte) (History, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return History{}, fmt.Errorf("decoding history: %w", err)
	}
	h := History{SessionStartedAt: doc.SessionStarted}
	for _, d := range doc.Conversations {
		emo := d.Emotion
		if parsed, ok := emotion.Parse(string(emo)); ok {
			emo = parsed
		} else {
			emo = emotion.Neutral
		}
		h.Entries = append(h.Entries, Entry{
			ID:            d.ID,
			CreatedAt:     d.Timestamp,
			UserText:      d.UserMessage,
			ResponseText:  d.AIResponse,
			Emotion:       emo,
			AffinityDelta: d.FavorabilityChange,
			Important:     d.IsImportant,
		})
	}
	return h, nil
}
