// Package composer assembles the bounded context handed to the responder for
// one turn: what is known about the user, recent notes and recent dialogue.
package composer

import (
	"strings"
	"unicode/utf8"

	"github.com/kalambet/bella/internal/history"
	"github.com/kalambet/bella/internal/profile"
)

const (
	// maxNotes is how many of the newest notes are summarized.
	maxNotes = 5

	// maxSummaryChars caps the user info and notes sections.
	maxSummaryChars = 2000

	// maxConversationChars caps the dialogue section; oldest turns go first.
	maxConversationChars = 6000
)

// AssistantName labels the assistant's lines in the dialogue summary.
const AssistantName = "Bella"

// Payload is the context for one response.
type Payload struct {
	UserInfoSummary     string `json:"userInfo"`
	RecentNotesSummary  string `json:"recentNotes"`
	ConversationSummary string `json:"conversationHistory"`
	UpdateNotice        string `json:"updateMessage"`
}

// Build renders p, the window of recent entries (oldest first) and this
// turn's update messages into a Payload. It has no side effects.
func Build(p profile.Profile, window []history.Entry, updateMessages []string) Payload {
	return Payload{
		UserInfoSummary:     truncate(userInfo(p), maxSummaryChars),
		RecentNotesSummary:  truncate(recentNotes(p.Notes), maxSummaryChars),
		ConversationSummary: conversation(window),
		UpdateNotice:        strings.Join(updateMessages, "、"),
	}
}

func userInfo(p profile.Profile) string {
	var lines []string
	if p.Name != nil && *p.Name != "" {
		lines = append(lines, "名前: "+*p.Name+"さん")
	}
	if p.Birthday != nil && *p.Birthday != "" {
		lines = append(lines, "誕生日: "+*p.Birthday)
	}
	if len(p.Likes) > 0 {
		lines = append(lines, "好きなもの: "+strings.Join(p.Likes, "、"))
	}
	if len(p.Dislikes) > 0 {
		lines = append(lines, "嫌いなもの: "+strings.Join(p.Dislikes, "、"))
	}
	return strings.Join(lines, "\n")
}

func recentNotes(notes []profile.Note) string {
	if len(notes) > maxNotes {
		notes = notes[len(notes)-maxNotes:]
	}
	lines := make([]string, 0, len(notes))
	for _, n := range notes {
		lines = append(lines, "- "+n.Text)
	}
	return strings.Join(lines, "\n")
}

// conversation renders each entry as a user line and, when completed, an
// assistant line. Turns are separated by a blank line.
func conversation(window []history.Entry) string {
	turns := make([]string, 0, len(window))
	for _, e := range window {
		turn := "ユーザー: " + e.UserText
		if e.ResponseText != "" {
			turn += "\n" + AssistantName + ": " + e.ResponseText
		}
		turns = append(turns, turn)
	}

	total := 0
	start := len(turns)
	for start > 0 {
		n := len(turns[start-1]) + 2
		if total+n > maxConversationChars && start < len(turns) {
			break
		}
		total += n
		start--
	}
	return strings.Join(turns[start:], "\n\n")
}

// truncate cuts s to at most limit bytes without splitting a rune, preferring
// a line break as the cut point.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	end := limit
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	if idx := strings.LastIndex(s[:end], "\n"); idx > 0 {
		return s[:idx]
	}
	return s[:end]
}
