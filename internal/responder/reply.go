package responder

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kalambet/bella/internal/emotion"
)

// FallbackText is spoken when the model's answer cannot be used.
const FallbackText = "えーっと...何て言ったらいいかな？"

// maxAffinityDelta bounds the per-turn affinity change a reply may request.
const maxAffinityDelta = 10

// Responder produces replies from rendered prompts.
type Responder struct {
	client *Client
	logger *slog.Logger
}

// New returns a Responder backed by client.
func New(client *Client, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{client: client, logger: logger}
}

// Respond sends prompt and parses the answer. Transport failures are
// returned; an unusable answer yields the fallback reply and no error.
func (r *Responder) Respond(ctx context.Context, prompt string) (Reply, error) {
	resp, err := r.client.Chat(ctx, ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return Reply{}, err
	}

	reply, err := ParseReply(resp.Content())
	if err != nil {
		r.logger.Warn("unusable responder output, using fallback", "error", err)
		return FallbackReply(), nil
	}
	return reply, nil
}

// FallbackReply is the reply used when the model output cannot be parsed.
func FallbackReply() Reply {
	return Reply{Text: FallbackText, Emotion: emotion.Neutral, Fallback: true}
}

var jsonBlock = regexp.MustCompile(`(?s)\{.*\}`)

type rawReply struct {
	Text               string   `json:"text"`
	FavorabilityChange *float64 `json:"favorabilityChange"`
	Emotion            string   `json:"emotion"`
}

// ParseReply extracts the JSON object from raw model output. The affinity
// delta is clamped to ±10 and an unknown emotion is replaced by keyword
// analysis of the text.
func ParseReply(raw string) (Reply, error) {
	block := jsonBlock.FindString(raw)
	if block == "" {
		return Reply{}, errors.New("no JSON object in reply")
	}
	var rr rawReply
	if err := json.Unmarshal([]byte(block), &rr); err != nil {
		return Reply{}, err
	}
	if rr.Text == "" || rr.FavorabilityChange == nil || rr.Emotion == "" {
		return Reply{}, errors.New("reply is missing text, favorabilityChange or emotion")
	}

	text := CleanForSpeech(rr.Text)
	delta := int(*rr.FavorabilityChange)
	delta = max(-maxAffinityDelta, min(maxAffinityDelta, delta))

	emo, ok := emotion.Parse(rr.Emotion)
	if !ok {
		emo = emotion.Classify(text)
	}
	return Reply{Text: text, AffinityDelta: delta, Emotion: emo}, nil
}

var speechCleanups = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`/{3,}`), ""},
	{regexp.MustCompile(`（メモ[：:][^）]*）`), ""},
	{regexp.MustCompile(`\(メモ[：:][^)]*\)`), ""},
	{regexp.MustCompile(`※[^。！？\n]*[。！？]?`), ""},
	{regexp.MustCompile(`[\x{1F300}-\x{1F9FF}\x{2600}-\x{26FF}\x{2700}-\x{27BF}]`), ""},
	{regexp.MustCompile(`\.{3,}`), "..."},
	{regexp.MustCompile(`。{2,}`), "。"},
	{regexp.MustCompile(`！{2,}`), "！"},
	{regexp.MustCompile(`？{2,}`), "？"},
	{regexp.MustCompile(`\n+`), ""},
	{regexp.MustCompile(`\s+`), " "},
}

// CleanForSpeech strips notes, decorative symbols and most emoji that speech
// synthesis reads badly.
func CleanForSpeech(text string) string {
	for _, c := range speechCleanups {
		text = c.re.ReplaceAllString(text, c.repl)
	}
	return strings.TrimSpace(text)
}
