// Package emotion classifies short Japanese texts as positive, negative or
// neutral by keyword counting.
package emotion

import "strings"

// Emotion is the coarse sentiment attached to a conversation turn.
type Emotion string

const (
	Positive Emotion = "positive"
	Negative Emotion = "negative"
	Neutral  Emotion = "neutral"
)

// Parse maps s to an Emotion. Unknown values report false.
func Parse(s string) (Emotion, bool) {
	switch e := Emotion(strings.ToLower(strings.TrimSpace(s))); e {
	case Positive, Negative, Neutral:
		return e, true
	}
	return Neutral, false
}

type lexicon struct {
	emotion  Emotion
	weight   float64
	keywords []string
}

var lexicons = []lexicon{
	{Positive, 1, []string{"嬉しい", "楽しい", "好き", "可愛い", "素敵", "最高", "良い", "面白い", "素晴らしい", "愛してる", "大好き", "幸せ", "♪", "♡", "💕", "😊", "🥰", "☺️"}},
	{Negative, 1, []string{"悲しい", "辛い", "嫌い", "怒り", "腹立つ", "最悪", "ダメ", "むかつく", "疲れた", "落ち込む", "😢", "😭", "😠", "💢"}},
	{Neutral, 0.5, []string{"普通", "まあまあ", "そうですね", "なるほど", "そうなんですね"}},
}

// Hit is one keyword found during analysis.
type Hit struct {
	Keyword string  `json:"keyword"`
	Emotion Emotion `json:"type"`
	Count   int     `json:"count"`
}

// Result is the detailed outcome of Analyze.
type Result struct {
	Emotion Emotion             `json:"emotion"`
	Scores  map[Emotion]float64 `json:"scores"`
	Hits    []Hit               `json:"keywords"`
}

// Analyze scores text against the keyword lexicons. Ties resolve in the order
// positive, negative, neutral; no hits is neutral.
func Analyze(text string) Result {
	res := Result{Scores: map[Emotion]float64{Positive: 0, Negative: 0, Neutral: 0}}
	for _, lx := range lexicons {
		for _, kw := range lx.keywords {
			n := strings.Count(text, kw)
			if n == 0 {
				continue
			}
			res.Scores[lx.emotion] += float64(n) * lx.weight
			res.Hits = append(res.Hits, Hit{Keyword: kw, Emotion: lx.emotion, Count: n})
		}
	}

	pos, neg, neu := res.Scores[Positive], res.Scores[Negative], res.Scores[Neutral]
	best := max(pos, neg, neu)
	switch {
	case best == 0:
		res.Emotion = Neutral
	case pos == best:
		res.Emotion = Positive
	case neg == best:
		res.Emotion = Negative
	default:
		res.Emotion = Neutral
	}
	return res
}

// Classify is Analyze without the details.
func Classify(text string) Emotion {
	return Analyze(text).Emotion
}
