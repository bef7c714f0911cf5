package extract

import (
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Match is the result of a single successful rule evaluation.
type Match struct {
	// Value is the rule's capture group, or "" when the rule has none.
	Value    string
	HasGroup bool
	Span     Span
}

// Rule recognizes one surface form of a fact in an utterance.
type Rule interface {
	Match(text string) (Match, bool)
	String() string
}

// RegexRule is a Rule backed by a compiled regular expression. Capture group 1,
// when present, carries the extracted value.
type RegexRule struct {
	re *regexp.Regexp
}

// NewRegexRule compiles pattern into a RegexRule.
func NewRegexRule(pattern string) (*RegexRule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling rule %q: %w", pattern, err)
	}
	return &RegexRule{re: re}, nil
}

func (r *RegexRule) Match(text string) (Match, bool) {
	loc := r.re.FindStringSubmatchIndex(text)
	if loc == nil {
		return Match{}, false
	}
	m := Match{Span: Span{Offset: loc[0], Length: loc[1] - loc[0]}}
	if len(loc) >= 4 && loc[2] >= 0 {
		m.Value = text[loc[2]:loc[3]]
		m.HasGroup = true
	}
	return m, true
}

func (r *RegexRule) String() string { return r.re.String() }

// RuleSet holds the ordered rule lists per fact category. Order within a list
// is the evaluation priority.
type RuleSet struct {
	Name       []Rule
	Birthday   []Rule
	Likes      []Rule
	Dislikes   []Rule
	Memory     []Rule
	Importance []Rule

	// NameBlacklist lists hedging and negation phrases that disqualify a name.
	NameBlacklist []string
}

// ForType returns the category rule list for t, or nil for FreeNote.
func (rs *RuleSet) ForType(t FactType) []Rule {
	switch t {
	case Name:
		return rs.Name
	case Birthday:
		return rs.Birthday
	case LikePreference:
		return rs.Likes
	case DislikePreference:
		return rs.Dislikes
	}
	return nil
}

type ruleFile struct {
	NameBlacklist []string `yaml:"name_blacklist"`
	Name          []string `yaml:"name"`
	Birthday      []string `yaml:"birthday"`
	Likes         []string `yaml:"likes"`
	Dislikes      []string `yaml:"dislikes"`
	Memory        []string `yaml:"memory"`
	Importance    []string `yaml:"importance"`
}

// LoadRuleSet parses a YAML rule table.
func LoadRuleSet(r io.Reader) (*RuleSet, error) {
	var f ruleFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding rule table: %w", err)
	}
	return f.compile()
}

// DefaultRuleSet returns the built-in Japanese rule table.
func DefaultRuleSet() *RuleSet {
	var f ruleFile
	if err := yaml.Unmarshal(defaultRulesYAML, &f); err != nil {
		panic(fmt.Sprintf("extract: embedded rules.yaml: %v", err))
	}
	rs, err := f.compile()
	if err != nil {
		panic(fmt.Sprintf("extract: embedded rules.yaml: %v", err))
	}
	return rs
}

func (f ruleFile) compile() (*RuleSet, error) {
	rs := &RuleSet{NameBlacklist: f.NameBlacklist}
	lists := []struct {
		name string
		src  []string
		dst  *[]Rule
	}{
		{"name", f.Name, &rs.Name},
		{"birthday", f.Birthday, &rs.Birthday},
		{"likes", f.Likes, &rs.Likes},
		{"dislikes", f.Dislikes, &rs.Dislikes},
		{"memory", f.Memory, &rs.Memory},
		{"importance", f.Importance, &rs.Importance},
	}
	for _, l := range lists {
		for _, p := range l.src {
			rule, err := NewRegexRule(p)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", l.name, err)
			}
			*l.dst = append(*l.dst, rule)
		}
	}
	return rs, nil
}

// safeMatch evaluates r, treating a panicking rule as a non-match.
func safeMatch(r Rule, text string) (m Match, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			slog.Warn("extraction rule panicked, skipping", "rule", r.String(), "panic", p)
			m, ok = Match{}, false
		}
	}()
	return r.Match(text)
}
