package segment

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Rule is one local transcript repair: every occurrence of Pattern is
// replaced with Replacement before the heuristic runs. Rules generalize the
// recognizer-specific quirks (leading numerals read aloud, recurring
// homophone swaps) that would otherwise accumulate as inline special cases;
// they ship in configuration so a rule can be retired when the recognizer
// changes without a release.
type Rule struct {
	Pattern     string `yaml:"pattern" json:"pattern"`
	Replacement string `yaml:"replacement" json:"replacement"`
}

// RuleTable applies an ordered list of [Rule] substitutions.
type RuleTable struct {
	rules []Rule
}

// NewRuleTable builds a table from rules, skipping entries with an empty
// pattern.
func NewRuleTable(rules []Rule) *RuleTable {
	t := &RuleTable{rules: make([]Rule, 0, len(rules))}
	for _, r := range rules {
		if r.Pattern == "" {
			continue
		}
		t.rules = append(t.rules, r)
	}
	return t
}

// Apply runs every rule against transcript in table order and returns the
// repaired text. Rules are literal substring substitutions; a later rule
// sees the output of earlier ones.
func (t *RuleTable) Apply(transcript string) string {
	if t == nil {
		return transcript
	}
	for _, r := range t.rules {
		transcript = strings.ReplaceAll(transcript, r.Pattern, r.Replacement)
	}
	return transcript
}

// Len returns the number of active rules.
func (t *RuleTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rules)
}

// MatchesHint reports whether answer is an acceptable rendering of one of
// the word's hints.
//
// CJK hints require an exact match — a one-character edit in Chinese is a
// different word. Latin-script hints tolerate small recognizer misspellings:
// edit distance 1 for hints of five or more letters, 2 for ten or more.
// Comparison is case-insensitive and ignores surrounding whitespace.
func MatchesHint(answer string, hints []string) bool {
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer == "" {
		return false
	}
	for _, h := range hints {
		hint := strings.ToLower(strings.TrimSpace(h))
		if hint == "" {
			continue
		}
		if answer == hint {
			return true
		}
		if !isLatin(hint) || !isLatin(answer) {
			continue
		}
		if dist := matchr.Levenshtein(answer, hint); dist <= editBudget(hint) {
			return true
		}
	}
	return false
}

// editBudget returns the tolerated edit distance for a Latin-script hint.
func editBudget(hint string) int {
	n := len(hint)
	switch {
	case n >= 10:
		return 2
	case n >= 5:
		return 1
	default:
		return 0
	}
}

// isLatin reports whether s consists solely of Latin letters, digits,
// spaces, and basic punctuation.
func isLatin(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
