package segment_test

import (
	"testing"

	"github.com/vocadrill/vocadrill/internal/segment"
)

func TestRuleTable_Apply(t *testing.T) {
	t.Parallel()

	table := segment.NewRuleTable([]segment.Rule{
		{Pattern: "一号", Replacement: ""},
		{Pattern: "平果", Replacement: "苹果"},
		{Pattern: "", Replacement: "dropped"},
	})

	got := table.Apply("一号平果香蕉")
	if got != "苹果香蕉" {
		t.Fatalf("Apply=%q, want %q", got, "苹果香蕉")
	}
	if table.Len() != 2 {
		t.Errorf("Len=%d, want 2 (empty pattern skipped)", table.Len())
	}
}

func TestRuleTable_NilIsNoop(t *testing.T) {
	t.Parallel()

	var table *segment.RuleTable
	if got := table.Apply("苹果"); got != "苹果" {
		t.Fatalf("nil table Apply=%q, want input unchanged", got)
	}
}

func TestMatchesHint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		answer string
		hints  []string
		want   bool
	}{
		{"exact cjk", "苹果", []string{"苹果"}, true},
		{"cjk requires exact", "平果", []string{"苹果"}, false},
		{"exact latin case-insensitive", "Apple", []string{"apple"}, true},
		{"latin one edit tolerated", "aple", []string{"apple"}, true},
		{"short latin no tolerance", "cat", []string{"car"}, false},
		{"long latin two edits", "pronounciatin", []string{"pronunciation"}, true},
		{"blank answer", "   ", []string{"apple"}, false},
		{"no hints", "apple", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := segment.MatchesHint(tt.answer, tt.hints); got != tt.want {
				t.Errorf("MatchesHint(%q, %q)=%v, want %v", tt.answer, tt.hints, got, tt.want)
			}
		})
	}
}

func TestWord_SortHintsLongestFirst(t *testing.T) {
	t.Parallel()

	w := segment.Word{Hints: []string{"车", "火车站", "火车"}}
	w.SortHintsLongestFirst()

	want := []string{"火车站", "火车", "车"}
	for i, h := range want {
		if w.Hints[i] != h {
			t.Fatalf("Hints=%q, want %q", w.Hints, want)
		}
	}
}
