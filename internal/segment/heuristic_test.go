package segment_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/vocadrill/vocadrill/internal/segment"
)

func word(id string, hints ...string) segment.Word {
	return segment.Word{ID: id, DisplayText: id, Hints: hints}
}

func TestScanSegments_ExactAdjacentHints(t *testing.T) {
	t.Parallel()

	got := segment.ScanSegments("苹果香蕉", []segment.Word{
		word("w1", "苹果"),
		word("w2", "香蕉"),
	})

	want := []string{"苹果", "香蕉"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ScanSegments=%q, want %q", got, want)
	}
}

func TestScanSegments_FillerStaysWithPrecedingWord(t *testing.T) {
	t.Parallel()

	got := segment.ScanSegments("苹果 嗯嗯 香蕉", []segment.Word{
		word("w1", "苹果"),
		word("w2", "香蕉"),
	})

	want := []string{"苹果 嗯嗯", "香蕉"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ScanSegments=%q, want %q", got, want)
	}
}

func TestScanSegments_LeadingTextAnchoredToFirstWord(t *testing.T) {
	t.Parallel()

	got := segment.ScanSegments("那个 apple 然后 banana", []segment.Word{
		word("w1", "apple"),
		word("w2", "banana"),
	})

	want := []string{"那个 apple 然后", "banana"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ScanSegments=%q, want %q", got, want)
	}
}

func TestScanSegments_LongestHintWinsOnTie(t *testing.T) {
	t.Parallel()

	// Both hints start at the same position; the longer one must be matched
	// so the cursor advances past the full phrase.
	got := segment.ScanSegments("火车站台北", []segment.Word{
		word("w1", "火车", "火车站"),
		word("w2", "台北"),
	})

	want := []string{"火车站", "台北"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ScanSegments=%q, want %q", got, want)
	}
}

func TestScanSegments_MissingHintFailsWholeAttempt(t *testing.T) {
	t.Parallel()

	got := segment.ScanSegments("苹果葡萄", []segment.Word{
		word("w1", "苹果"),
		word("w2", "香蕉"),
		word("w3", "橙子"),
	})
	if got != nil {
		t.Fatalf("ScanSegments=%q, want nil (partial results must not be accepted)", got)
	}
}

func TestScanSegments_NoHintsAnywhere(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		transcript string
		wordCount  int
		want       []string
	}{
		{
			name:       "punctuation split accepted",
			transcript: "苹果，香蕉，橙子",
			wordCount:  3,
			want:       []string{"苹果", "香蕉", "橙子"},
		},
		{
			name:       "overflow pieces kept for normalizer",
			transcript: "a, b, c, d",
			wordCount:  2,
			want:       []string{"a", "b", "c", "d"},
		},
		{
			name:       "too few pieces rejected",
			transcript: "苹果香蕉",
			wordCount:  3,
			want:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			words := make([]segment.Word, tt.wordCount)
			for i := range words {
				words[i] = word(string(rune('a' + i)))
			}
			got := segment.ScanSegments(tt.transcript, words)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ScanSegments=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestScanSegments_EmptyInputs(t *testing.T) {
	t.Parallel()

	if got := segment.ScanSegments("   ", []segment.Word{word("w1", "苹果")}); got != nil {
		t.Errorf("blank transcript: got %q, want nil", got)
	}
	if got := segment.ScanSegments("苹果", nil); got != nil {
		t.Errorf("no words: got %q, want nil", got)
	}
}

func TestIsStrong(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		segments []string
		want     bool
	}{
		{
			name:     "all short non-empty",
			segments: []string{"苹果", "香蕉", "橙子"},
			want:     true,
		},
		{
			name:     "one empty of five is tolerated",
			segments: []string{"苹果", "", "橙子", "葡萄", "梨"},
			want:     true,
		},
		{
			name:     "too many empties",
			segments: []string{"苹果", "", "", "葡萄", ""},
			want:     false,
		},
		{
			name: "average segment too long",
			segments: []string{
				strings.Repeat("字", 30),
				strings.Repeat("字", 30),
			},
			want: false,
		},
		{
			// 25 runes over 2 segments averages 12.5; a truncating
			// average would round it down to 12 and pass.
			name: "fractional average above the gate",
			segments: []string{
				strings.Repeat("字", 13),
				strings.Repeat("字", 12),
			},
			want: false,
		},
		{
			name: "average exactly at the gate",
			segments: []string{
				strings.Repeat("字", 12),
				strings.Repeat("字", 12),
			},
			want: true,
		},
		{
			name:     "all empty",
			segments: []string{"", "", ""},
			want:     false,
		},
		{
			name:     "empty slice",
			segments: nil,
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := segment.IsStrong(tt.segments); got != tt.want {
				t.Errorf("IsStrong(%q)=%v, want %v", tt.segments, got, tt.want)
			}
		})
	}
}

func TestEvenSplit(t *testing.T) {
	t.Parallel()

	got := segment.EvenSplit("一二三四五六", 3)
	want := []string{"一二", "三四", "五六"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("EvenSplit=%q, want %q", got, want)
	}

	// Remainder runes go to the leading chunks.
	got = segment.EvenSplit("一二三四五", 3)
	want = []string{"一二", "三四", "五"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("EvenSplit=%q, want %q", got, want)
	}

	// More words than runes still yields n entries.
	got = segment.EvenSplit("一", 3)
	if len(got) != 3 {
		t.Fatalf("EvenSplit returned %d chunks, want 3", len(got))
	}
}
