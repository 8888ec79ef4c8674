package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxAvgSegmentRunes is the strength-check ceiling on the average rune length
// of non-empty segments. Dictation answers are short phrases; a high average
// means the scan latched onto sparse hints and swallowed filler, so the
// result cannot be trusted without remote confirmation.
const maxAvgSegmentRunes = 12

// ScanSegments splits transcript into one segment per word by scanning for
// each word's hints in batch order.
//
// A cursor starts at position 0. For every word the earliest occurrence of
// any of its hints at or after the cursor is located; when several hints
// start at the same position the longest wins. A word whose hints all miss
// fails the whole attempt — partial segmentations are worthless because a
// single skipped word shifts every later answer by one position.
//
// Segment boundaries sit at the start of each matched hint (the first
// segment is anchored at position 0, the last runs to the end), so filler the
// recognizer produced between two answers stays attached to the earlier
// word rather than being dropped.
//
// When no word in the batch carries any hint, ScanSegments falls back to
// splitting on sentence punctuation and whitespace, accepting the split only
// when it yields at least len(words) pieces (the normalizer merges the
// overflow). Returns nil when the transcript cannot be segmented.
func ScanSegments(transcript string, words []Word) []string {
	if len(words) == 0 {
		return nil
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil
	}

	if !anyHints(words) {
		return splitByDelimiters(transcript, len(words))
	}

	type span struct{ start, end int }
	spans := make([]span, 0, len(words))

	cursor := 0
	for _, w := range words {
		best := span{start: -1}
		for _, h := range w.Hints {
			if h == "" {
				continue
			}
			idx := strings.Index(transcript[cursor:], h)
			if idx < 0 {
				continue
			}
			start := cursor + idx
			if best.start < 0 || start < best.start ||
				(start == best.start && len(h) > best.end-best.start) {
				best = span{start: start, end: start + len(h)}
			}
		}
		if best.start < 0 {
			return nil
		}
		spans = append(spans, best)
		cursor = best.end
	}

	segments := make([]string, len(spans))
	for i := range spans {
		lo := 0
		if i > 0 {
			lo = spans[i].start
		}
		hi := len(transcript)
		if i < len(spans)-1 {
			hi = spans[i+1].start
		}
		segments[i] = strings.TrimSpace(transcript[lo:hi])
	}
	return segments
}

// IsStrong reports whether a heuristic segmentation is trustworthy enough to
// skip the remote stages. Two gates:
//
//  1. At least max(n−2, ceil(n×0.7)) of the n segments are non-empty.
//  2. The average rune length of non-empty segments does not exceed
//     [maxAvgSegmentRunes].
//
// A result that fails either gate is still usable as the guaranteed fallback;
// it just must not short-circuit the chain.
func IsStrong(segments []string) bool {
	n := len(segments)
	if n == 0 {
		return false
	}

	nonEmpty := 0
	totalRunes := 0
	for _, s := range segments {
		if strings.TrimSpace(s) == "" {
			continue
		}
		nonEmpty++
		totalRunes += utf8.RuneCountInString(s)
	}
	if nonEmpty == 0 {
		return false
	}

	floor := n - 2
	if ceil70 := (n*7 + 9) / 10; ceil70 > floor {
		floor = ceil70
	}
	if nonEmpty < floor {
		return false
	}

	// Multiplied form avoids truncating the average: 25 runes over 2
	// segments (avg 12.5) must fail a 12-rune gate.
	return totalRunes <= maxAvgSegmentRunes*nonEmpty
}

// EvenSplit divides transcript into n chunks of near-equal rune count. It is
// the terminal strategy: arbitrary but deterministic, and never empty for a
// non-empty transcript. Leading chunks absorb the remainder runes.
func EvenSplit(transcript string, n int) []string {
	if n <= 0 {
		return nil
	}
	runes := []rune(strings.TrimSpace(transcript))
	segments := make([]string, n)

	size := len(runes) / n
	rem := len(runes) % n
	pos := 0
	for i := 0; i < n; i++ {
		take := size
		if i < rem {
			take++
		}
		segments[i] = strings.TrimSpace(string(runes[pos : pos+take]))
		pos += take
	}
	return segments
}

// anyHints reports whether at least one word carries a non-empty hint.
func anyHints(words []Word) bool {
	for _, w := range words {
		for _, h := range w.Hints {
			if h != "" {
				return true
			}
		}
	}
	return false
}

// splitByDelimiters is the hint-less fallback: split on sentence punctuation
// and whitespace. Only splits producing at least wordCount pieces are
// accepted; fewer pieces would force the normalizer to pad with blanks for
// words that were probably spoken.
func splitByDelimiters(transcript string, wordCount int) []string {
	pieces := strings.FieldsFunc(transcript, func(r rune) bool {
		if unicode.IsSpace(r) {
			return true
		}
		switch r {
		case '，', '。', '、', '；', '！', '？', ',', '.', ';', '!', '?':
			return true
		}
		return false
	})
	if len(pieces) < wordCount {
		return nil
	}
	return pieces
}
