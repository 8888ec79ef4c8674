// Package segment holds the core data model and pure algorithms of the
// dictation segmentation pipeline: the hint-scanning heuristic, the arity
// normalizer, the bounded result cache, and the local correction-rule table.
//
// Nothing in this package performs I/O. All network-backed strategies live in
// the chain package and feed their raw output through [Normalize] before it
// is surfaced.
package segment

import "strings"

// Word is one vocabulary item of the active batch. Words are immutable for
// the lifetime of a batch.
type Word struct {
	// ID uniquely identifies the word within the vocabulary source.
	ID string `json:"id"`

	// DisplayText is the prompt shown to the learner (e.g., the Chinese
	// headword being translated).
	DisplayText string `json:"displayText"`

	// Hints are accepted answer strings used to locate the word's segment in
	// a transcript. Sorted longest-first so greedy matching prefers the more
	// specific phrase.
	Hints []string `json:"hints"`
}

// SortHintsLongestFirst orders w.Hints by descending rune length, keeping the
// original order among equal-length hints. Vocabulary sources are expected to
// deliver hints pre-sorted; this makes the invariant cheap to restore after
// ad-hoc edits.
func (w *Word) SortHintsLongestFirst() {
	hints := w.Hints
	for i := 1; i < len(hints); i++ {
		for j := i; j > 0 && runeLen(hints[j]) > runeLen(hints[j-1]); j-- {
			hints[j], hints[j-1] = hints[j-1], hints[j]
		}
	}
}

func runeLen(s string) int { return len([]rune(s)) }

// Request identifies one segmentation attempt over a finalized transcript.
type Request struct {
	// SessionID scopes the request to one learner session.
	SessionID string `json:"sessionId"`

	// Words is the ordered batch being tested. Segment i of any result is the
	// answer for Words[i].
	Words []Word `json:"words"`

	// Transcript is the finalized recognizer output covering the whole batch.
	// Leading and trailing whitespace is insignificant.
	Transcript string `json:"transcript"`

	// AutoSubmit selects the low-latency combined correct+segment+judge path.
	// When false the chain runs the manual path (heuristic short-circuit plus
	// segment-only remote call).
	AutoSubmit bool `json:"autoSubmit"`
}

// WordIDs returns the ordered batch word IDs.
func (r *Request) WordIDs() []string {
	ids := make([]string, len(r.Words))
	for i, w := range r.Words {
		ids[i] = w.ID
	}
	return ids
}

// CacheKey derives the exact-match cache key: session, ordered word IDs, and
// the trimmed transcript. No further normalization — two transcripts that
// differ in interior whitespace are distinct keys.
func (r *Request) CacheKey() string {
	var sb strings.Builder
	sb.WriteString(r.SessionID)
	sb.WriteByte('|')
	for i, w := range r.Words {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(w.ID)
	}
	sb.WriteByte('|')
	sb.WriteString(strings.TrimSpace(r.Transcript))
	return sb.String()
}

// Provenance names the strategy that produced a result.
type Provenance string

const (
	ProvenanceCache             Provenance = "cache"
	ProvenanceHeuristic         Provenance = "heuristic"
	ProvenanceRemoteCombined    Provenance = "remote-combined"
	ProvenanceRemoteSegment     Provenance = "remote-segment"
	ProvenanceRESTFallback      Provenance = "rest-fallback"
	ProvenanceGuaranteedFallback Provenance = "guaranteed-fallback"
)

// Cacheable reports whether results with this provenance may be written to
// the cache. The guaranteed fallback is low-confidence and must be retried on
// the next identical request instead of being replayed.
func (p Provenance) Cacheable() bool {
	return p != ProvenanceGuaranteedFallback && p != ProvenanceCache
}

// Judgment is the correctness verdict for one (word, answer) pair.
type Judgment struct {
	// Correct reports whether the answer was accepted.
	Correct bool `json:"correct"`

	// CorrectionText carries the suggested correct answer when Correct is
	// false; empty otherwise.
	CorrectionText string `json:"correctionText"`
}

// Result is the guaranteed-non-null outcome of a segmentation request.
// len(Segments) always equals the request's word count; the chain enforces
// this through [Normalize] regardless of which strategy produced the raw
// segments.
type Result struct {
	// Segments holds the per-word answer substrings in batch order.
	Segments []string `json:"segments"`

	// CorrectedTranscript is the transcript after remote correction, when a
	// correcting stage ran. Empty means the raw transcript stands.
	CorrectedTranscript string `json:"correctedTranscript,omitempty"`

	// Judgments is populated only by the combined remote call; when present
	// its length equals the word count.
	Judgments []Judgment `json:"judgments,omitempty"`

	// Provenance names the strategy that produced the segments.
	Provenance Provenance `json:"provenance"`

	// Weak marks a heuristic result that failed the strength check. Weak
	// results never short-circuit remote stages and never schedule an
	// auto-submit; they only serve as the terminal fallback.
	Weak bool `json:"-"`
}
