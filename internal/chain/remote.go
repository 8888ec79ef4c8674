package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vocadrill/vocadrill/internal/segment"
	"github.com/vocadrill/vocadrill/pkg/provider/llm"
)

const remoteTemperature = 0.1

// correctSystemPrompt drives the standalone pre-correction call. The model
// repairs recognizer errors (homophones, run-together numerals) without
// touching anything it is not confident about.
const correctSystemPrompt = `You are a speech-recognition post-editor for a vocabulary dictation app.

The user dictated translations for a list of vocabulary words in one utterance. Fix ONLY obvious recognition errors: homophone substitutions, numerals read aloud, and words garbled into near-homophones of an expected answer. Do NOT rephrase, reorder, or delete content.

Expected answers for context:
%s

Respond with ONLY a JSON object (no markdown, no prose):
{"correctedTranscript": "<full corrected transcript>"}

If nothing needs fixing, return the input unchanged.`

// segmentSystemPrompt drives the segment-only call.
const segmentSystemPrompt = `You are a transcript splitter for a vocabulary dictation app.

The user dictated answers for %d vocabulary words, in order, in one utterance. Split the transcript into exactly %d parts so that part i is the spoken answer for word i. Filler between answers belongs to the part before it. If an answer appears to be missing, use an empty string for that part. Fix obvious recognition errors while splitting.

Words (in order):
%s

Respond with ONLY a JSON object (no markdown, no prose):
{"segments": ["<part 1>", ...], "correctedTranscript": "<transcript after fixes, or omit if unchanged>"}

The segments array MUST contain exactly %d entries.`

// combinedSystemPrompt drives the single-round-trip correct+segment+judge
// call used on the auto-submit path.
const combinedSystemPrompt = `You are a transcript splitter and answer judge for a vocabulary dictation app.

The user dictated answers for %d vocabulary words, in order, in one utterance. In one pass:
1. Fix obvious recognition errors (homophones, numerals read aloud).
2. Split the transcript into exactly %d parts, part i being the answer for word i. Filler between answers belongs to the part before it; use "" for missing answers.
3. Judge each part against its word's accepted answers. A part is correct when it conveys one of the accepted answers, ignoring filler and politeness particles.

Words (in order, with accepted answers):
%s

Respond with ONLY a JSON object (no markdown, no prose):
{
  "segments": ["<part 1>", ...],
  "correctedTranscript": "<transcript after fixes>",
  "judgments": [{"correct": true, "correctionText": ""}, ...]
}

Both arrays MUST contain exactly %d entries. For incorrect parts set correctionText to the best accepted answer.`

// remoteResponse is the JSON shape shared by all three remote calls; absent
// fields stay zero.
type remoteResponse struct {
	Segments            []string `json:"segments"`
	CorrectedTranscript string   `json:"correctedTranscript"`
	Judgments           []struct {
		Correct        bool   `json:"correct"`
		CorrectionText string `json:"correctionText"`
	} `json:"judgments"`
}

// remoteCaller wraps the primary LLM provider and an optional fallback. When
// the primary fails the fallback is tried once with the same payload; the
// fallback's error is returned only if both fail.
type remoteCaller struct {
	primary  llm.Provider
	fallback llm.Provider
}

// complete runs req against the primary provider, then the fallback.
func (rc *remoteCaller) complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := rc.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if rc.fallback == nil || ctx.Err() != nil {
		return nil, err
	}
	slog.Warn("primary llm failed, trying fallback",
		"primary", rc.primary.Name(), "fallback", rc.fallback.Name(), "error", err)
	return rc.fallback.Complete(ctx, req)
}

// correct asks the model to repair the transcript. Failures leave the
// transcript uncorrected; the caller treats them as non-fatal.
func (rc *remoteCaller) correct(ctx context.Context, transcript string, words []segment.Word) (string, error) {
	req := llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(correctSystemPrompt, wordList(words)),
		Temperature:  remoteTemperature,
		Messages:     []llm.Message{{Role: "user", Content: transcript}},
	}
	resp, err := rc.complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("pre-correct: %w", err)
	}

	r, err := parseRemote(resp.Content)
	if err != nil {
		return "", fmt.Errorf("pre-correct: %w", err)
	}
	if r.CorrectedTranscript == "" {
		return transcript, nil
	}
	return r.CorrectedTranscript, nil
}

// segmentOnly asks the model for segments and an optional corrected
// transcript. The segment count is not trusted; the orchestrator normalizes.
func (rc *remoteCaller) segmentOnly(ctx context.Context, transcript string, words []segment.Word) ([]string, string, error) {
	n := len(words)
	req := llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(segmentSystemPrompt, n, n, wordList(words), n),
		Temperature:  remoteTemperature,
		Messages:     []llm.Message{{Role: "user", Content: transcript}},
	}
	resp, err := rc.complete(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("segment-only: %w", err)
	}

	r, err := parseRemote(resp.Content)
	if err != nil {
		return nil, "", fmt.Errorf("segment-only: %w", err)
	}
	if len(r.Segments) == 0 {
		return nil, "", fmt.Errorf("segment-only: empty segments: %w", errShapeMismatch)
	}
	return r.Segments, r.CorrectedTranscript, nil
}

// combined asks the model to correct, segment, and judge in one round trip.
// The judgments array must match the word count exactly — there is no
// per-item fallback inside the chain, so a short array is a shape mismatch
// and the chain advances.
func (rc *remoteCaller) combined(ctx context.Context, transcript string, words []segment.Word) ([]string, string, []segment.Judgment, error) {
	n := len(words)
	req := llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(combinedSystemPrompt, n, n, wordList(words), n),
		Temperature:  remoteTemperature,
		Messages:     []llm.Message{{Role: "user", Content: transcript}},
	}
	resp, err := rc.complete(ctx, req)
	if err != nil {
		return nil, "", nil, fmt.Errorf("combined: %w", err)
	}

	r, err := parseRemote(resp.Content)
	if err != nil {
		return nil, "", nil, fmt.Errorf("combined: %w", err)
	}
	if len(r.Segments) == 0 {
		return nil, "", nil, fmt.Errorf("combined: empty segments: %w", errShapeMismatch)
	}
	if len(r.Judgments) != n {
		return nil, "", nil, fmt.Errorf("combined: %d judgments for %d words: %w",
			len(r.Judgments), n, errShapeMismatch)
	}

	judgments := make([]segment.Judgment, n)
	for i, j := range r.Judgments {
		judgments[i] = segment.Judgment{Correct: j.Correct, CorrectionText: j.CorrectionText}
	}
	return r.Segments, r.CorrectedTranscript, judgments, nil
}

// wordList renders the batch for a system prompt, one numbered line per word
// with its accepted answers.
func wordList(words []segment.Word) string {
	var sb strings.Builder
	for i, w := range words {
		fmt.Fprintf(&sb, "%d. %s", i+1, w.DisplayText)
		if len(w.Hints) > 0 {
			sb.WriteString(" — accepted: ")
			sb.WriteString(strings.Join(w.Hints, " / "))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// parseRemote unmarshals a model reply, stripping markdown code fences that
// some models wrap around JSON output.
func parseRemote(content string) (*remoteResponse, error) {
	cleaned := stripMarkdown(content)

	var r remoteResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return nil, fmt.Errorf("parse response: %v: %w", err, errShapeMismatch)
	}
	return &r, nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```).
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
