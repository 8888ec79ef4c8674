// Package judge decides whether each dictated segment conveys one of its
// word's accepted answers.
//
// Cheap local checks run first: a blank segment is wrong without asking
// anyone, and a segment that matches an accepted answer outright (exact for
// CJK, small edit distance for Latin) is right without asking anyone. Only
// the undecided remainder goes to the model, in one bulk call; a malformed
// bulk reply degrades to one call per item rather than failing the batch.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vocadrill/vocadrill/internal/errlog"
	"github.com/vocadrill/vocadrill/internal/observe"
	"github.com/vocadrill/vocadrill/internal/segment"
	"github.com/vocadrill/vocadrill/pkg/provider/llm"
)

const (
	defaultTimeout = 10 * time.Second
	temperature    = 0.1

	modeLocal   = "local"
	modeBulk    = "bulk"
	modePerItem = "per-item"
)

const bulkSystemPrompt = `You are an answer judge for a vocabulary dictation app.

For each numbered item below, decide whether the dictated answer conveys one of the accepted answers for its word. Ignore filler words, politeness particles, and minor recognition noise. Judge meaning, not spelling of romanization.

Items:
%s

Respond with ONLY a JSON object (no markdown, no prose):
{"judgments": [{"correct": true, "correctionText": ""}, ...]}

The judgments array MUST contain exactly %d entries, in item order. For incorrect items set correctionText to the best accepted answer.`

type judgeResponse struct {
	Judgments []struct {
		Correct        bool   `json:"correct"`
		CorrectionText string `json:"correctionText"`
	} `json:"judgments"`
}

var errShapeMismatch = errors.New("judge: response shape mismatch")

// Option is a functional option for configuring a [Judge].
type Option func(*Judge)

// WithFallbackProvider attaches a secondary LLM provider tried when the
// primary fails.
func WithFallbackProvider(p llm.Provider) Option {
	return func(j *Judge) {
		j.fallback = p
	}
}

// WithErrorLog attaches the async error-log writer. Every incorrect judgment
// is appended to it without blocking the caller.
func WithErrorLog(w *errlog.Writer) Option {
	return func(j *Judge) {
		j.errors = w
	}
}

// WithMetrics sets the telemetry sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(j *Judge) {
		j.metrics = m
	}
}

// WithTimeout bounds each remote call. Default 10s.
func WithTimeout(d time.Duration) Option {
	return func(j *Judge) {
		if d > 0 {
			j.timeout = d
		}
	}
}

// Judge evaluates dictated answers against their words' accepted answers.
type Judge struct {
	primary  llm.Provider
	fallback llm.Provider
	errors   *errlog.Writer
	metrics  *observe.Metrics
	timeout  time.Duration
}

// New creates a [Judge] with primary as the LLM backend.
func New(primary llm.Provider, opts ...Option) *Judge {
	j := &Judge{
		primary: primary,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.metrics == nil {
		j.metrics = observe.DefaultMetrics()
	}
	return j
}

// Judge returns one judgment per word, positionally aligned with words.
// answers is normalized to the word count first, so callers may pass raw
// segmentation output. Incorrect judgments are appended to the error log
// with the given source.
//
// The returned error is non-nil only when ctx is cancelled; remote failures
// degrade to conservative incorrect judgments instead.
func (j *Judge) Judge(ctx context.Context, sessionID, source string, words []segment.Word, answers []string) ([]segment.Judgment, error) {
	start := time.Now()
	answers = segment.Normalize(answers, len(words))
	judgments := make([]segment.Judgment, len(words))

	// Local pass: blanks are wrong, outright matches are right.
	var pending []int
	for i, w := range words {
		ans := strings.TrimSpace(answers[i])
		switch {
		case ans == "":
			judgments[i] = segment.Judgment{Correct: false, CorrectionText: bestAnswer(w)}
		case segment.MatchesHint(ans, w.Hints):
			judgments[i] = segment.Judgment{Correct: true}
		default:
			pending = append(pending, i)
		}
	}

	mode := modeLocal
	if len(pending) > 0 {
		var err error
		mode, err = j.judgeRemote(ctx, words, answers, judgments, pending)
		if err != nil {
			return nil, err
		}
	}

	j.logIncorrect(sessionID, source, words, answers, judgments)
	j.metrics.RecordJudgment(ctx, mode, time.Since(start), true, len(words))
	return judgments, nil
}

// LogIncorrect appends error-log records for judgments produced elsewhere,
// such as the combined segmentation call on the auto-submit path.
func (j *Judge) LogIncorrect(sessionID, source string, words []segment.Word, answers []string, judgments []segment.Judgment) {
	answers = segment.Normalize(answers, len(words))
	j.logIncorrect(sessionID, source, words, answers, judgments)
}

func (j *Judge) logIncorrect(sessionID, source string, words []segment.Word, answers []string, judgments []segment.Judgment) {
	if j.errors == nil {
		return
	}
	for i, jd := range judgments {
		if i >= len(words) || jd.Correct {
			continue
		}
		j.errors.Append(&errlog.Record{
			SessionID:  sessionID,
			WordID:     words[i].ID,
			WordText:   words[i].DisplayText,
			Answer:     strings.TrimSpace(answers[i]),
			Correction: jd.CorrectionText,
			Source:     source,
		})
	}
}

// judgeRemote fills judgments for the pending indexes, first with one bulk
// call and, when its shape cannot be trusted, one call per item. Returns the
// mode that actually decided the batch.
func (j *Judge) judgeRemote(ctx context.Context, words []segment.Word, answers []string, judgments []segment.Judgment, pending []int) (string, error) {
	resp, err := j.callBulk(ctx, words, answers, pending)
	if err == nil {
		for k, idx := range pending {
			judgments[idx] = segment.Judgment{
				Correct:        resp.Judgments[k].Correct,
				CorrectionText: resp.Judgments[k].CorrectionText,
			}
		}
		return modeBulk, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	j.metrics.RecordStageError(ctx, "judge-bulk", classifyKind(err))
	slog.Warn("bulk judgment failed, judging per item", "items", len(pending), "error", err)

	for _, idx := range pending {
		jd, err := j.callSingle(ctx, words[idx], answers[idx])
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			j.metrics.RecordStageError(ctx, "judge-item", classifyKind(err))
			// No verdict obtainable; mark wrong with the expected answer so
			// the learner still sees what was expected.
			jd = segment.Judgment{Correct: false, CorrectionText: bestAnswer(words[idx])}
		}
		judgments[idx] = jd
	}
	return modePerItem, nil
}

func (j *Judge) callBulk(ctx context.Context, words []segment.Word, answers []string, pending []int) (*judgeResponse, error) {
	var sb strings.Builder
	for k, idx := range pending {
		w := words[idx]
		fmt.Fprintf(&sb, "%d. word: %s", k+1, w.DisplayText)
		if len(w.Hints) > 0 {
			fmt.Fprintf(&sb, " (accepted: %s)", strings.Join(w.Hints, " / "))
		}
		fmt.Fprintf(&sb, "\n   dictated: %s\n", strings.TrimSpace(answers[idx]))
	}

	resp, err := j.complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(bulkSystemPrompt, sb.String(), len(pending)),
		Temperature:  temperature,
		Messages:     []llm.Message{{Role: "user", Content: "Judge the items."}},
	})
	if err != nil {
		return nil, err
	}

	parsed, err := parseJudgments(resp.Content)
	if err != nil {
		return nil, err
	}
	if len(parsed.Judgments) != len(pending) {
		return nil, fmt.Errorf("%d judgments for %d items: %w",
			len(parsed.Judgments), len(pending), errShapeMismatch)
	}
	return parsed, nil
}

func (j *Judge) callSingle(ctx context.Context, w segment.Word, answer string) (segment.Judgment, error) {
	resp, err := j.complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(bulkSystemPrompt, singleItem(w, answer), 1),
		Temperature:  temperature,
		Messages:     []llm.Message{{Role: "user", Content: "Judge the item."}},
	})
	if err != nil {
		return segment.Judgment{}, err
	}

	parsed, err := parseJudgments(resp.Content)
	if err != nil {
		return segment.Judgment{}, err
	}
	if len(parsed.Judgments) != 1 {
		return segment.Judgment{}, fmt.Errorf("%d judgments for 1 item: %w",
			len(parsed.Judgments), errShapeMismatch)
	}
	return segment.Judgment{
		Correct:        parsed.Judgments[0].Correct,
		CorrectionText: parsed.Judgments[0].CorrectionText,
	}, nil
}

// complete runs one bounded call against the primary provider, then the
// fallback.
func (j *Judge) complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	resp, err := j.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if j.fallback == nil || ctx.Err() != nil {
		return nil, err
	}
	slog.Warn("primary llm failed, trying fallback",
		"primary", j.primary.Name(), "fallback", j.fallback.Name(), "error", err)
	return j.fallback.Complete(ctx, req)
}

func singleItem(w segment.Word, answer string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "1. word: %s", w.DisplayText)
	if len(w.Hints) > 0 {
		fmt.Fprintf(&sb, " (accepted: %s)", strings.Join(w.Hints, " / "))
	}
	fmt.Fprintf(&sb, "\n   dictated: %s\n", strings.TrimSpace(answer))
	return sb.String()
}

// bestAnswer picks the canonical correction for a word: its first accepted
// answer, or the display text when none are configured.
func bestAnswer(w segment.Word) string {
	if len(w.Hints) > 0 {
		return w.Hints[0]
	}
	return w.DisplayText
}

func classifyKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, errShapeMismatch):
		return "shape-mismatch"
	default:
		return "transport"
	}
}

// parseJudgments unmarshals a model reply, stripping markdown code fences
// some models wrap around JSON output.
func parseJudgments(content string) (*judgeResponse, error) {
	cleaned := strings.TrimSpace(content)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if i := strings.LastIndex(cleaned, "```"); i >= 0 {
			cleaned = cleaned[:i]
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	var r judgeResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return nil, fmt.Errorf("unmarshal reply: %w: %w", errShapeMismatch, err)
	}
	return &r, nil
}
