package chain

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vocadrill/vocadrill/internal/observe"
	"github.com/vocadrill/vocadrill/internal/segment"
	"github.com/vocadrill/vocadrill/pkg/provider/llm"
	"github.com/vocadrill/vocadrill/pkg/provider/restmatch"
)

// ErrNoWords is returned when a request carries an empty word batch.
var ErrNoWords = errors.New("chain: word batch is empty")

// Timeouts bounds each network-backed stage. A stage that exceeds its bound
// fails with a timeout kind and the chain advances.
type Timeouts struct {
	PreCorrect   time.Duration
	Combined     time.Duration
	SegmentOnly  time.Duration
	RESTFallback time.Duration
}

// withDefaults fills zero fields with production defaults.
func (t *Timeouts) withDefaults() {
	if t.PreCorrect <= 0 {
		t.PreCorrect = 6 * time.Second
	}
	if t.Combined <= 0 {
		t.Combined = 12 * time.Second
	}
	if t.SegmentOnly <= 0 {
		t.SegmentOnly = 10 * time.Second
	}
	if t.RESTFallback <= 0 {
		t.RESTFallback = 5 * time.Second
	}
}

// Option is a functional option for configuring an [Orchestrator].
type Option func(*Orchestrator)

// WithFallbackProvider attaches a secondary LLM provider tried when the
// primary fails inside a remote stage.
func WithFallbackProvider(p llm.Provider) Option {
	return func(o *Orchestrator) {
		o.remote.fallback = p
	}
}

// WithMatcher attaches the REST fallback matcher. When nil (the default),
// the rest-fallback stage is skipped entirely.
func WithMatcher(m restmatch.Matcher) Option {
	return func(o *Orchestrator) {
		o.matcher = m
	}
}

// WithRules attaches the local correction-rule table applied to every
// transcript before any strategy sees it.
func WithRules(t *segment.RuleTable) Option {
	return func(o *Orchestrator) {
		o.rules = t
	}
}

// WithPreCorrection enables the standalone transcript-correction stage on
// the manual path. Disabled by default; the auto-submit path never runs it
// because the combined call corrects anyway.
func WithPreCorrection(enabled bool) Option {
	return func(o *Orchestrator) {
		o.preCorrect = enabled
	}
}

// WithTimeouts overrides the per-stage timeout defaults.
func WithTimeouts(t Timeouts) Option {
	return func(o *Orchestrator) {
		o.timeouts = t
	}
}

// WithCacheCapacity bounds the result cache. Default:
// [segment.DefaultCacheCapacity].
func WithCacheCapacity(n int) Option {
	return func(o *Orchestrator) {
		o.cache = segment.NewCache(n)
	}
}

// WithMetrics sets the telemetry sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// Orchestrator drives the segmentation strategy chain for one session.
//
// It owns the only shared mutable state of the pipeline — the result cache
// and the generation counter — and is safe for concurrent use, though by
// design only the freshest request's result ever takes effect: every call to
// [Orchestrator.Segment] supersedes the previous one.
type Orchestrator struct {
	remote     remoteCaller
	matcher    restmatch.Matcher
	rules      *segment.RuleTable
	cache      *segment.Cache
	gens       *Generations
	metrics    *observe.Metrics
	timeouts   Timeouts
	preCorrect bool
}

// New creates an [Orchestrator] with primary as the LLM backend for all
// remote stages.
func New(primary llm.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		remote: remoteCaller{primary: primary},
		cache:  segment.NewCache(segment.DefaultCacheCapacity),
		gens:   NewGenerations(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.timeouts.withDefaults()
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Segment produces exactly one result for req, trying strategies in priority
// order. It never returns a nil result with a nil error: either a result of
// correct arity comes back, or one of [ErrEmptyTranscript], [ErrNoWords],
// [ErrStale].
//
// Calling Segment supersedes any in-flight request on this orchestrator:
// the previous generation's context is cancelled and its eventual result is
// dropped without side effects.
func (o *Orchestrator) Segment(ctx context.Context, req *segment.Request) (*segment.Result, error) {
	transcript := strings.TrimSpace(req.Transcript)
	if transcript == "" {
		return nil, ErrEmptyTranscript
	}
	if len(req.Words) == 0 {
		return nil, ErrNoWords
	}

	gctx, gen := o.gens.Next(ctx)
	start := time.Now()
	wordCount := len(req.Words)

	log := slog.With(
		"attempt", ulid.Make().String(),
		"session", req.SessionID,
		"generation", gen,
		"batch_size", wordCount,
		"auto_submit", req.AutoSubmit,
	)

	ws := &workingState{req: req, transcript: o.rules.Apply(transcript)}

	var lastKind string
	for _, st := range o.buildStages(req.AutoSubmit) {
		res, err := o.runStage(gctx, st, ws)

		if !o.gens.IsCurrent(gen) {
			o.metrics.RecordStaleDrop(ctx, st.name)
			log.Debug("superseded result discarded", "stage", st.name)
			return nil, ErrStale
		}

		if err != nil {
			lastKind = classifyKind(err)
			o.metrics.RecordStageError(ctx, st.name, lastKind)
			log.Warn("stage failed, trying next", "stage", st.name, "kind", lastKind, "error", err)
			continue
		}
		if res == nil {
			continue
		}

		o.finalize(req, ws, res, wordCount)
		o.metrics.RecordSegmentation(ctx, string(res.Provenance), time.Since(start), true, lastKind, wordCount)
		log.Info("segmentation complete",
			"source", res.Provenance,
			"weak", res.Weak,
			"duration", time.Since(start),
		)
		return res, nil
	}

	// Unreachable: the guaranteed stage cannot fail for a validated request.
	o.metrics.RecordSegmentation(ctx, "none", time.Since(start), false, lastKind, wordCount)
	return nil, errors.New("chain: exhausted without result")
}

// Supersede invalidates the active generation without starting a new
// request. Call it when a new recording begins, so any in-flight chain is
// cancelled before the learner finishes speaking.
func (o *Orchestrator) Supersede() {
	o.gens.Invalidate()
}

// ResetBatch invalidates the active generation and clears the result cache.
// Call it when the active word batch changes.
func (o *Orchestrator) ResetBatch() {
	o.gens.Invalidate()
	o.cache.Clear()
}

// finalize enforces the arity invariant, back-fills the corrected
// transcript, and writes cacheable results to the cache.
func (o *Orchestrator) finalize(req *segment.Request, ws *workingState, res *segment.Result, wordCount int) {
	res.Segments = segment.Normalize(res.Segments, wordCount)
	if res.CorrectedTranscript == "" {
		res.CorrectedTranscript = ws.corrected
	}
	if res.Provenance.Cacheable() && !res.Weak {
		o.cache.Put(req.CacheKey(), &segment.CacheEntry{
			Segments:            res.Segments,
			CorrectedTranscript: res.CorrectedTranscript,
			Provenance:          res.Provenance,
		})
	}
}

// runStage executes one stage under its timeout. The timeout timer is
// released as soon as the stage resolves, whichever side wins the race.
func (o *Orchestrator) runStage(ctx context.Context, st stage, ws *workingState) (*segment.Result, error) {
	if st.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, st.timeout)
		defer cancel()
	}
	return st.attempt(ctx, ws)
}

// buildStages assembles the priority-ordered stage list for one attempt.
//
// Manual path:      cache → strong heuristic → [pre-correct] → segment-only → REST → guaranteed.
// Auto-submit path: cache → combined → REST → guaranteed.
//
// The auto-submit path trades the heuristic short-circuit and the standalone
// correction call for a single round trip that corrects, segments, and
// judges together.
func (o *Orchestrator) buildStages(autoSubmit bool) []stage {
	stages := []stage{
		{name: stageCache, attempt: o.attemptCache},
	}

	if autoSubmit {
		stages = append(stages,
			stage{name: stageCombined, timeout: o.timeouts.Combined, attempt: o.attemptCombined},
		)
	} else {
		stages = append(stages,
			stage{name: stageHeuristic, attempt: o.attemptStrongHeuristic},
		)
		if o.preCorrect {
			stages = append(stages,
				stage{name: stagePreCorrect, timeout: o.timeouts.PreCorrect, attempt: o.attemptPreCorrect},
			)
		}
		stages = append(stages,
			stage{name: stageSegmentOnly, timeout: o.timeouts.SegmentOnly, attempt: o.attemptSegmentOnly},
		)
	}

	if o.matcher != nil {
		stages = append(stages,
			stage{name: stageREST, timeout: o.timeouts.RESTFallback, attempt: o.attemptREST},
		)
	}
	return append(stages,
		stage{name: stageGuaranteed, attempt: o.attemptGuaranteed},
	)
}

// --- Stage implementations ---

// attemptCache serves a previously computed result by exact key. Synchronous
// map lookup; no timeout.
func (o *Orchestrator) attemptCache(_ context.Context, ws *workingState) (*segment.Result, error) {
	entry := o.cache.Get(ws.req.CacheKey())
	if entry == nil {
		return nil, nil
	}
	return &segment.Result{
		Segments:            entry.Segments,
		CorrectedTranscript: entry.CorrectedTranscript,
		Provenance:          segment.ProvenanceCache,
	}, nil
}

// attemptStrongHeuristic runs the hint scan and accepts the result only when
// it passes the strength check. Weak or failed scans fall through silently;
// the guaranteed stage will reuse them if every remote stage fails too.
func (o *Orchestrator) attemptStrongHeuristic(_ context.Context, ws *workingState) (*segment.Result, error) {
	segs := segment.ScanSegments(ws.transcript, ws.req.Words)
	if segs == nil {
		return nil, nil
	}
	normalized := segment.Normalize(segs, len(ws.req.Words))
	if !segment.IsStrong(normalized) {
		return nil, nil
	}
	return &segment.Result{
		Segments:   normalized,
		Provenance: segment.ProvenanceHeuristic,
	}, nil
}

// attemptPreCorrect rewrites the working transcript via the correction
// service. Produces no result; failure is recoverable and leaves the
// transcript as-is.
func (o *Orchestrator) attemptPreCorrect(ctx context.Context, ws *workingState) (*segment.Result, error) {
	corrected, err := o.remote.correct(ctx, ws.transcript, ws.req.Words)
	if err != nil {
		return nil, err
	}
	if corrected != ws.transcript {
		ws.corrected = corrected
		ws.transcript = corrected
	}
	return nil, nil
}

// attemptCombined performs the single correct+segment+judge round trip.
func (o *Orchestrator) attemptCombined(ctx context.Context, ws *workingState) (*segment.Result, error) {
	segs, corrected, judgments, err := o.remote.combined(ctx, ws.transcript, ws.req.Words)
	if err != nil {
		return nil, err
	}
	return &segment.Result{
		Segments:            segs,
		CorrectedTranscript: corrected,
		Judgments:           judgments,
		Provenance:          segment.ProvenanceRemoteCombined,
	}, nil
}

// attemptSegmentOnly performs the segment-only remote call.
func (o *Orchestrator) attemptSegmentOnly(ctx context.Context, ws *workingState) (*segment.Result, error) {
	segs, corrected, err := o.remote.segmentOnly(ctx, ws.transcript, ws.req.Words)
	if err != nil {
		return nil, err
	}
	return &segment.Result{
		Segments:            segs,
		CorrectedTranscript: corrected,
		Provenance:          segment.ProvenanceRemoteSegment,
	}, nil
}

// attemptREST calls the REST matcher. Id-keyed matches are resolved back to
// batch positions; a positional segment list is taken as-is.
func (o *Orchestrator) attemptREST(ctx context.Context, ws *workingState) (*segment.Result, error) {
	words := make([]restmatch.WordRef, len(ws.req.Words))
	for i, w := range ws.req.Words {
		words[i] = restmatch.WordRef{ID: w.ID, DisplayText: w.DisplayText, Hints: w.Hints}
	}

	resp, err := o.matcher.Match(ctx, ws.transcript, words)
	if err != nil {
		return nil, err
	}

	var segs []string
	switch {
	case resp != nil && len(resp.Matches) > 0:
		byID := make(map[string]string, len(resp.Matches))
		for _, m := range resp.Matches {
			byID[m.WordID] = m.Translation
		}
		segs = make([]string, len(ws.req.Words))
		for i, w := range ws.req.Words {
			segs[i] = byID[w.ID]
		}
	case resp != nil && len(resp.Segments) > 0:
		segs = resp.Segments
	default:
		return nil, errShapeMismatch
	}

	return &segment.Result{
		Segments:   segs,
		Provenance: segment.ProvenanceRESTFallback,
	}, nil
}

// attemptGuaranteed is the terminal stage: the heuristic without its
// strength gate, and failing that an even character split. It cannot fail
// and its output is never cached.
func (o *Orchestrator) attemptGuaranteed(_ context.Context, ws *workingState) (*segment.Result, error) {
	n := len(ws.req.Words)
	segs := segment.ScanSegments(ws.transcript, ws.req.Words)
	if segs == nil {
		segs = segment.EvenSplit(ws.transcript, n)
	}
	normalized := segment.Normalize(segs, n)
	return &segment.Result{
		Segments:   normalized,
		Provenance: segment.ProvenanceGuaranteedFallback,
		Weak:       !segment.IsStrong(normalized),
	}, nil
}
