package chain_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vocadrill/vocadrill/internal/chain"
	"github.com/vocadrill/vocadrill/internal/segment"
	"github.com/vocadrill/vocadrill/pkg/provider/llm"
	llmmock "github.com/vocadrill/vocadrill/pkg/provider/llm/mock"
	"github.com/vocadrill/vocadrill/pkg/provider/restmatch"
	restmock "github.com/vocadrill/vocadrill/pkg/provider/restmatch/mock"
)

// fruitWords is a batch whose hints appear verbatim in fruitTranscript, so
// the hint scan resolves it without any network call.
func fruitWords() []segment.Word {
	return []segment.Word{
		{ID: "w1", DisplayText: "apple", Hints: []string{"苹果"}},
		{ID: "w2", DisplayText: "banana", Hints: []string{"香蕉"}},
	}
}

const fruitTranscript = "苹果香蕉"

// opaqueWords is a batch whose hints never appear in any transcript used by
// these tests, forcing the chain past the heuristic stage.
func opaqueWords() []segment.Word {
	return []segment.Word{
		{ID: "w1", DisplayText: "library", Hints: []string{"图书馆"}},
		{ID: "w2", DisplayText: "hospital", Hints: []string{"医院"}},
	}
}

func segmentJSON(segs ...string) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		Content: `{"segments": ["` + strings.Join(segs, `", "`) + `"]}`,
	}
}

func TestSegmentValidation(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteErr: errors.New("must not be called")}
	o := chain.New(p)

	_, err := o.Segment(context.Background(), &segment.Request{
		SessionID:  "s1",
		Words:      fruitWords(),
		Transcript: "   ",
	})
	if !errors.Is(err, chain.ErrEmptyTranscript) {
		t.Fatalf("blank transcript: err = %v, want ErrEmptyTranscript", err)
	}

	_, err = o.Segment(context.Background(), &segment.Request{
		SessionID:  "s1",
		Transcript: fruitTranscript,
	})
	if !errors.Is(err, chain.ErrNoWords) {
		t.Fatalf("empty batch: err = %v, want ErrNoWords", err)
	}

	if n := len(p.Calls()); n != 0 {
		t.Fatalf("provider called %d times during validation failures", n)
	}
}

func TestSegmentStrongHeuristicShortCircuits(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteErr: errors.New("must not be called")}
	o := chain.New(p)

	res, err := o.Segment(context.Background(), &segment.Request{
		SessionID:  "s1",
		Words:      fruitWords(),
		Transcript: fruitTranscript,
	})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if res.Provenance != segment.ProvenanceHeuristic {
		t.Fatalf("provenance = %q, want %q", res.Provenance, segment.ProvenanceHeuristic)
	}
	want := []string{"苹果", "香蕉"}
	if len(res.Segments) != len(want) || res.Segments[0] != want[0] || res.Segments[1] != want[1] {
		t.Fatalf("segments = %v, want %v", res.Segments, want)
	}
	if n := len(p.Calls()); n != 0 {
		t.Fatalf("provider called %d times on heuristic path", n)
	}
}

func TestSegmentRemoteSegmentOnly(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: segmentJSON("图书馆", "医院")}
	o := chain.New(p)

	res, err := o.Segment(context.Background(), &segment.Request{
		SessionID:  "s1",
		Words:      opaqueWords(),
		Transcript: "tushuguan yiyuan",
	})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if res.Provenance != segment.ProvenanceRemoteSegment {
		t.Fatalf("provenance = %q, want %q", res.Provenance, segment.ProvenanceRemoteSegment)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(res.Segments))
	}
	if n := len(p.Calls()); n != 1 {
		t.Fatalf("provider called %d times, want 1", n)
	}
}

// A second identical request must be answered from the cache without
// touching the provider again.
func TestSegmentCachesResult(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: segmentJSON("图书馆", "医院")}
	o := chain.New(p)

	req := &segment.Request{
		SessionID:  "s1",
		Words:      opaqueWords(),
		Transcript: "tushuguan yiyuan",
	}
	first, err := o.Segment(context.Background(), req)
	if err != nil {
		t.Fatalf("first Segment: %v", err)
	}

	// Same utterance with stray whitespace keys to the same entry.
	second, err := o.Segment(context.Background(), &segment.Request{
		SessionID:  "s1",
		Words:      opaqueWords(),
		Transcript: "  tushuguan yiyuan  ",
	})
	if err != nil {
		t.Fatalf("second Segment: %v", err)
	}
	if second.Provenance != segment.ProvenanceCache {
		t.Fatalf("provenance = %q, want %q", second.Provenance, segment.ProvenanceCache)
	}
	if len(second.Segments) != len(first.Segments) || second.Segments[0] != first.Segments[0] {
		t.Fatalf("cached segments %v differ from original %v", second.Segments, first.Segments)
	}
	if n := len(p.Calls()); n != 1 {
		t.Fatalf("provider called %d times across both requests, want 1", n)
	}
}

func TestSegmentNormalizesRemoteOverflow(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: segmentJSON("图书馆", "医院", "多余")}
	o := chain.New(p)

	res, err := o.Segment(context.Background(), &segment.Request{
		SessionID:  "s1",
		Words:      opaqueWords(),
		Transcript: "tushuguan yiyuan duoyu",
	})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(res.Segments))
	}
	if res.Segments[1] != "医院 多余" {
		t.Fatalf("tail segment = %q, want overflow merged into it", res.Segments[1])
	}
}

func TestSegmentRESTFallback(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteErr: errors.New("llm down")}
	m := &restmock.Matcher{Response: &restmatch.Response{
		// Out of batch order on purpose: resolution is by word ID.
		Matches: []restmatch.Match{
			{WordID: "w2", Translation: "医院"},
			{WordID: "w1", Translation: "图书馆"},
		},
	}}
	o := chain.New(p, chain.WithMatcher(m))

	res, err := o.Segment(context.Background(), &segment.Request{
		SessionID:  "s1",
		Words:      opaqueWords(),
		Transcript: "tushuguan yiyuan",
	})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if res.Provenance != segment.ProvenanceRESTFallback {
		t.Fatalf("provenance = %q, want %q", res.Provenance, segment.ProvenanceRESTFallback)
	}
	if res.Segments[0] != "图书馆" || res.Segments[1] != "医院" {
		t.Fatalf("segments = %v, want positional order restored from matches", res.Segments)
	}
	if m.CallCount() != 1 {
		t.Fatalf("matcher called %d times, want 1", m.CallCount())
	}
}

// When every networked stage fails the chain still produces a result of
// correct arity, and that result is never cached.
func TestSegmentGuaranteedFallback(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteErr: errors.New("llm down")}
	m := &restmock.Matcher{Err: errors.New("matcher down")}
	o := chain.New(p, chain.WithMatcher(m))

	req := &segment.Request{
		SessionID:  "s1",
		Words:      opaqueWords(),
		Transcript: "这一整句话里没有任何一个提示词能够匹配得上所以系统只能把它平均切开了",
	}
	res, err := o.Segment(context.Background(), req)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if res.Provenance != segment.ProvenanceGuaranteedFallback {
		t.Fatalf("provenance = %q, want %q", res.Provenance, segment.ProvenanceGuaranteedFallback)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(res.Segments))
	}
	if !res.Weak {
		t.Fatal("even-split result not marked weak")
	}

	calls := len(p.Calls())
	if _, err := o.Segment(context.Background(), req); err != nil {
		t.Fatalf("repeat Segment: %v", err)
	}
	if len(p.Calls()) == calls {
		t.Fatal("fallback result was served from cache on repeat request")
	}
}

func TestSegmentTimeoutAdvancesChain(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	m := &restmock.Matcher{Response: &restmatch.Response{
		Segments: []string{"图书馆", "医院"},
	}}
	o := chain.New(p,
		chain.WithMatcher(m),
		chain.WithTimeouts(chain.Timeouts{SegmentOnly: 20 * time.Millisecond}),
	)

	start := time.Now()
	res, err := o.Segment(context.Background(), &segment.Request{
		SessionID:  "s1",
		Words:      opaqueWords(),
		Transcript: "tushuguan yiyuan",
	})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if res.Provenance != segment.ProvenanceRESTFallback {
		t.Fatalf("provenance = %q, want %q", res.Provenance, segment.ProvenanceRESTFallback)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("chain took %v, stage timeout did not advance it", elapsed)
	}
}

func TestSegmentAutoSubmitUsesCombined(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{
			"segments": ["苹果", "香蕉"],
			"correctedTranscript": "苹果香蕉",
			"judgments": [
				{"correct": true, "correctionText": ""},
				{"correct": false, "correctionText": "香蕉"}
			]
		}`,
	}}
	o := chain.New(p)

	// Hints match the transcript, but the auto-submit path must still go
	// remote: it needs judgments, which the heuristic cannot produce.
	res, err := o.Segment(context.Background(), &segment.Request{
		SessionID:  "s1",
		Words:      fruitWords(),
		Transcript: fruitTranscript,
		AutoSubmit: true,
	})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if res.Provenance != segment.ProvenanceRemoteCombined {
		t.Fatalf("provenance = %q, want %q", res.Provenance, segment.ProvenanceRemoteCombined)
	}
	if len(res.Judgments) != 2 {
		t.Fatalf("got %d judgments, want 2", len(res.Judgments))
	}
	if res.Judgments[0].Correct != true || res.Judgments[1].Correct != false {
		t.Fatalf("judgments = %+v", res.Judgments)
	}
	if res.Judgments[1].CorrectionText != "香蕉" {
		t.Fatalf("correction = %q, want 香蕉", res.Judgments[1].CorrectionText)
	}
	if n := len(p.Calls()); n != 1 {
		t.Fatalf("provider called %d times, want 1", n)
	}
}

func TestSegmentSupersededReturnsStale(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var once sync.Once
	p := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	o := chain.New(p)

	errc := make(chan error, 1)
	go func() {
		_, err := o.Segment(context.Background(), &segment.Request{
			SessionID:  "s1",
			Words:      opaqueWords(),
			Transcript: "tushuguan yiyuan",
		})
		errc <- err
	}()

	<-started
	o.Supersede()

	if err := <-errc; !errors.Is(err, chain.ErrStale) {
		t.Fatalf("superseded request: err = %v, want ErrStale", err)
	}
}

// A newer Segment call cancels the in-flight one; only the newest request
// produces a result.
func TestSegmentNewerRequestWins(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var once sync.Once
	p := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	o := chain.New(p)

	errc := make(chan error, 1)
	go func() {
		_, err := o.Segment(context.Background(), &segment.Request{
			SessionID:  "s1",
			Words:      opaqueWords(),
			Transcript: "tushuguan yiyuan",
		})
		errc <- err
	}()
	<-started

	// Newest utterance resolves via the heuristic without the provider.
	res, err := o.Segment(context.Background(), &segment.Request{
		SessionID:  "s1",
		Words:      fruitWords(),
		Transcript: fruitTranscript,
	})
	if err != nil {
		t.Fatalf("newest Segment: %v", err)
	}
	if res.Provenance != segment.ProvenanceHeuristic {
		t.Fatalf("newest provenance = %q", res.Provenance)
	}

	if err := <-errc; !errors.Is(err, chain.ErrStale) {
		t.Fatalf("older request: err = %v, want ErrStale", err)
	}
}

func TestSegmentAppliesCorrectionRules(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: segmentJSON("图书馆", "医院")}
	rules := segment.NewRuleTable([]segment.Rule{
		{Pattern: "tu shu guan", Replacement: "tushuguan"},
	})
	o := chain.New(p, chain.WithRules(rules))

	_, err := o.Segment(context.Background(), &segment.Request{
		SessionID:  "s1",
		Words:      opaqueWords(),
		Transcript: "tu shu guan yiyuan",
	})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("provider called %d times, want 1", len(calls))
	}
	got := calls[0].Req.Messages[0].Content
	if got != "tushuguan yiyuan" {
		t.Fatalf("provider saw transcript %q, want rules applied first", got)
	}
}

func TestResetBatchDropsCache(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: segmentJSON("图书馆", "医院")}
	o := chain.New(p)

	req := &segment.Request{
		SessionID:  "s1",
		Words:      opaqueWords(),
		Transcript: "tushuguan yiyuan",
	}
	if _, err := o.Segment(context.Background(), req); err != nil {
		t.Fatalf("first Segment: %v", err)
	}

	o.ResetBatch()

	if _, err := o.Segment(context.Background(), req); err != nil {
		t.Fatalf("second Segment: %v", err)
	}
	if n := len(p.Calls()); n != 2 {
		t.Fatalf("provider called %d times, want 2 after batch reset", n)
	}
}

func TestSegmentPreCorrection(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if strings.Contains(req.SystemPrompt, "post-editor") {
				return &llm.CompletionResponse{
					Content: `{"correctedTranscript": "tushuguan yiyuan"}`,
				}, nil
			}
			// The splitter must see the corrected transcript.
			if req.Messages[0].Content != "tushuguan yiyuan" {
				return nil, errors.New("splitter saw uncorrected transcript")
			}
			return segmentJSON("图书馆", "医院"), nil
		},
	}
	o := chain.New(p, chain.WithPreCorrection(true))

	res, err := o.Segment(context.Background(), &segment.Request{
		SessionID:  "s1",
		Words:      opaqueWords(),
		Transcript: "tu shu guan yi yuan",
	})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if res.CorrectedTranscript != "tushuguan yiyuan" {
		t.Fatalf("corrected transcript = %q", res.CorrectedTranscript)
	}
	if n := len(p.Calls()); n != 2 {
		t.Fatalf("provider called %d times, want 2 (correct + segment)", n)
	}
}
