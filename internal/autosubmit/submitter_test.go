package autosubmit_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/vocadrill/vocadrill/internal/autosubmit"
	"github.com/vocadrill/vocadrill/internal/segment"
)

func judgedRequest() *segment.Request {
	return &segment.Request{
		SessionID:  "s1",
		Words: []segment.Word{
			{ID: "w1", DisplayText: "apple", Hints: []string{"苹果"}},
			{ID: "w2", DisplayText: "banana", Hints: []string{"香蕉"}},
		},
		Transcript: "苹果香蕉",
		AutoSubmit: true,
	}
}

func judgedResult() *segment.Result {
	return &segment.Result{
		Segments:   []string{"苹果", "香蕉"},
		Judgments:  []segment.Judgment{{Correct: true}, {Correct: false, CorrectionText: "香蕉"}},
		Provenance: segment.ProvenanceRemoteCombined,
	}
}

func TestSubmitterFiresAfterDelay(t *testing.T) {
	t.Parallel()

	fired := make(chan *segment.Result, 1)
	s := autosubmit.New(func(_ *segment.Request, res *segment.Result) { fired <- res },
		autosubmit.WithDelay(20*time.Millisecond))

	res := judgedResult()
	if !s.Schedule(judgedRequest(), res) {
		t.Fatal("eligible result rejected")
	}

	select {
	case got := <-fired:
		if got != res {
			t.Fatal("submitted a different result than scheduled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("submission never fired")
	}
	if s.Pending() {
		t.Fatal("still pending after firing")
	}
}

func TestSubmitterCancelSuppressesFire(t *testing.T) {
	t.Parallel()

	var fires atomic.Int32
	s := autosubmit.New(func(*segment.Request, *segment.Result) { fires.Add(1) },
		autosubmit.WithDelay(30*time.Millisecond))

	s.Schedule(judgedRequest(), judgedResult())
	s.Cancel()

	time.Sleep(100 * time.Millisecond)
	if n := fires.Load(); n != 0 {
		t.Fatalf("fired %d times after Cancel", n)
	}
}

// Scheduling a newer result replaces the pending one: only the newest is
// ever submitted.
func TestSubmitterRearmsOnNewResult(t *testing.T) {
	t.Parallel()

	fired := make(chan *segment.Result, 2)
	s := autosubmit.New(func(_ *segment.Request, res *segment.Result) { fired <- res },
		autosubmit.WithDelay(40*time.Millisecond))

	older := judgedResult()
	newer := judgedResult()
	s.Schedule(judgedRequest(), older)
	s.Schedule(judgedRequest(), newer)

	select {
	case got := <-fired:
		if got != newer {
			t.Fatal("submitted the superseded result")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("submission never fired")
	}
	select {
	case <-fired:
		t.Fatal("both results were submitted")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubmitterFlush(t *testing.T) {
	t.Parallel()

	fired := make(chan *segment.Result, 1)
	s := autosubmit.New(func(_ *segment.Request, res *segment.Result) { fired <- res },
		autosubmit.WithDelay(time.Hour))

	s.Schedule(judgedRequest(), judgedResult())
	if !s.Flush() {
		t.Fatal("Flush reported nothing pending")
	}
	select {
	case <-fired:
	default:
		t.Fatal("Flush did not submit synchronously")
	}
	if s.Flush() {
		t.Fatal("second Flush reported a pending result")
	}
}

func TestEligible(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		res  *segment.Result
		want bool
	}{
		{"nil", nil, false},
		{"judged combined", judgedResult(), true},
		{"no judgments", &segment.Result{
			Segments:   []string{"a", "b"},
			Provenance: segment.ProvenanceRemoteCombined,
		}, false},
		{"weak", func() *segment.Result {
			r := judgedResult()
			r.Weak = true
			return r
		}(), false},
		{"guaranteed fallback", func() *segment.Result {
			r := judgedResult()
			r.Provenance = segment.ProvenanceGuaranteedFallback
			return r
		}(), false},
		{"rest fallback", func() *segment.Result {
			r := judgedResult()
			r.Provenance = segment.ProvenanceRESTFallback
			return r
		}(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := autosubmit.Eligible(tt.res); got != tt.want {
				t.Fatalf("Eligible = %v, want %v", got, tt.want)
			}
		})
	}
}

// An ineligible schedule must also cancel whatever was pending, since it
// represents newer activity.
func TestScheduleIneligibleCancelsPending(t *testing.T) {
	t.Parallel()

	var fires atomic.Int32
	s := autosubmit.New(func(*segment.Request, *segment.Result) { fires.Add(1) },
		autosubmit.WithDelay(30*time.Millisecond))

	s.Schedule(judgedRequest(), judgedResult())
	weak := judgedResult()
	weak.Weak = true
	if s.Schedule(judgedRequest(), weak) {
		t.Fatal("weak result accepted for auto-submission")
	}

	time.Sleep(100 * time.Millisecond)
	if n := fires.Load(); n != 0 {
		t.Fatalf("fired %d times, want 0", n)
	}
}
