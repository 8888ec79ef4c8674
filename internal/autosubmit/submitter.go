// Package autosubmit holds a judged result for a short grace window and
// submits it only if the learner stays silent. Any new activity inside the
// window cancels the pending submission, so a learner who keeps talking
// never has a half-finished utterance graded.
package autosubmit

import (
	"sync"
	"time"

	"github.com/vocadrill/vocadrill/internal/segment"
)

// DefaultDelay is the grace window between a judged result arriving and its
// automatic submission.
const DefaultDelay = 1500 * time.Millisecond

// SubmitFunc receives the request and its judged result when the grace
// window elapses undisturbed.
type SubmitFunc func(req *segment.Request, res *segment.Result)

// Option is a functional option for configuring a [Submitter].
type Option func(*Submitter)

// WithDelay overrides [DefaultDelay].
func WithDelay(d time.Duration) Option {
	return func(s *Submitter) {
		if d > 0 {
			s.delay = d
		}
	}
}

// Submitter debounces automatic submissions. At most one submission is
// pending at a time; scheduling a new result replaces and re-arms the
// previous one. Safe for concurrent use.
type Submitter struct {
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	pending *pending
	submit  SubmitFunc
}

type pending struct {
	req *segment.Request
	res *segment.Result
}

// New creates a [Submitter] that delivers to submit.
func New(submit SubmitFunc, opts ...Option) *Submitter {
	s := &Submitter{
		delay:  DefaultDelay,
		submit: submit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Eligible reports whether res may be submitted automatically: it must carry
// judgments and must not be a weak or fallback-derived segmentation. Results
// that fail this check wait for the learner to submit manually.
func Eligible(res *segment.Result) bool {
	if res == nil || res.Weak || len(res.Judgments) == 0 {
		return false
	}
	switch res.Provenance {
	case segment.ProvenanceGuaranteedFallback, segment.ProvenanceRESTFallback:
		return false
	}
	return true
}

// Schedule arms the grace window for res, replacing any pending submission.
// It reports whether res was accepted; ineligible results cancel the pending
// submission instead, since they represent newer activity.
func (s *Submitter) Schedule(req *segment.Request, res *segment.Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	if !Eligible(res) {
		return false
	}
	s.pending = &pending{req: req, res: res}
	s.timer = time.AfterFunc(s.delay, s.fire)
	return true
}

// Cancel drops any pending submission. Call it whenever the learner does
// something new: starts recording, edits a segment, changes the batch.
func (s *Submitter) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Flush submits the pending result immediately, if any, and reports whether
// one was submitted. Used when the learner confirms before the window ends.
func (s *Submitter) Flush() bool {
	s.mu.Lock()
	p := s.pending
	s.stopLocked()
	s.mu.Unlock()

	if p == nil {
		return false
	}
	s.submit(p.req, p.res)
	return true
}

// Pending reports whether a submission is armed.
func (s *Submitter) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

func (s *Submitter) fire() {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.timer = nil
	s.mu.Unlock()

	// A Cancel that won the race already cleared pending.
	if p != nil {
		s.submit(p.req, p.res)
	}
}

func (s *Submitter) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
}
