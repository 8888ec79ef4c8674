// Package mock provides a test double for the restmatch.Matcher interface.
package mock

import (
	"context"
	"sync"

	"github.com/vocadrill/vocadrill/pkg/provider/restmatch"
)

// MatchCall records a single invocation of Match.
type MatchCall struct {
	Transcript string
	Words      []restmatch.WordRef
}

// Matcher is a mock implementation of restmatch.Matcher.
type Matcher struct {
	mu sync.Mutex

	// Response is returned by Match. May be nil (returns nil, nil).
	Response *restmatch.Response

	// Err, if non-nil, is returned as the error from Match.
	Err error

	// MatchFunc, if non-nil, overrides Response/Err entirely.
	MatchFunc func(ctx context.Context, transcript string, words []restmatch.WordRef) (*restmatch.Response, error)

	// MatchCalls records every invocation in order.
	MatchCalls []MatchCall
}

// Match records the call and returns the configured response.
func (m *Matcher) Match(ctx context.Context, transcript string, words []restmatch.WordRef) (*restmatch.Response, error) {
	m.mu.Lock()
	m.MatchCalls = append(m.MatchCalls, MatchCall{Transcript: transcript, Words: words})
	fn := m.MatchFunc
	resp, err := m.Response, m.Err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, transcript, words)
	}
	return resp, err
}

// CallCount returns the number of recorded Match invocations. Thread-safe.
func (m *Matcher) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.MatchCalls)
}

// Ensure Matcher implements restmatch.Matcher at compile time.
var _ restmatch.Matcher = (*Matcher)(nil)
