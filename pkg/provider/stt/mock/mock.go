// Package mock provides a test double for the stt.Transcriber interface.
//
// Use Transcriber in unit tests to feed controlled transcripts into the
// upload endpoint without a live recognizer. All fields are safe to set
// before calling any method; mutating them during a concurrent call is the
// caller's responsibility.
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/vocadrill/vocadrill/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Filename is the filename hint passed to Transcribe.
	Filename string
	// Audio is the full audio payload, drained from the reader.
	Audio []byte
}

// Transcriber is a mock implementation of stt.Transcriber.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set TranscribeErr or HealthErr to inject errors.
type Transcriber struct {
	mu sync.Mutex

	// TranscribeResponse is returned by Transcribe. May be nil (returns
	// nil, nil).
	TranscribeResponse *stt.Transcription

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// HealthErr is returned by CheckHealth.
	HealthErr error

	// TranscribeCalls records every invocation of Transcribe in order.
	TranscribeCalls []TranscribeCall
}

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe records the call (draining audio) and returns the configured
// response.
func (t *Transcriber) Transcribe(ctx context.Context, filename string, audio io.Reader) (*stt.Transcription, error) {
	data, _ := io.ReadAll(audio)
	t.mu.Lock()
	t.TranscribeCalls = append(t.TranscribeCalls, TranscribeCall{Ctx: ctx, Filename: filename, Audio: data})
	resp, err := t.TranscribeResponse, t.TranscribeErr
	t.mu.Unlock()
	return resp, err
}

// CheckHealth returns the configured health error.
func (t *Transcriber) CheckHealth(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.HealthErr
}

// Calls returns a copy of the recorded Transcribe invocations.
func (t *Transcriber) Calls() []TranscribeCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TranscribeCall(nil), t.TranscribeCalls...)
}
