// Package chain implements the segmentation strategy chain: an ordered list
// of strategies tried until one produces a result, under per-stage timeouts
// and generation-based staleness control.
//
// The design follows a chain-of-responsibility shape: every stage implements
// the same attempt contract and a single driver loop walks the list. Stages
// one to six may fail; the terminal stage cannot, so every request that
// enters the chain leaves it with a [segment.Result] of correct arity.
package chain

import (
	"context"
	"errors"
	"time"

	"github.com/vocadrill/vocadrill/internal/segment"
)

// Sentinel errors surfaced by the orchestrator.
var (
	// ErrEmptyTranscript is returned when the request's transcript is empty
	// after trimming. This is the only user-visible failure: the guaranteed
	// fallback has nothing to divide.
	ErrEmptyTranscript = errors.New("chain: transcript is empty")

	// ErrStale marks a result abandoned because a newer request superseded
	// its generation. Expected behaviour, never a failure: callers drop the
	// result without side effects.
	ErrStale = errors.New("chain: request superseded")

	// errShapeMismatch marks a remote response whose arity or fields do not
	// match the request. Recoverable; advances the chain.
	errShapeMismatch = errors.New("response shape mismatch")
)

// Error kinds reported to telemetry for recoverable stage failures.
const (
	KindTimeout   = "timeout"
	KindTransport = "transport"
	KindShape     = "shape-mismatch"
)

// Stage names used in logs and telemetry attributes.
const (
	stageCache       = "cache"
	stageHeuristic   = "heuristic"
	stagePreCorrect  = "pre-correct"
	stageCombined    = "remote-combined"
	stageSegmentOnly = "remote-segment"
	stageREST        = "rest-fallback"
	stageGuaranteed  = "guaranteed-fallback"
)

// stage is one entry of the chain. Attempt returns (result, nil) to stop the
// chain, (nil, nil) to continue without a result (used by the transcript
// pre-correction stage, which only mutates the working state), or an error
// to continue with telemetry.
type stage struct {
	name    string
	timeout time.Duration
	attempt func(ctx context.Context, ws *workingState) (*segment.Result, error)
}

// workingState is the mutable per-attempt state threaded through the stages.
type workingState struct {
	req *segment.Request

	// transcript starts as the trimmed, rule-repaired request transcript and
	// may be replaced by the pre-correction stage.
	transcript string

	// corrected is set when a correcting stage rewrote the transcript, so the
	// final result can report it.
	corrected string
}

// classifyKind maps a stage error onto the telemetry error taxonomy.
func classifyKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, errShapeMismatch):
		return KindShape
	default:
		return KindTransport
	}
}
