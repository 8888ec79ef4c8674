// Package session persists per-learner drill state: the active word batch
// and the submission history. Redis backs it in production; the in-memory
// store serves tests and single-process deployments.
package session

import (
	"context"
	"time"

	"github.com/vocadrill/vocadrill/internal/segment"
)

// Batch is the word set a session is currently drilling.
type Batch struct {
	Words     []segment.Word `json:"words"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Submission is one graded utterance.
type Submission struct {
	ID         string             `json:"id"`
	SessionID  string             `json:"sessionId"`
	Transcript string             `json:"transcript"`
	Corrected  string             `json:"corrected,omitempty"`
	Segments   []string           `json:"segments"`
	Judgments  []segment.Judgment `json:"judgments,omitempty"`
	Provenance string             `json:"provenance"`
	Auto       bool               `json:"auto"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// Store persists session state.
type Store interface {
	// SaveBatch replaces the session's active word batch.
	SaveBatch(ctx context.Context, sessionID string, batch *Batch) error

	// GetBatch returns the session's active batch, or (nil, nil) when the
	// session has none.
	GetBatch(ctx context.Context, sessionID string) (*Batch, error)

	// SaveSubmission appends one graded utterance to the session's history.
	SaveSubmission(ctx context.Context, sub *Submission) error

	// Submissions returns the newest submissions for a session, newest
	// first.
	Submissions(ctx context.Context, sessionID string, limit int) ([]Submission, error)

	// Cursor returns the session's progress cursor: how many batches the
	// learner has completed. Zero when the session is new.
	Cursor(ctx context.Context, sessionID string) (int, error)

	// AdvanceCursor increments the progress cursor and returns the new
	// value.
	AdvanceCursor(ctx context.Context, sessionID string) (int, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}
