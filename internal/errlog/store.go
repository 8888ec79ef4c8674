// Package errlog persists the learner's error log: one record per answer
// judged incorrect, written off the request path so judgment latency never
// waits on the database.
package errlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Record is one incorrect answer.
type Record struct {
	ID         string
	SessionID  string
	WordID     string
	WordText   string
	Answer     string
	Correction string
	Source     string // submission mode: "manual" or "auto"
	CreatedAt  time.Time
}

// Store persists error records.
type Store interface {
	// Append inserts one record.
	Append(ctx context.Context, rec *Record) error
	// Recent returns the newest records for a session, newest first.
	Recent(ctx context.Context, sessionID string, limit int) ([]Record, error)
}

// Writer decouples judgment handling from persistence. Append enqueues and
// returns immediately; a single background goroutine drains the queue into
// the store. A full queue drops the record with a warning rather than block
// the caller.
type Writer struct {
	store Store
	queue chan *Record
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// DefaultQueueSize bounds the async write queue.
const DefaultQueueSize = 256

// NewWriter starts the drain goroutine. Non-positive buffer falls back to
// [DefaultQueueSize].
func NewWriter(store Store, buffer int) *Writer {
	if buffer <= 0 {
		buffer = DefaultQueueSize
	}
	w := &Writer{
		store: store,
		queue: make(chan *Record, buffer),
		done:  make(chan struct{}),
	}
	go w.drain()
	return w
}

// Append enqueues rec for persistence and returns immediately. Missing ID
// and CreatedAt fields are filled in. Records appended after Close are
// dropped with a warning; an auto-submit timer can still fire while the
// process is shutting down.
func (w *Writer) Append(rec *Record) {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		slog.Warn("error-log writer closed, dropping record",
			"session", rec.SessionID, "word", rec.WordID)
		return
	}
	select {
	case w.queue <- rec:
	default:
		slog.Warn("error-log queue full, dropping record",
			"session", rec.SessionID, "word", rec.WordID)
	}
}

// Close stops accepting records and waits for the queue to drain, or for ctx
// to expire. Safe to call more than once.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) drain() {
	defer close(w.done)
	for rec := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.store.Append(ctx, rec); err != nil {
			slog.Error("error-log append failed",
				"session", rec.SessionID, "word", rec.WordID, "error", err)
		}
		cancel()
	}
}
