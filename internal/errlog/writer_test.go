package errlog_test

import (
	"context"
	"testing"
	"time"

	"github.com/vocadrill/vocadrill/internal/errlog"
)

func TestWriterDrainsQueue(t *testing.T) {
	t.Parallel()

	store := errlog.NewMemoryStore()
	w := errlog.NewWriter(store, 8)

	w.Append(&errlog.Record{SessionID: "s1", WordID: "w1", Answer: "ping guo", Correction: "苹果"})
	w.Append(&errlog.Record{SessionID: "s1", WordID: "w2", Answer: "", Correction: "香蕉"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("stored %d records, want 2", store.Len())
	}

	recs, err := store.Recent(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Recent returned %d records, want 2", len(recs))
	}
	for _, rec := range recs {
		if rec.ID == "" {
			t.Fatal("record persisted without generated ID")
		}
		if rec.CreatedAt.IsZero() {
			t.Fatal("record persisted without timestamp")
		}
	}
}

func TestWriterAppendAfterCloseDropsRecord(t *testing.T) {
	t.Parallel()

	store := errlog.NewMemoryStore()
	w := errlog.NewWriter(store, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A late auto-submit timer may still append during shutdown; the
	// record is dropped, not panicked on.
	w.Append(&errlog.Record{SessionID: "s1", WordID: "w1", Correction: "苹果"})
	if store.Len() != 0 {
		t.Fatalf("stored %d records after close, want 0", store.Len())
	}

	// Close is idempotent.
	if err := w.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestWriterRecentFiltersBySession(t *testing.T) {
	t.Parallel()

	store := errlog.NewMemoryStore()
	for _, sid := range []string{"a", "b", "a"} {
		if err := store.Append(context.Background(), &errlog.Record{ID: sid, SessionID: sid}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recs, err := store.Recent(context.Background(), "a", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records for session a, want 2", len(recs))
	}
}
