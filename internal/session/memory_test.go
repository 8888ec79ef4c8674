package session_test

import (
	"context"
	"testing"

	"github.com/vocadrill/vocadrill/internal/segment"
	"github.com/vocadrill/vocadrill/internal/session"
)

func TestMemoryStoreBatchRoundTrip(t *testing.T) {
	t.Parallel()

	s := session.NewMemoryStore()
	ctx := context.Background()

	got, err := s.GetBatch(ctx, "s1")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got != nil {
		t.Fatal("unknown session returned a batch")
	}

	batch := &session.Batch{Words: []segment.Word{
		{ID: "w1", DisplayText: "apple", Hints: []string{"苹果"}},
	}}
	if err := s.SaveBatch(ctx, "s1", batch); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}

	got, err = s.GetBatch(ctx, "s1")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got == nil || len(got.Words) != 1 || got.Words[0].ID != "w1" {
		t.Fatalf("batch = %+v", got)
	}
}

func TestMemoryStoreSubmissionsNewestFirst(t *testing.T) {
	t.Parallel()

	s := session.NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"first", "second", "third"} {
		if err := s.SaveSubmission(ctx, &session.Submission{ID: id, SessionID: "s1"}); err != nil {
			t.Fatalf("SaveSubmission: %v", err)
		}
	}

	subs, err := s.Submissions(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Submissions: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("got %d submissions, want 2", len(subs))
	}
	if subs[0].ID != "third" || subs[1].ID != "second" {
		t.Fatalf("order = %s, %s", subs[0].ID, subs[1].ID)
	}
}

func TestMemoryStoreCursor(t *testing.T) {
	t.Parallel()

	s := session.NewMemoryStore()
	ctx := context.Background()

	n, err := s.Cursor(ctx, "s1")
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if n != 0 {
		t.Fatalf("new session cursor = %d, want 0", n)
	}

	for want := 1; want <= 3; want++ {
		n, err = s.AdvanceCursor(ctx, "s1")
		if err != nil {
			t.Fatalf("AdvanceCursor: %v", err)
		}
		if n != want {
			t.Fatalf("cursor = %d, want %d", n, want)
		}
	}

	// Sessions do not share a cursor.
	n, err = s.Cursor(ctx, "s2")
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if n != 0 {
		t.Fatalf("other session cursor = %d, want 0", n)
	}
}
