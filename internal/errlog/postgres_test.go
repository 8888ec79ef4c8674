package errlog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB implements the DB interface, recording Exec calls.
type fakeDB struct {
	execSQL  []string
	execArgs [][]any
	execErr  error

	queryFunc func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if f.queryFunc != nil {
		return f.queryFunc(ctx, sql, args...)
	}
	return nil, errors.New("not implemented")
}

func TestPostgresMigrate(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	s := NewPostgresStore(db)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(db.execSQL) != 1 || !strings.Contains(db.execSQL[0], "CREATE TABLE IF NOT EXISTS dictation_errors") {
		t.Fatalf("executed %v", db.execSQL)
	}
}

func TestPostgresAppend(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	s := NewPostgresStore(db)

	rec := &Record{
		ID:         "01ABC",
		SessionID:  "s1",
		WordID:     "w1",
		WordText:   "apple",
		Answer:     "ping guo",
		Correction: "苹果",
		Source:     "manual",
		CreatedAt:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := s.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if len(db.execSQL) != 1 || !strings.Contains(db.execSQL[0], "INSERT INTO dictation_errors") {
		t.Fatalf("executed %v", db.execSQL)
	}
	args := db.execArgs[0]
	if len(args) != 8 {
		t.Fatalf("got %d args, want 8", len(args))
	}
	if args[0] != "01ABC" || args[1] != "s1" || args[5] != "苹果" {
		t.Fatalf("args = %v", args)
	}
}

func TestPostgresAppendError(t *testing.T) {
	t.Parallel()

	db := &fakeDB{execErr: errors.New("connection refused")}
	s := NewPostgresStore(db)

	err := s.Append(context.Background(), &Record{ID: "x", SessionID: "s1"})
	if err == nil {
		t.Fatal("database error swallowed")
	}
	if !strings.Contains(err.Error(), "errlog: append") {
		t.Fatalf("err = %v", err)
	}
}
