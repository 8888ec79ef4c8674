package errlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the dictation_errors table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS dictation_errors (
    id          TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL,
    word_id     TEXT NOT NULL,
    word_text   TEXT NOT NULL DEFAULT '',
    answer      TEXT NOT NULL DEFAULT '',
    correction  TEXT NOT NULL DEFAULT '',
    source      TEXT NOT NULL DEFAULT 'manual',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_dictation_errors_session ON dictation_errors(session_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_dictation_errors_word ON dictation_errors(word_id);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] using the given connection or
// pool. The caller is responsible for calling [PostgresStore.Migrate] before
// issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL, creating the dictation_errors table and
// indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("errlog: migrate: %w", err)
	}
	return nil
}

// Append inserts one error record.
func (s *PostgresStore) Append(ctx context.Context, rec *Record) error {
	const query = `
		INSERT INTO dictation_errors (
			id, session_id, word_id, word_text, answer, correction, source, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err := s.db.Exec(ctx, query,
		rec.ID, rec.SessionID, rec.WordID, rec.WordText,
		rec.Answer, rec.Correction, rec.Source, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("errlog: append: %w", err)
	}
	return nil
}

// Recent returns the newest records for a session, newest first. A
// non-positive limit defaults to 50.
func (s *PostgresStore) Recent(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, session_id, word_id, word_text, answer, correction, source, created_at
		FROM dictation_errors
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("errlog: recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.WordID, &rec.WordText,
			&rec.Answer, &rec.Correction, &rec.Source, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("errlog: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("errlog: recent: %w", err)
	}
	return out, nil
}
