package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultTTL expires idle session state. A drill session that sees no
// traffic for this long starts over.
const defaultTTL = 6 * time.Hour

// maxSubmissions bounds the per-session history list in Redis.
const maxSubmissions = 200

// RedisStore is a [Store] backed by Redis. Batches are stored as JSON
// strings, submission history as a capped list, both under the session TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to the Redis instance at connStr (a redis:// URL).
func NewRedisStore(connStr string) (*RedisStore, error) {
	opt, err := redis.ParseURL(connStr)
	if err != nil {
		return nil, fmt.Errorf("session: parse redis URL: %w", err)
	}
	slog.Info("connecting session store", "redis", opt.Addr, "db", opt.DB)
	return &RedisStore{
		client: redis.NewClient(opt),
		ttl:    defaultTTL,
	}, nil
}

func keyBatch(sessionID string) string {
	return "batch:" + sessionID
}

func keySubmissions(sessionID string) string {
	return "subs:" + sessionID
}

func keyCursor(sessionID string) string {
	return "cursor:" + sessionID
}

// SaveBatch replaces the session's active word batch.
func (s *RedisStore) SaveBatch(ctx context.Context, sessionID string, batch *Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("session: marshal batch: %w", err)
	}
	if err := s.client.Set(ctx, keyBatch(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: save batch: %w", err)
	}
	return nil
}

// GetBatch returns the session's active batch, or (nil, nil) when absent.
func (s *RedisStore) GetBatch(ctx context.Context, sessionID string) (*Batch, error) {
	data, err := s.client.Get(ctx, keyBatch(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: get batch: %w", err)
	}
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("session: unmarshal batch: %w", err)
	}
	return &b, nil
}

// SaveSubmission appends sub to the session's history, trimming it to
// maxSubmissions entries.
func (s *RedisStore) SaveSubmission(ctx context.Context, sub *Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("session: marshal submission: %w", err)
	}
	key := keySubmissions(sub.SessionID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, maxSubmissions-1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: save submission: %w", err)
	}
	return nil
}

// Submissions returns the newest submissions, newest first.
func (s *RedisStore) Submissions(ctx context.Context, sessionID string, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := s.client.LRange(ctx, keySubmissions(sessionID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("session: list submissions: %w", err)
	}
	out := make([]Submission, 0, len(raw))
	for _, item := range raw {
		var sub Submission
		if err := json.Unmarshal([]byte(item), &sub); err != nil {
			return nil, fmt.Errorf("session: unmarshal submission: %w", err)
		}
		out = append(out, sub)
	}
	return out, nil
}

// Cursor returns the session's progress cursor, zero when unset.
func (s *RedisStore) Cursor(ctx context.Context, sessionID string) (int, error) {
	n, err := s.client.Get(ctx, keyCursor(sessionID)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("session: get cursor: %w", err)
	}
	return n, nil
}

// AdvanceCursor increments the progress cursor and refreshes its TTL.
func (s *RedisStore) AdvanceCursor(ctx context.Context, sessionID string) (int, error) {
	key := keyCursor(sessionID)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("session: advance cursor: %w", err)
	}
	return int(incr.Val()), nil
}

// Ping verifies the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("session: ping: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
