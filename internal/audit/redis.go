// Package audit ships the engine's audit log to downstream consumers.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/and161185/medgate/internal/model"
)

// Sink receives audit events in sequence order and remembers how far it got.
type Sink interface {
	// Publish delivers one event.
	Publish(ctx context.Context, ev model.AuditEvent) error
	// Cursor returns the Seq of the last delivered event, 0 if none.
	Cursor(ctx context.Context) (int64, error)
	// SaveCursor persists the Seq of the last delivered event.
	SaveCursor(ctx context.Context, seq int64) error
}

// RedisClient is the subset of *redis.Client used by RedisStream.
type RedisClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisStream appends events to a Redis stream and keeps the cursor at "<stream>:cursor".
type RedisStream struct {
	client RedisClient
	stream string
	maxLen int64
}

var _ Sink = (*RedisStream)(nil)

// NewRedisStream builds a stream sink. maxLen <= 0 disables trimming.
func NewRedisStream(client RedisClient, stream string, maxLen int64) *RedisStream {
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

// NewRedisClient parses url and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return c, nil
}

func (s *RedisStream) cursorKey() string { return s.stream + ":cursor" }

// Publish XADDs the event; trimming is approximate.
func (s *RedisStream) Publish(ctx context.Context, ev model.AuditEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %d: %w", ev.Seq, err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"seq":     ev.Seq,
			"id":      ev.ID.String(),
			"kind":    string(ev.Kind),
			"patient": ev.Patient.String(),
			"event":   payload,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen, args.Approx = s.maxLen, true
	}
	return s.client.XAdd(ctx, args).Err()
}

// Cursor reads the stored cursor; a missing key means nothing was published.
func (s *RedisStream) Cursor(ctx context.Context) (int64, error) {
	v, err := s.client.Get(ctx, s.cursorKey()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	seq, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad cursor %q: %w", v, err)
	}
	return seq, nil
}

// SaveCursor stores seq without expiry.
func (s *RedisStream) SaveCursor(ctx context.Context, seq int64) error {
	return s.client.Set(ctx, s.cursorKey(), strconv.FormatInt(seq, 10), 0).Err()
}
