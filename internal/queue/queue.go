// Package queue publishes tool calls to a Redis list for out-of-band
// observers. Publishing is best effort: without Redis every call is a no-op.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultKey is the Redis list tool calls are pushed onto.
const DefaultKey = "tool-calls"

const (
	connectTimeout = 2 * time.Second
	dequeueTimeout = time.Second
)

// Message is the JSON payload pushed for each tool call.
type Message struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Params     map[string]any `json:"params"`
	EnqueuedAt int64          `json:"enqueued_at"`
}

type Enqueuer interface {
	Enqueue(ctx context.Context, name string, params map[string]any) error
}

// Noop discards every call.
type Noop struct{}

func (Noop) Enqueue(context.Context, string, map[string]any) error { return nil }

type listClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	Close() error
}

type RedisQueue struct {
	client listClient
	key    string
	now    func() time.Time
}

func NewRedisQueue(client listClient, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key, now: time.Now}
}

// Connect builds a client from a redis:// URL or a bare host:port.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// Open returns a Redis-backed queue when redisURL is reachable and Noop
// otherwise. The choice is made once.
func Open(ctx context.Context, redisURL string) Enqueuer {
	if redisURL == "" {
		return Noop{}
	}
	client, err := Connect(redisURL)
	if err != nil {
		log.Warn().Err(err).Msg("tool call queue disabled")
		return Noop{}
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		log.Warn().Err(err).Msg("redis unreachable, tool call queue disabled")
		return Noop{}
	}
	return NewRedisQueue(client, DefaultKey)
}

func (q *RedisQueue) Enqueue(ctx context.Context, name string, params map[string]any) error {
	if params == nil {
		params = map[string]any{}
	}
	payload, err := json.Marshal(Message{
		ID:         uuid.NewString(),
		Name:       name,
		Params:     params,
		EnqueuedAt: q.now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}

// Dequeue pops the oldest message, waiting up to a second. It returns nil
// without error when the list is empty or the payload is malformed.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Message, error) {
	res, err := q.client.BRPop(ctx, dequeueTimeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPOP replies with [key, element].
	if len(res) != 2 {
		return nil, nil
	}
	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		log.Debug().Err(err).Msg("skipping malformed tool call message")
		return nil, nil
	}
	return &msg, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
