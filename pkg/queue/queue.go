// Package queue moves ingest jobs through a Redis list and runs the worker
// loop that drains it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// dequeueTimeout is how long a blocking pop waits before giving the loop a
// chance to observe shutdown.
const dequeueTimeout = 60 * time.Second

// Queue is a JSON message queue on a Redis list. Producers LPUSH, the
// worker BRPOPs, so delivery is FIFO.
type Queue struct {
	client *redis.Client
	name   string
}

// New creates a queue on the named Redis list.
func New(client *redis.Client, name string) *Queue {
	return &Queue{client: client, name: name}
}

// NewClient connects to Redis from a URI like redis://host:6379/0.
func NewClient(uri string) (*redis.Client, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parsing redis uri: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Name returns the Redis list backing the queue.
func (q *Queue) Name() string { return q.name }

// Enqueue pushes a payload onto the queue as JSON.
func (q *Queue) Enqueue(ctx context.Context, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding queue payload: %w", err)
	}
	if err := q.client.LPush(ctx, q.name, raw).Err(); err != nil {
		return fmt.Errorf("enqueueing to %s: %w", q.name, err)
	}
	slog.Info("Enqueued message", "queue", q.name)
	return nil
}

// Dequeue pops the next payload, blocking up to the dequeue timeout.
// Returns nil bytes without error when the queue stayed empty.
func (q *Queue) Dequeue(ctx context.Context) ([]byte, error) {
	result, err := q.client.BRPop(ctx, dequeueTimeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeuing from %s: %w", q.name, err)
	}
	// BRPop returns [key, value].
	if len(result) < 2 {
		return nil, fmt.Errorf("dequeuing from %s: malformed reply", q.name)
	}
	return []byte(result[1]), nil
}

// Ping verifies the Redis connection.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
