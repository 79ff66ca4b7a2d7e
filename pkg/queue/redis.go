package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Redis list used as a FIFO: RPUSH to publish, BLPOP to
// consume. A popped task is gone from the list, so ack is a no-op; the
// metadata-level idempotency of chunk processing covers redeliveries after
// a crashed consumer.
type RedisQueue struct {
	client    redis.UniversalClient
	queueName string
}

// NewRedisQueue connects to redisURL and uses queueName as the list key.
func NewRedisQueue(redisURL, queueName string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisQueue{client: redis.NewClient(opts), queueName: queueName}, nil
}

// NewRedisQueueWithClient wraps an existing client, for tests.
func NewRedisQueueWithClient(client redis.UniversalClient, queueName string) *RedisQueue {
	return &RedisQueue{client: client, queueName: queueName}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task ChunkWriteTask) error {
	payload, err := task.Encode()
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.queueName, payload).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", q.queueName, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Message, error) {
	res, err := q.client.BLPop(ctx, timeout, q.queueName).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blpop %s: %w", q.queueName, err)
	}
	// BLPOP returns [key, value].
	task, err := DecodeTask([]byte(res[1]))
	if err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &Message{Task: task}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, msg *Message) error {
	return nil
}

// Close releases the underlying connection pool.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
