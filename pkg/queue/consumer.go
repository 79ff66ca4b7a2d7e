package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/dfs-io/dfsd/pkg/storage"
)

// Consumer drains the durable queue: it performs the chunk write for each
// task and publishes the outcome to the result store. Failed writes still
// publish (an error result) and ack; the HTTP layer owns retries.
type Consumer struct {
	queue       DurableQueue
	results     *ResultStore
	storage     storage.ChunkStorage
	pollTimeout time.Duration
	logger      zerolog.Logger
}

// NewConsumer wires a consumer to its queue, result store and storage.
func NewConsumer(q DurableQueue, results *ResultStore, store storage.ChunkStorage, pollTimeout time.Duration, logger zerolog.Logger) *Consumer {
	return &Consumer{
		queue:       q,
		results:     results,
		storage:     store,
		pollTimeout: pollTimeout,
		logger:      logger.With().Str("component", "queue-consumer").Logger(),
	}
}

// Run consumes tasks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := c.queue.Dequeue(ctx, c.pollTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.logger.Error().Err(err).Msg("dequeue failed")
			continue
		}
		if msg == nil {
			continue
		}
		c.process(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, msg *Message) {
	task := msg.Task
	result := ChunkResult{}

	data, err := task.Data()
	if err != nil {
		result.Err = "malformed task payload: " + err.Error()
	} else {
		written, err := c.storage.WriteChunk(ctx, task.UploadID, task.ChunkIndex, data, task.MultipartToken)
		if err != nil {
			c.logger.Error().
				Err(err).
				Str("upload_id", task.UploadID).
				Int("chunk_index", task.ChunkIndex).
				Msg("chunk write failed")
			result.Err = err.Error()
		} else {
			result.StorageKey = written.Key
			result.ETag = written.ETag
		}
	}

	c.results.Publish(task.TaskID, result)
	if err := c.queue.Ack(ctx, msg); err != nil {
		c.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("ack failed")
	}
}
