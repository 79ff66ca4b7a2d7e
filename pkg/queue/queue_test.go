package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NewChunkWriteTask("t1", "u1", 0, "", []byte("aaa"))))
	require.NoError(t, q.Enqueue(ctx, NewChunkWriteTask("t2", "u1", 1, "", []byte("bbb"))))
	assert.Equal(t, 2, q.Len())

	msg, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "t1", msg.Task.TaskID)

	msg, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "t2", msg.Task.TaskID)
	require.NoError(t, q.Ack(ctx, msg))
}

func TestMemoryQueueDequeueTimeout(t *testing.T) {
	q := NewMemoryQueue()
	start := time.Now()
	msg, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMemoryQueueWakesBlockedConsumer(t *testing.T) {
	q := NewMemoryQueue()
	done := make(chan *Message, 1)
	go func() {
		msg, _ := q.Dequeue(context.Background(), 5*time.Second)
		done <- msg
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), NewChunkWriteTask("t1", "u1", 0, "", []byte("x"))))

	select {
	case msg := <-done:
		require.NotNil(t, msg)
		assert.Equal(t, "t1", msg.Task.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer was not woken")
	}
}

func TestRedisQueueRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueueWithClient(client, "test-tasks")
	ctx := context.Background()

	task := NewChunkWriteTask("t1", "u1", 3, "token", []byte("payload"))
	require.NoError(t, q.Enqueue(ctx, task))

	msg, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "t1", msg.Task.TaskID)
	assert.Equal(t, 3, msg.Task.ChunkIndex)
	assert.Equal(t, "token", msg.Task.MultipartToken)

	data, err := msg.Task.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	require.NoError(t, q.Ack(ctx, msg))
}

func TestRedisQueueEmpty(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueueWithClient(client, "test-tasks")

	msg, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestResultStoreRendezvous(t *testing.T) {
	rs := NewResultStore()

	go func() {
		time.Sleep(30 * time.Millisecond)
		rs.Publish("t1", ChunkResult{StorageKey: "uploads/u1/chunk_0", ETag: "etag"})
	}()

	result, err := rs.Wait(context.Background(), "t1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "uploads/u1/chunk_0", result.StorageKey)

	// consumed exactly once
	_, err = rs.Wait(context.Background(), "t1", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrResultTimeout)
}

func TestResultStoreTimeout(t *testing.T) {
	rs := NewResultStore()
	_, err := rs.Wait(context.Background(), "missing", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrResultTimeout)
}
