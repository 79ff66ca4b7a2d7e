// Package queue carries chunk-write tasks between HTTP handlers and
// consumers over a pluggable durable queue (memory, Redis list, SQS), and
// hands results back through an in-process rendezvous store.
package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"
)

// ChunkWriteTask is one chunk persistence job. Payload bytes travel
// base64-encoded so the wire form is plain JSON on every backend.
type ChunkWriteTask struct {
	TaskID         string `json:"task_id"`
	UploadID       string `json:"upload_id"`
	ChunkIndex     int    `json:"chunk_index"`
	MultipartToken string `json:"multipart_token,omitempty"`
	DataB64        string `json:"data_b64"`
}

// NewChunkWriteTask wraps raw chunk bytes into a task.
func NewChunkWriteTask(taskID, uploadID string, index int, multipartToken string, data []byte) ChunkWriteTask {
	return ChunkWriteTask{
		TaskID:         taskID,
		UploadID:       uploadID,
		ChunkIndex:     index,
		MultipartToken: multipartToken,
		DataB64:        base64.StdEncoding.EncodeToString(data),
	}
}

// Data decodes the chunk payload.
func (t ChunkWriteTask) Data() ([]byte, error) {
	return base64.StdEncoding.DecodeString(t.DataB64)
}

// Encode renders the task to its wire form.
func (t ChunkWriteTask) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// DecodeTask parses the wire form of a task.
func DecodeTask(data []byte) (ChunkWriteTask, error) {
	var t ChunkWriteTask
	err := json.Unmarshal(data, &t)
	return t, err
}

// Message is one delivery from a queue backend. Receipt is the backend's
// acknowledgement handle; empty when the backend acks implicitly.
type Message struct {
	Task    ChunkWriteTask
	Receipt string
}

// DurableQueue is a FIFO task queue with at-least-once delivery.
type DurableQueue interface {
	// Enqueue publishes a task.
	Enqueue(ctx context.Context, task ChunkWriteTask) error

	// Dequeue blocks up to timeout for the next task. It returns
	// (nil, nil) when the wait elapses with nothing to deliver.
	Dequeue(ctx context.Context, timeout time.Duration) (*Message, error)

	// Ack marks a delivery as processed.
	Ack(ctx context.Context, msg *Message) error
}
