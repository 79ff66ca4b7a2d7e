package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrResultTimeout is returned when no consumer published a result before
// the rendezvous deadline.
var ErrResultTimeout = errors.New("timed out waiting for chunk result")

// ChunkResult is the outcome of one chunk-write task.
type ChunkResult struct {
	StorageKey string
	ETag       string
	Err        string
}

// ResultStore is the rendezvous point between HTTP handlers and queue
// consumers: consumers publish per-task outcomes, handlers poll for them.
// Each result is consumed exactly once.
type ResultStore struct {
	mu      sync.Mutex
	results map[string]ChunkResult
}

const pollInterval = 20 * time.Millisecond

// NewResultStore creates an empty rendezvous store.
func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]ChunkResult)}
}

// Publish records the outcome of a task.
func (s *ResultStore) Publish(taskID string, result ChunkResult) {
	s.mu.Lock()
	s.results[taskID] = result
	s.mu.Unlock()
}

// Wait polls for the outcome of a task until timeout. On success the entry
// is removed from the store.
func (s *ResultStore) Wait(ctx context.Context, taskID string, timeout time.Duration) (ChunkResult, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		if result, ok := s.results[taskID]; ok {
			delete(s.results, taskID)
			s.mu.Unlock()
			return result, nil
		}
		s.mu.Unlock()

		if time.Now().After(deadline) {
			return ChunkResult{}, ErrResultTimeout
		}
		select {
		case <-ctx.Done():
			return ChunkResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Forget drops a pending result, if any. Called when a waiter gives up so
// late results do not accumulate.
func (s *ResultStore) Forget(taskID string) {
	s.mu.Lock()
	delete(s.results, taskID)
	s.mu.Unlock()
}
