// Package maintenance reaps stale uploads, expired idempotency rows and
// orphan storage keys on a fixed interval.
package maintenance

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dfs-io/dfsd/pkg/storage"
	"github.com/dfs-io/dfsd/pkg/store"
)

// Stats summarizes one sweep.
type Stats struct {
	StaleUploadsDeleted    int `json:"stale_uploads_deleted"`
	IdempotencyRowsDeleted int `json:"idempotency_rows_deleted"`
	StorageKeysDeleted     int `json:"storage_keys_deleted"`
}

// Sweeper deletes state nothing will come back for: in-flight uploads past
// the stale TTL, idempotency rows past their TTL, and storage keys no chunk
// row references. Storage deletions are best effort; metadata cleanup never
// blocks on them.
type Sweeper struct {
	store          *store.Store
	storage        storage.ChunkStorage
	staleUploadTTL time.Duration
	idempotencyTTL time.Duration
	interval       time.Duration
	logger         zerolog.Logger
}

// NewSweeper wires a sweeper to its stores.
func NewSweeper(st *store.Store, objects storage.ChunkStorage, staleUploadTTL, idempotencyTTL, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:          st,
		storage:        objects,
		staleUploadTTL: staleUploadTTL,
		idempotencyTTL: idempotencyTTL,
		interval:       interval,
		logger:         logger.With().Str("component", "maintenance").Logger(),
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("sweep failed")
				continue
			}
			s.logger.Info().
				Int("stale_uploads_deleted", stats.StaleUploadsDeleted).
				Int("idempotency_rows_deleted", stats.IdempotencyRowsDeleted).
				Int("storage_keys_deleted", stats.StorageKeysDeleted).
				Msg("sweep completed")
		}
	}
}

// RunOnce performs a single sweep and returns its stats.
func (s *Sweeper) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	now := time.Now().UTC()

	stale, err := s.store.ListStaleUploads(ctx, now.Add(-s.staleUploadTTL))
	if err != nil {
		return stats, err
	}
	for _, upload := range stale {
		s.deleteUploadObjects(ctx, upload, &stats)
		if err := s.store.DeleteUpload(ctx, upload.ID); err != nil {
			s.logger.Error().Err(err).Str("upload_id", upload.ID).Msg("delete stale upload failed")
			continue
		}
		stats.StaleUploadsDeleted++
	}

	deleted, err := s.store.DeleteIdempotencyOlderThan(ctx, now.Add(-s.idempotencyTTL))
	if err != nil {
		return stats, err
	}
	stats.IdempotencyRowsDeleted = deleted

	s.sweepOrphans(ctx, &stats)
	return stats, nil
}

func (s *Sweeper) deleteUploadObjects(ctx context.Context, upload store.Upload, stats *Stats) {
	chunks, err := s.store.ListChunks(ctx, upload.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("upload_id", upload.ID).Msg("list chunks failed")
		return
	}
	for _, chunk := range chunks {
		if err := s.storage.DeleteKey(ctx, chunk.StorageKey); err != nil {
			s.logger.Warn().Err(err).Str("key", chunk.StorageKey).Msg("delete chunk object failed")
			continue
		}
		stats.StorageKeysDeleted++
	}
	if upload.MultipartUploadID != "" {
		if err := s.storage.DeleteKey(ctx, storage.AssembledKey(upload.ID)); err != nil {
			s.logger.Warn().Err(err).Str("upload_id", upload.ID).Msg("delete assembled object failed")
		}
	}
}

// sweepOrphans removes stored keys no chunk row references. Listing errors
// are ignored so backends without cheap listing degrade gracefully.
func (s *Sweeper) sweepOrphans(ctx context.Context, stats *Stats) {
	keys, err := s.storage.ListKeys(ctx, "uploads/")
	if err != nil {
		s.logger.Warn().Err(err).Msg("list storage keys failed")
		return
	}
	if len(keys) == 0 {
		return
	}

	referenced := make(map[string]bool)
	chunkKeys, err := s.store.ListChunkStorageKeys(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list referenced keys failed")
		return
	}
	for _, key := range chunkKeys {
		referenced[key] = true
	}
	uploadIDs, err := s.store.ListUploadIDs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list upload ids failed")
		return
	}
	for _, id := range uploadIDs {
		referenced[storage.AssembledKey(id)] = true
	}

	for _, key := range keys {
		if referenced[key] || !strings.HasPrefix(key, "uploads/") {
			continue
		}
		if err := s.storage.DeleteKey(ctx, key); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("delete orphan key failed")
			continue
		}
		stats.StorageKeysDeleted++
	}
}
