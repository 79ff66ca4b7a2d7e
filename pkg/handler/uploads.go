package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dfs-io/dfsd/pkg/queue"
	"github.com/dfs-io/dfsd/pkg/storage"
	"github.com/dfs-io/dfsd/pkg/store"
	"github.com/dfs-io/dfsd/pkg/worker"
)

type initRequest struct {
	FileName           string `json:"file_name"`
	FileSize           int64  `json:"file_size"`
	ChunkSize          int64  `json:"chunk_size,omitempty"`
	FileChecksumSHA256 string `json:"file_checksum_sha256,omitempty"`
}

type uploadSummary struct {
	UploadID    string `json:"upload_id"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
	Status      string `json:"status"`
}

func (h *Handler) initUpload(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, ErrBadRequest.WithDetail("malformed JSON body"), "")
		return
	}
	if req.FileName == "" {
		h.writeError(w, r, ErrBadRequest.WithDetail("file_name must not be empty"), "")
		return
	}
	if req.FileSize <= 0 {
		h.writeError(w, r, ErrBadRequest.WithDetail("file_size must be positive"), "")
		return
	}
	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = h.cfg.ChunkSizeBytes
	}
	if chunkSize <= 0 {
		h.writeError(w, r, ErrBadRequest.WithDetail("chunk_size must be positive"), "")
		return
	}
	checksum := strings.ToLower(req.FileChecksumSHA256)
	if checksum != "" && !isHexDigest(checksum) {
		h.writeError(w, r, ErrBadRequest.WithDetail("file_checksum_sha256 must be a 64-character hex digest"), "")
		return
	}

	totalChunks := int((req.FileSize + chunkSize - 1) / chunkSize)
	fp := initFingerprint(req.FileName, req.FileSize, chunkSize, checksum)
	idemKey := r.Header.Get("Idempotency-Key")

	var summary uploadSummary
	start := time.Now()
	err := h.store.WithTx(r.Context(), func(tx *store.Store) error {
		if idemKey != "" {
			rec, err := tx.GetInitIdempotency(r.Context(), idemKey)
			switch {
			case err == nil:
				if rec.RequestFingerprint != fp {
					return ErrConflict.WithDetail("idempotency key was used with a different request")
				}
				existing, err := tx.GetUpload(r.Context(), rec.UploadID)
				if err != nil {
					return err
				}
				if existing.OwnerID != principal.UserID {
					return ErrForbidden
				}
				summary = summarize(existing)
				return nil
			case !store.IsNotFound(err):
				return err
			}
		}

		upload := &store.Upload{
			ID:                 uuid.NewString(),
			OwnerID:            principal.UserID,
			FileName:           req.FileName,
			FileSize:           req.FileSize,
			ChunkSize:          chunkSize,
			TotalChunks:        totalChunks,
			FileChecksumSHA256: checksum,
			Status:             store.UploadInitiated,
		}
		if storage.MultipartEligible(h.cfg.StorageBackend, totalChunks, chunkSize) {
			token, err := h.objects.InitializeUpload(r.Context(), upload.ID)
			if err != nil {
				return fmt.Errorf("initialize multipart upload: %w", err)
			}
			upload.MultipartUploadID = token
		}
		if err := tx.CreateUpload(r.Context(), upload); err != nil {
			return err
		}
		if idemKey != "" {
			if err := tx.CreateInitIdempotency(r.Context(), &store.InitIdempotency{
				IdempotencyKey:     idemKey,
				RequestFingerprint: fp,
				UploadID:           upload.ID,
			}); err != nil {
				return err
			}
		}
		summary = summarize(upload)
		return nil
	})
	h.observeDB(start)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}

	h.audit.Info().
		Str("event", "upload_init").
		Str("upload_id", summary.UploadID).
		Str("owner_id", principal.UserID).
		Str("file_name", req.FileName).
		Int64("file_size", req.FileSize).
		Msg("audit")
	h.writeJSON(w, http.StatusCreated, summary)
}

func summarize(u *store.Upload) uploadSummary {
	return uploadSummary{
		UploadID:    u.ID,
		ChunkSize:   u.ChunkSize,
		TotalChunks: u.TotalChunks,
		Status:      u.Status,
	}
}

type chunkResponse struct {
	UploadID   string `json:"upload_id"`
	ChunkIndex int    `json:"chunk_index"`
	Status     string `json:"status"`
}

func (h *Handler) uploadChunk(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	uploadID := chi.URLParam(r, "id")

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.writeError(w, r, ErrBadRequest.WithDetail("chunk index must be an integer"), uploadID)
		return
	}

	upload, err := h.loadOwnedUpload(r.Context(), uploadID, principal.UserID)
	if err != nil {
		h.writeError(w, r, err, uploadID)
		return
	}
	if upload.Status != store.UploadInitiated && upload.Status != store.UploadInProgress {
		h.writeError(w, r, ErrConflict.WithDetail("upload is not accepting chunks in status "+upload.Status), uploadID)
		return
	}
	if index < 0 || index >= upload.TotalChunks {
		h.writeError(w, r, ErrBadRequest.WithDetail(
			fmt.Sprintf("chunk index %d out of range [0, %d)", index, upload.TotalChunks)), uploadID)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, r, ErrBadRequest.WithDetail("failed to read request body"), uploadID)
		return
	}
	if len(data) == 0 {
		h.writeError(w, r, ErrBadRequest.WithDetail("chunk body must not be empty"), uploadID)
		return
	}
	if r.ContentLength >= 0 && r.ContentLength != int64(len(data)) {
		h.writeError(w, r, ErrBadRequest.WithDetail("Content-Length does not match body size"), uploadID)
		return
	}

	checksum := chunkFingerprint(data)
	if declared := strings.ToLower(r.Header.Get("X-Chunk-SHA256")); declared != "" && declared != checksum {
		h.writeError(w, r, ErrBadRequest.WithDetail("chunk checksum mismatch"), uploadID)
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" {
		rec, err := h.store.GetChunkIdempotency(r.Context(), uploadID, index, idemKey)
		switch {
		case err == nil:
			if rec.RequestFingerprint != checksum {
				h.writeError(w, r, ErrConflict.WithDetail("idempotency key was used with a different chunk body"), uploadID)
				return
			}
			chunk, err := h.store.GetChunk(r.Context(), uploadID, index)
			if err == nil && chunk.Status == store.ChunkUploaded {
				h.writeJSON(w, http.StatusAccepted, chunkResponse{
					UploadID:   uploadID,
					ChunkIndex: index,
					Status:     store.ChunkUploaded,
				})
				return
			}
		case !store.IsNotFound(err):
			h.writeError(w, r, err, uploadID)
			return
		}
	}

	result, retries, release, err := h.persistChunk(r.Context(), upload, index, data)
	if err != nil {
		h.writeError(w, r, err, uploadID)
		return
	}
	// The per-upload slot stays held until the chunk row is committed.
	defer release()

	start := time.Now()
	err = h.store.WithTx(r.Context(), func(tx *store.Store) error {
		now := time.Now().UTC()
		if err := tx.UpsertChunk(r.Context(), &store.Chunk{
			UploadID:            uploadID,
			ChunkIndex:          index,
			SizeBytes:           int64(len(data)),
			ChunkChecksumSHA256: checksum,
			StorageKey:          result.Key,
			StorageETag:         result.ETag,
			Status:              store.ChunkUploaded,
			RetryCount:          retries,
			CreatedAt:           now,
			UpdatedAt:           now,
		}); err != nil {
			return err
		}
		if upload.Status == store.UploadInitiated {
			if err := tx.UpdateUploadStatus(r.Context(), uploadID, store.UploadInProgress); err != nil {
				return err
			}
		}
		if idemKey != "" {
			return tx.CreateChunkIdempotency(r.Context(), &store.ChunkIdempotency{
				UploadID:           uploadID,
				ChunkIndex:         index,
				IdempotencyKey:     idemKey,
				RequestFingerprint: checksum,
			})
		}
		return nil
	})
	h.observeDB(start)
	if err != nil {
		h.writeError(w, r, err, uploadID)
		return
	}

	h.metrics.ChunksUploaded.Inc()
	h.metrics.BytesUploaded.Add(float64(len(data)))
	h.writeJSON(w, http.StatusAccepted, chunkResponse{
		UploadID:   uploadID,
		ChunkIndex: index,
		Status:     store.ChunkUploaded,
	})
}

// persistChunk routes the chunk write through the worker pool or the
// durable queue, retrying up to max_retries. It returns the storage result,
// the number of retries spent, and a release func the caller must invoke
// once the chunk row is committed; the per-upload slot stays occupied until
// then.
func (h *Handler) persistChunk(ctx context.Context, upload *store.Upload, index int, data []byte) (storage.WriteResult, int, func(), error) {
	if h.queue != nil {
		return h.persistViaQueue(ctx, upload, index, data)
	}
	return h.persistViaPool(ctx, upload, index, data)
}

func (h *Handler) persistViaPool(ctx context.Context, upload *store.Upload, index int, data []byte) (storage.WriteResult, int, func(), error) {
	reservation, err := h.pool.Reserve()
	if err != nil {
		return storage.WriteResult{}, 0, nil, asThrottle(err)
	}
	if err := h.limiter.Acquire(upload.ID); err != nil {
		reservation.Cancel()
		return storage.WriteResult{}, 0, nil, asThrottle(err)
	}
	release := func() { h.limiter.Release(upload.ID) }

	task := h.writeTask(upload, index, data)
	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			h.metrics.Retries.Inc()
			reservation, err = h.pool.Reserve()
			if err != nil {
				release()
				return storage.WriteResult{}, attempt, nil, asThrottle(err)
			}
		}
		result, err := reservation.Submit(task).Wait(ctx)
		if err == nil {
			return result, attempt, release, nil
		}
		if ctx.Err() != nil {
			release()
			return storage.WriteResult{}, attempt, nil, err
		}
		lastErr = err
		if attempt >= h.cfg.MaxRetries {
			break
		}
	}
	release()
	h.metrics.ChunkUploadFailures.Inc()
	h.logger.Error().
		Err(lastErr).
		Str("upload_id", upload.ID).
		Int("chunk_index", index).
		Msg("chunk persistence exhausted retries")
	return storage.WriteResult{}, h.cfg.MaxRetries, nil, ErrInternal.WithDetail("failed to persist chunk")
}

func (h *Handler) persistViaQueue(ctx context.Context, upload *store.Upload, index int, data []byte) (storage.WriteResult, int, func(), error) {
	if err := h.limiter.Acquire(upload.ID); err != nil {
		return storage.WriteResult{}, 0, nil, asThrottle(err)
	}
	release := func() { h.limiter.Release(upload.ID) }

	taskTimeout := time.Duration(h.cfg.QueueTaskTimeoutSeconds) * time.Second
	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			h.metrics.Retries.Inc()
		}
		taskID := uuid.NewString()
		task := queue.NewChunkWriteTask(taskID, upload.ID, index, upload.MultipartUploadID, data)
		if err := h.queue.Enqueue(ctx, task); err != nil {
			lastErr = err
		} else {
			result, err := h.results.Wait(ctx, taskID, taskTimeout)
			switch {
			case errors.Is(err, queue.ErrResultTimeout):
				h.results.Forget(taskID)
				release()
				return storage.WriteResult{}, attempt, nil, ErrGatewayTimeout
			case err != nil:
				release()
				return storage.WriteResult{}, attempt, nil, err
			case result.Err != "":
				lastErr = errors.New(result.Err)
			default:
				return storage.WriteResult{Key: result.StorageKey, ETag: result.ETag}, attempt, release, nil
			}
		}
		if attempt >= h.cfg.MaxRetries {
			break
		}
	}
	release()
	h.metrics.ChunkUploadFailures.Inc()
	h.logger.Error().
		Err(lastErr).
		Str("upload_id", upload.ID).
		Int("chunk_index", index).
		Msg("queued chunk persistence exhausted retries")
	return storage.WriteResult{}, h.cfg.MaxRetries, nil, ErrInternal.WithDetail("failed to persist chunk")
}

func (h *Handler) writeTask(upload *store.Upload, index int, data []byte) worker.Task {
	return func(ctx context.Context) (storage.WriteResult, error) {
		start := time.Now()
		result, err := h.objects.WriteChunk(ctx, upload.ID, index, data, upload.MultipartUploadID)
		h.metrics.StoragePutLatency.Observe(time.Since(start).Seconds())
		return result, err
	}
}

func asThrottle(err error) error {
	var throttle *worker.ThrottleError
	if errors.As(err, &throttle) {
		return throttleError(throttle.Reason)
	}
	return err
}

func (h *Handler) missingChunks(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	uploadID := chi.URLParam(r, "id")

	upload, err := h.loadOwnedUpload(r.Context(), uploadID, principal.UserID)
	if err != nil {
		h.writeError(w, r, err, uploadID)
		return
	}

	indexes, err := h.store.UploadedChunkIndexes(r.Context(), uploadID)
	if err != nil {
		h.writeError(w, r, err, uploadID)
		return
	}
	uploaded := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		uploaded[i] = true
	}
	missing := make([]int, 0)
	for i := 0; i < upload.TotalChunks; i++ {
		if !uploaded[i] {
			missing = append(missing, i)
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"upload_id":             uploadID,
		"status":                upload.Status,
		"total_chunks":          upload.TotalChunks,
		"missing_chunk_indexes": missing,
	})
}

type completeResponse struct {
	UploadID    string `json:"upload_id"`
	Status      string `json:"status"`
	TotalChunks int    `json:"total_chunks"`
}

func (h *Handler) completeUpload(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	uploadID := chi.URLParam(r, "id")
	idemKey := r.Header.Get("Idempotency-Key")
	fp := completeFingerprint(uploadID)

	upload, err := h.loadOwnedUpload(r.Context(), uploadID, principal.UserID)
	if err != nil {
		h.writeError(w, r, err, uploadID)
		return
	}

	switch upload.Status {
	case store.UploadInitiated:
		h.writeError(w, r, ErrConflict.WithDetail("missing chunks: no chunks uploaded yet"), uploadID)
		return
	case store.UploadCompleted:
		// Idempotent replay of an already published upload.
		if err := h.bindCompleteIdempotency(r.Context(), uploadID, idemKey, fp); err != nil {
			h.writeError(w, r, err, uploadID)
			return
		}
		h.auditComplete(uploadID, principal.UserID, true)
		h.writeJSON(w, http.StatusOK, completeResponse{
			UploadID:    uploadID,
			Status:      store.UploadCompleted,
			TotalChunks: upload.TotalChunks,
		})
		return
	case store.UploadInProgress:
		// proceed
	default:
		h.writeError(w, r, ErrConflict.WithDetail("upload cannot be completed in status "+upload.Status), uploadID)
		return
	}

	if idemKey != "" {
		rec, err := h.store.GetCompleteIdempotency(r.Context(), idemKey)
		switch {
		case err == nil:
			if rec.RequestFingerprint != fp || rec.UploadID != uploadID {
				h.writeError(w, r, ErrConflict.WithDetail("idempotency key was used with a different request"), uploadID)
				return
			}
			h.auditComplete(uploadID, principal.UserID, true)
			h.writeJSON(w, http.StatusOK, completeResponse{
				UploadID:    uploadID,
				Status:      upload.Status,
				TotalChunks: upload.TotalChunks,
			})
			return
		case !store.IsNotFound(err):
			h.writeError(w, r, err, uploadID)
			return
		}
	}

	uploaded, err := h.store.CountUploadedChunks(r.Context(), uploadID)
	if err != nil {
		h.writeError(w, r, err, uploadID)
		return
	}
	if uploaded != upload.TotalChunks {
		h.writeError(w, r, ErrConflict.WithDetail(
			fmt.Sprintf("missing chunks: %d of %d uploaded", uploaded, upload.TotalChunks)), uploadID)
		return
	}

	chunks, err := h.store.ListChunks(r.Context(), uploadID)
	if err != nil {
		h.writeError(w, r, err, uploadID)
		return
	}

	if upload.FileChecksumSHA256 != "" {
		if err := h.verifyFileChecksum(r.Context(), upload, chunks); err != nil {
			h.writeError(w, r, err, uploadID)
			return
		}
	}

	if upload.MultipartUploadID != "" {
		parts := make([]storage.Part, 0, len(chunks))
		for _, chunk := range chunks {
			if chunk.StorageETag == "" {
				h.writeError(w, r, ErrConflict.WithDetail(
					fmt.Sprintf("chunk %d has no storage etag; cannot assemble", chunk.ChunkIndex)), uploadID)
				return
			}
			parts = append(parts, storage.Part{
				PartNumber: int32(chunk.ChunkIndex + 1),
				ETag:       chunk.StorageETag,
			})
		}
		if err := h.objects.CompleteUpload(r.Context(), uploadID, upload.MultipartUploadID, parts); err != nil {
			h.logger.Error().Err(err).Str("upload_id", uploadID).Msg("multipart completion failed")
			h.writeError(w, r, ErrInternal.WithDetail("failed to assemble upload"), uploadID)
			return
		}
	}

	start := time.Now()
	err = h.store.WithTx(r.Context(), func(tx *store.Store) error {
		// Re-verified under the transaction that flips the status: the
		// sweeper can remove a stale upload after the early checks.
		current, err := tx.GetUpload(r.Context(), uploadID)
		if err != nil {
			if store.IsNotFound(err) {
				return ErrUploadNotFound
			}
			return err
		}
		if current.Status != store.UploadInProgress {
			return ErrConflict.WithDetail("upload cannot be completed in status " + current.Status)
		}
		uploaded, err := tx.CountUploadedChunks(r.Context(), uploadID)
		if err != nil {
			return err
		}
		if uploaded != current.TotalChunks {
			return ErrConflict.WithDetail(
				fmt.Sprintf("missing chunks: %d of %d uploaded", uploaded, current.TotalChunks))
		}
		if err := tx.UpdateUploadStatus(r.Context(), uploadID, store.UploadCompleted); err != nil {
			return err
		}
		if idemKey != "" {
			return tx.CreateCompleteIdempotency(r.Context(), &store.CompleteIdempotency{
				IdempotencyKey:     idemKey,
				RequestFingerprint: fp,
				UploadID:           uploadID,
			})
		}
		return nil
	})
	h.observeDB(start)
	if err != nil {
		h.writeError(w, r, err, uploadID)
		return
	}

	h.auditComplete(uploadID, principal.UserID, false)
	h.writeJSON(w, http.StatusOK, completeResponse{
		UploadID:    uploadID,
		Status:      store.UploadCompleted,
		TotalChunks: upload.TotalChunks,
	})
}

func (h *Handler) bindCompleteIdempotency(ctx context.Context, uploadID, idemKey, fp string) error {
	if idemKey == "" {
		return nil
	}
	rec, err := h.store.GetCompleteIdempotency(ctx, idemKey)
	switch {
	case err == nil:
		if rec.RequestFingerprint != fp || rec.UploadID != uploadID {
			return ErrConflict.WithDetail("idempotency key was used with a different request")
		}
		return nil
	case store.IsNotFound(err):
		return h.store.CreateCompleteIdempotency(ctx, &store.CompleteIdempotency{
			IdempotencyKey:     idemKey,
			RequestFingerprint: fp,
			UploadID:           uploadID,
		})
	default:
		return err
	}
}

// verifyFileChecksum streams every chunk in index order through SHA-256 and
// compares the digest to the one declared at init.
func (h *Handler) verifyFileChecksum(ctx context.Context, upload *store.Upload, chunks []store.Chunk) error {
	hash := sha256.New()
	for _, chunk := range chunks {
		reader, err := h.objects.ReadChunk(ctx, chunk.StorageKey)
		if err != nil {
			return fmt.Errorf("read chunk %d: %w", chunk.ChunkIndex, err)
		}
		_, err = io.Copy(hash, reader)
		reader.Close()
		if err != nil {
			return fmt.Errorf("hash chunk %d: %w", chunk.ChunkIndex, err)
		}
	}
	if digest := hex.EncodeToString(hash.Sum(nil)); digest != upload.FileChecksumSHA256 {
		return ErrConflict.WithDetail("file checksum mismatch: assembled file does not match declared digest")
	}
	return nil
}

func (h *Handler) auditComplete(uploadID, ownerID string, replay bool) {
	h.audit.Info().
		Str("event", "upload_complete").
		Str("upload_id", uploadID).
		Str("owner_id", ownerID).
		Bool("idempotent_replay", replay).
		Msg("audit")
}

func (h *Handler) loadOwnedUpload(ctx context.Context, uploadID, userID string) (*store.Upload, error) {
	upload, err := h.store.GetUpload(ctx, uploadID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, ErrUploadNotFound
		}
		return nil, err
	}
	if upload.OwnerID != userID {
		return nil, ErrForbidden
	}
	return upload, nil
}

func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
