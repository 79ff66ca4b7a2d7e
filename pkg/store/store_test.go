package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedUpload(t *testing.T, st *Store, id string, totalChunks int) {
	t.Helper()
	require.NoError(t, st.CreateUpload(context.Background(), &Upload{
		ID:          id,
		OwnerID:     "user-a",
		FileName:    "f.bin",
		FileSize:    int64(totalChunks) * 4,
		ChunkSize:   4,
		TotalChunks: totalChunks,
		Status:      UploadInitiated,
	}))
}

func TestUploadCRUD(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	seedUpload(t, st, "u1", 3)

	upload, err := st.GetUpload(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, UploadInitiated, upload.Status)

	require.NoError(t, st.UpdateUploadStatus(ctx, "u1", UploadInProgress))
	upload, err = st.GetUpload(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, UploadInProgress, upload.Status)

	_, err = st.GetUpload(ctx, "nope")
	assert.True(t, IsNotFound(err))
}

func TestUpsertChunkIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	seedUpload(t, st, "u1", 3)

	chunk := &Chunk{
		UploadID:            "u1",
		ChunkIndex:          0,
		SizeBytes:           4,
		ChunkChecksumSHA256: "aaa",
		StorageKey:          "uploads/u1/chunk_0",
		Status:              ChunkUploaded,
	}
	require.NoError(t, st.UpsertChunk(ctx, chunk))

	updated := *chunk
	updated.ID = 0
	updated.ChunkChecksumSHA256 = "bbb"
	updated.RetryCount = 2
	require.NoError(t, st.UpsertChunk(ctx, &updated))

	chunks, err := st.ListChunks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "bbb", chunks[0].ChunkChecksumSHA256)
	assert.Equal(t, 2, chunks[0].RetryCount)
}

func TestCountAndIndexes(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	seedUpload(t, st, "u1", 4)

	for _, i := range []int{3, 0} {
		require.NoError(t, st.UpsertChunk(ctx, &Chunk{
			UploadID:            "u1",
			ChunkIndex:          i,
			SizeBytes:           4,
			ChunkChecksumSHA256: "x",
			StorageKey:          "k",
			Status:              ChunkUploaded,
		}))
	}
	require.NoError(t, st.UpsertChunk(ctx, &Chunk{
		UploadID:            "u1",
		ChunkIndex:          1,
		SizeBytes:           4,
		ChunkChecksumSHA256: "x",
		StorageKey:          "k",
		Status:              ChunkFailed,
	}))

	n, err := st.CountUploadedChunks(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	indexes, err := st.UploadedChunkIndexes(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3}, indexes)
}

func TestInitIdempotencyUniqueness(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateInitIdempotency(ctx, &InitIdempotency{
		IdempotencyKey:     "k1",
		RequestFingerprint: "fp1",
		UploadID:           "u1",
	}))
	err := st.CreateInitIdempotency(ctx, &InitIdempotency{
		IdempotencyKey:     "k1",
		RequestFingerprint: "fp2",
		UploadID:           "u2",
	})
	assert.True(t, IsDuplicate(err))
}

func TestChunkIdempotencyScope(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rec := &ChunkIdempotency{
		UploadID:           "u1",
		ChunkIndex:         0,
		IdempotencyKey:     "c1",
		RequestFingerprint: "fp",
	}
	require.NoError(t, st.CreateChunkIdempotency(ctx, rec))
	// same scope again is a silent no-op
	require.NoError(t, st.CreateChunkIdempotency(ctx, &ChunkIdempotency{
		UploadID:           "u1",
		ChunkIndex:         0,
		IdempotencyKey:     "c1",
		RequestFingerprint: "fp",
	}))

	// same key on a different chunk is a distinct row
	require.NoError(t, st.CreateChunkIdempotency(ctx, &ChunkIdempotency{
		UploadID:           "u1",
		ChunkIndex:         1,
		IdempotencyKey:     "c1",
		RequestFingerprint: "fp",
	}))

	found, err := st.GetChunkIdempotency(ctx, "u1", 0, "c1")
	require.NoError(t, err)
	assert.Equal(t, "fp", found.RequestFingerprint)

	_, err = st.GetChunkIdempotency(ctx, "u1", 2, "c1")
	assert.True(t, IsNotFound(err))
}

func TestDeleteUploadCascades(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	seedUpload(t, st, "u1", 2)

	require.NoError(t, st.UpsertChunk(ctx, &Chunk{
		UploadID:            "u1",
		ChunkIndex:          0,
		SizeBytes:           4,
		ChunkChecksumSHA256: "x",
		StorageKey:          "k",
		Status:              ChunkUploaded,
	}))
	require.NoError(t, st.CreateChunkIdempotency(ctx, &ChunkIdempotency{
		UploadID:           "u1",
		ChunkIndex:         0,
		IdempotencyKey:     "c1",
		RequestFingerprint: "fp",
	}))

	require.NoError(t, st.DeleteUpload(ctx, "u1"))

	chunks, err := st.ListChunks(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, chunks)
	_, err = st.GetChunkIdempotency(ctx, "u1", 0, "c1")
	assert.True(t, IsNotFound(err))
}

func TestWithTxRollsBackOnError(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx *Store) error {
		if err := tx.CreateUpload(ctx, &Upload{
			ID: "u1", OwnerID: "user-a", FileName: "f", FileSize: 4,
			ChunkSize: 4, TotalChunks: 1, Status: UploadInitiated,
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	_, err = st.GetUpload(ctx, "u1")
	assert.True(t, IsNotFound(err))
}

func TestDeleteIdempotencyOlderThan(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-2 * time.Hour)

	require.NoError(t, st.CreateInitIdempotency(ctx, &InitIdempotency{
		IdempotencyKey: "old-init", RequestFingerprint: "fp", UploadID: "u1", CreatedAt: old,
	}))
	require.NoError(t, st.CreateCompleteIdempotency(ctx, &CompleteIdempotency{
		IdempotencyKey: "old-complete", RequestFingerprint: "fp", UploadID: "u1", CreatedAt: old,
	}))
	require.NoError(t, st.CreateInitIdempotency(ctx, &InitIdempotency{
		IdempotencyKey: "fresh", RequestFingerprint: "fp", UploadID: "u2",
	}))

	deleted, err := st.DeleteIdempotencyOlderThan(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
}
