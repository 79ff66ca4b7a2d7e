package maintenance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfs-io/dfsd/pkg/storage"
	"github.com/dfs-io/dfsd/pkg/store"
)

func newSweeperEnv(t *testing.T) (*store.Store, *storage.LocalStore, *Sweeper) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	objects, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	sweeper := NewSweeper(st, objects, time.Hour, time.Hour, time.Minute, zerolog.Nop())
	return st, objects, sweeper
}

func seedUpload(t *testing.T, st *store.Store, id, status string, age time.Duration) {
	t.Helper()
	require.NoError(t, st.CreateUpload(context.Background(), &store.Upload{
		ID:          id,
		OwnerID:     "user-a",
		FileName:    "f.bin",
		FileSize:    4,
		ChunkSize:   4,
		TotalChunks: 1,
		Status:      status,
		CreatedAt:   time.Now().UTC().Add(-age),
	}))
}

func TestSweepStaleUploads(t *testing.T) {
	st, objects, sweeper := newSweeperEnv(t)
	ctx := context.Background()

	seedUpload(t, st, "stale", store.UploadInProgress, 2*time.Hour)
	seedUpload(t, st, "fresh", store.UploadInProgress, time.Minute)
	seedUpload(t, st, "done", store.UploadCompleted, 2*time.Hour)

	res, err := objects.WriteChunk(ctx, "stale", 0, []byte("abcd"), "")
	require.NoError(t, err)
	require.NoError(t, st.UpsertChunk(ctx, &store.Chunk{
		UploadID:            "stale",
		ChunkIndex:          0,
		SizeBytes:           4,
		ChunkChecksumSHA256: "x",
		StorageKey:          res.Key,
		Status:              store.ChunkUploaded,
	}))

	stats, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.StaleUploadsDeleted)
	assert.GreaterOrEqual(t, stats.StorageKeysDeleted, 1)

	_, err = st.GetUpload(ctx, "stale")
	assert.True(t, store.IsNotFound(err))
	_, err = st.GetUpload(ctx, "fresh")
	assert.NoError(t, err)
	_, err = st.GetUpload(ctx, "done")
	assert.NoError(t, err)

	keys, err := objects.ListKeys(ctx, "uploads/stale/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSweepExpiredIdempotencyRows(t *testing.T) {
	st, _, sweeper := newSweeperEnv(t)
	ctx := context.Background()

	require.NoError(t, st.CreateInitIdempotency(ctx, &store.InitIdempotency{
		IdempotencyKey:     "old",
		RequestFingerprint: "fp",
		UploadID:           "u1",
		CreatedAt:          time.Now().UTC().Add(-2 * time.Hour),
	}))
	require.NoError(t, st.CreateInitIdempotency(ctx, &store.InitIdempotency{
		IdempotencyKey:     "new",
		RequestFingerprint: "fp",
		UploadID:           "u2",
		CreatedAt:          time.Now().UTC(),
	}))

	stats, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.IdempotencyRowsDeleted)

	_, err = st.GetInitIdempotency(ctx, "old")
	assert.True(t, store.IsNotFound(err))
	_, err = st.GetInitIdempotency(ctx, "new")
	assert.NoError(t, err)
}

func TestSweepOrphanKeys(t *testing.T) {
	st, objects, sweeper := newSweeperEnv(t)
	ctx := context.Background()

	seedUpload(t, st, "live", store.UploadInProgress, time.Minute)
	res, err := objects.WriteChunk(ctx, "live", 0, []byte("abcd"), "")
	require.NoError(t, err)
	require.NoError(t, st.UpsertChunk(ctx, &store.Chunk{
		UploadID:            "live",
		ChunkIndex:          0,
		SizeBytes:           4,
		ChunkChecksumSHA256: "x",
		StorageKey:          res.Key,
		Status:              store.ChunkUploaded,
	}))

	// An object no chunk row references.
	_, err = objects.WriteChunk(ctx, "ghost", 0, []byte("zzzz"), "")
	require.NoError(t, err)

	stats, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.StorageKeysDeleted)

	keys, err := objects.ListKeys(ctx, "uploads/")
	require.NoError(t, err)
	assert.Equal(t, []string{res.Key}, keys)
}
