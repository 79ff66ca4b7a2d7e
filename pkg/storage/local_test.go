package storage

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	token, err := s.InitializeUpload(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, token)

	res, err := s.WriteChunk(ctx, "u1", 0, []byte("hello"), "")
	require.NoError(t, err)
	assert.Equal(t, "uploads/u1/chunk_0", res.Key)

	reader, err := s.ReadChunk(ctx, res.Key)
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	reader.Close()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestLocalStoreOverwrite(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.WriteChunk(ctx, "u1", 0, []byte("old"), "")
	require.NoError(t, err)
	res, err := s.WriteChunk(ctx, "u1", 0, []byte("new"), "")
	require.NoError(t, err)

	reader, err := s.ReadChunk(ctx, res.Key)
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	reader.Close()
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestLocalStoreListAndDelete(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.WriteChunk(ctx, "u1", i, []byte("x"), "")
		require.NoError(t, err)
	}
	_, err = s.WriteChunk(ctx, "u2", 0, []byte("y"), "")
	require.NoError(t, err)

	keys, err := s.ListKeys(ctx, "uploads/u1/")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	all, err := s.ListKeys(ctx, "uploads/")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	require.NoError(t, s.DeleteKey(ctx, ChunkKey("u1", 0)))
	keys, err = s.ListKeys(ctx, "uploads/u1/")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	// deleting a missing key is not an error
	require.NoError(t, s.DeleteKey(ctx, ChunkKey("u1", 0)))
}

func TestMultipartEligible(t *testing.T) {
	const fiveMiB = 5 * 1024 * 1024
	assert.True(t, MultipartEligible("s3", 2, fiveMiB))
	assert.True(t, MultipartEligible("r2", 3, fiveMiB+1))
	assert.False(t, MultipartEligible("local", 2, fiveMiB))
	assert.False(t, MultipartEligible("s3", 1, fiveMiB))
	assert.False(t, MultipartEligible("s3", 2, fiveMiB-1))
}
