// Package storage abstracts the chunk object store. The local backend keeps
// one file per chunk; the S3 backend targets AWS S3 or Cloudflare R2 and
// optionally assembles chunks server-side through multipart uploads.
package storage

import (
	"context"
	"fmt"
	"io"
)

// Part identifies one finished multipart part.
type Part struct {
	PartNumber int32
	ETag       string
}

// WriteResult describes where a chunk landed.
type WriteResult struct {
	Key  string
	ETag string
}

// ChunkStorage is the object-store capability set used by the coordinator
// and the maintenance sweeper.
type ChunkStorage interface {
	// InitializeUpload prepares server-side assembly and returns an opaque
	// multipart token, or "" when the backend does not assemble.
	InitializeUpload(ctx context.Context, uploadID string) (string, error)

	// WriteChunk persists one chunk. A non-empty multipartToken also
	// registers the chunk as part index+1 of the assembled object.
	WriteChunk(ctx context.Context, uploadID string, index int, data []byte, multipartToken string) (WriteResult, error)

	// CompleteUpload finalizes server-side assembly. A no-op when the
	// backend does not assemble.
	CompleteUpload(ctx context.Context, uploadID, multipartToken string, parts []Part) error

	// ReadChunk returns a reader over the chunk stored at key. The caller
	// closes it.
	ReadChunk(ctx context.Context, key string) (io.ReadCloser, error)

	// ListKeys returns every stored key under prefix.
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// DeleteKey removes the object at key. Missing keys are not an error.
	DeleteKey(ctx context.Context, key string) error
}

// ChunkKey is the canonical object key for one chunk.
func ChunkKey(uploadID string, index int) string {
	return fmt.Sprintf("uploads/%s/chunk_%d", uploadID, index)
}

// AssembledKey is the object key of the server-side assembled file.
func AssembledKey(uploadID string) string {
	return fmt.Sprintf("uploads/%s/assembled", uploadID)
}

// UploadPrefix is the key prefix holding every object of one upload.
func UploadPrefix(uploadID string) string {
	return fmt.Sprintf("uploads/%s/", uploadID)
}

// MinMultipartChunkSize is the smallest chunk size eligible for multipart
// assembly, matching the S3 minimum part size.
const MinMultipartChunkSize = 5 * 1024 * 1024

// MultipartEligible reports whether an upload should use server-side
// assembly on this backend.
func MultipartEligible(backend string, totalChunks int, chunkSize int64) bool {
	if backend != "s3" && backend != "r2" {
		return false
	}
	return totalChunks > 1 && chunkSize >= MinMultipartChunkSize
}
