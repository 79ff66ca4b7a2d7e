package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps every chunk as a distinct file under a root directory.
// There is no server-side assembly; downloads concatenate chunk files.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) InitializeUpload(ctx context.Context, uploadID string) (string, error) {
	return "", nil
}

func (s *LocalStore) WriteChunk(ctx context.Context, uploadID string, index int, data []byte, multipartToken string) (WriteResult, error) {
	key := ChunkKey(uploadID, index)
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return WriteResult{}, err
	}
	// Write-then-rename so a concurrent reader never sees a torn chunk.
	tmp, err := os.CreateTemp(filepath.Dir(path), "chunk-*")
	if err != nil {
		return WriteResult{}, err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return WriteResult{}, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return WriteResult{}, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return WriteResult{}, err
	}
	return WriteResult{Key: key}, nil
}

func (s *LocalStore) CompleteUpload(ctx context.Context, uploadID, multipartToken string, parts []Part) error {
	return nil
}

func (s *LocalStore) ReadChunk(ctx context.Context, key string) (io.ReadCloser, error) {
	return os.Open(s.path(key))
}

func (s *LocalStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return keys, err
}

func (s *LocalStore) DeleteKey(ctx context.Context, key string) error {
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}
