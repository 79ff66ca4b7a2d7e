package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "local", cfg.StorageBackend)
	assert.Equal(t, "memory", cfg.QueueBackend)
	assert.Equal(t, int64(5*1024*1024), cfg.ChunkSizeBytes)
	assert.Equal(t, 16, cfg.WorkerCount)
	assert.Equal(t, 512, cfg.TaskQueueMaxsize)
	assert.Equal(t, 128, cfg.MaxGlobalInflightChunks)
	assert.Equal(t, 8, cfg.MaxInflightChunksPerUpload)
	assert.Equal(t, "api_key", cfg.AuthMode)
	assert.False(t, cfg.UsesExternalQueue())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "my-bucket")
	t.Setenv("QUEUE_BACKEND", "redis")
	t.Setenv("WORKER_COUNT", "4")
	t.Setenv("LOG_FORMAT", "console")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3", cfg.StorageBackend)
	assert.Equal(t, "my-bucket", cfg.S3Bucket)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.True(t, cfg.UsesExternalQueue())
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestValidateCrossFieldRules(t *testing.T) {
	cfg := Default()
	cfg.StorageBackend = "s3"
	assert.Error(t, cfg.Validate(), "s3 backend requires a bucket")

	cfg = Default()
	cfg.StorageBackend = "r2"
	cfg.R2Bucket = "b"
	assert.Error(t, cfg.Validate(), "r2 backend requires endpoint or account id")
	cfg.R2AccountID = "acct"
	assert.NoError(t, cfg.Validate())

	cfg = Default()
	cfg.QueueBackend = "sqs"
	assert.Error(t, cfg.Validate(), "sqs backend requires a queue url")

	cfg = Default()
	cfg.AuthMode = "jwt"
	assert.Error(t, cfg.Validate(), "jwt mode requires a secret")
	cfg.JWTSecret = "s"
	assert.NoError(t, cfg.Validate())

	cfg = Default()
	cfg.MinWorkers = 10
	cfg.MaxWorkers = 5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.StorageBackend = "ftp"
	assert.Error(t, cfg.Validate())
}

func TestFairShareCap(t *testing.T) {
	cfg := Default()
	cfg.WorkerCount = 16
	assert.Equal(t, 8, cfg.FairShareCap())

	cfg.MaxFairInflightChunksPerUpload = 3
	assert.Equal(t, 3, cfg.FairShareCap())

	cfg = Default()
	cfg.WorkerCount = 1
	assert.Equal(t, 1, cfg.FairShareCap())
}
