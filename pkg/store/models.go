package store

import "time"

// Upload lifecycle statuses.
const (
	UploadInitiated  = "INITIATED"
	UploadInProgress = "IN_PROGRESS"
	UploadCompleted  = "COMPLETED"
	UploadFailed     = "FAILED"
	UploadAborted    = "ABORTED"
)

// Chunk statuses.
const (
	ChunkPending  = "PENDING"
	ChunkUploaded = "UPLOADED"
	ChunkFailed   = "FAILED"
)

// Upload is one logical file being ingested in fixed-size chunks.
type Upload struct {
	ID                 string `gorm:"primaryKey;size:64"`
	OwnerID            string `gorm:"size:255;index;not null"`
	FileName           string `gorm:"size:1024;not null"`
	FileSize           int64  `gorm:"not null"`
	ChunkSize          int64  `gorm:"not null"`
	TotalChunks        int    `gorm:"not null"`
	FileChecksumSHA256 string `gorm:"size:64"`
	Status             string `gorm:"size:16;index;not null"`
	MultipartUploadID  string `gorm:"size:1024"`
	CreatedAt          time.Time
	UpdatedAt          time.Time

	Chunks []Chunk `gorm:"constraint:OnDelete:CASCADE"`
}

// Chunk is the metadata row for one uploaded byte range.
type Chunk struct {
	ID                  uint   `gorm:"primaryKey"`
	UploadID            string `gorm:"size:64;uniqueIndex:idx_chunks_upload_index;not null"`
	ChunkIndex          int    `gorm:"uniqueIndex:idx_chunks_upload_index;not null"`
	SizeBytes           int64  `gorm:"not null"`
	ChunkChecksumSHA256 string `gorm:"size:64;not null"`
	StorageKey          string `gorm:"size:1024;not null"`
	StorageETag         string `gorm:"column:storage_etag;size:255"`
	Status              string `gorm:"size:16;not null"`
	RetryCount          int    `gorm:"not null;default:0"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// InitIdempotency binds an Idempotency-Key seen on init to the upload it
// created and the fingerprint of the request that created it.
type InitIdempotency struct {
	IdempotencyKey     string `gorm:"primaryKey;size:255"`
	RequestFingerprint string `gorm:"size:64;not null"`
	UploadID           string `gorm:"size:64;index;not null"`
	CreatedAt          time.Time
}

// ChunkIdempotency binds an Idempotency-Key seen on a chunk upload, scoped
// to the chunk it targeted.
type ChunkIdempotency struct {
	ID                 uint   `gorm:"primaryKey"`
	UploadID           string `gorm:"size:64;uniqueIndex:idx_chunk_idem_scope;not null"`
	ChunkIndex         int    `gorm:"uniqueIndex:idx_chunk_idem_scope;not null"`
	IdempotencyKey     string `gorm:"size:255;uniqueIndex:idx_chunk_idem_scope;not null"`
	RequestFingerprint string `gorm:"size:64;not null"`
	CreatedAt          time.Time
}

// CompleteIdempotency binds an Idempotency-Key seen on complete.
type CompleteIdempotency struct {
	IdempotencyKey     string `gorm:"primaryKey;size:255"`
	RequestFingerprint string `gorm:"size:64;not null"`
	UploadID           string `gorm:"size:64;index;not null"`
	CreatedAt          time.Time
}

func (InitIdempotency) TableName() string     { return "init_request_idempotency" }
func (ChunkIdempotency) TableName() string    { return "chunk_request_idempotency" }
func (CompleteIdempotency) TableName() string { return "complete_request_idempotency" }
