package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// fingerprint hashes a canonical JSON projection of request fields. Map
// marshalling sorts keys and emits no whitespace, so equal field sets
// always produce equal digests.
func fingerprint(fields map[string]any) string {
	payload, err := json.Marshal(fields)
	if err != nil {
		// Only primitive field values are ever passed in.
		panic(err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func initFingerprint(fileName string, fileSize, chunkSize int64, fileChecksum string) string {
	var checksum any
	if fileChecksum != "" {
		checksum = strings.ToLower(fileChecksum)
	}
	return fingerprint(map[string]any{
		"file_name":            fileName,
		"file_size":            fileSize,
		"chunk_size":           chunkSize,
		"file_checksum_sha256": checksum,
	})
}

func completeFingerprint(uploadID string) string {
	return fingerprint(map[string]any{"upload_id": uploadID})
}

// chunkFingerprint is the digest of the chunk body itself, which doubles as
// the stored chunk checksum.
func chunkFingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
