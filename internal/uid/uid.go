package uid

import (
	"crypto/rand"
	"encoding/hex"
	"io"
)

// Uid returns a unique id. These ids consist of 64 bits from a
// cryptographically strong pseudo-random generator, resulting in a
// 16-character hexadecimal string. They identify requests in logs and
// response headers, not database rows.
func Uid() string {
	id := make([]byte, 8)
	_, err := io.ReadFull(rand.Reader, id)
	if err != nil {
		panic(err)
	}
	return hex.EncodeToString(id)
}
