// Package sha256 computes the url_hash and content_hash digests. Both are
// lowercase hex SHA-256, 64 characters, matching the CHAR(64) columns.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Hasher implements crawler.Hasher. The frontier uses it as its dedup key and
// the worker stores the same value as pages.url_hash.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data. It never fails.
func (*Hasher) Hash(data []byte) (string, error) {
	return Sum(data), nil
}

// Sum returns the hex digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SumString digests s without copying it into a byte slice first.
func SumString(s string) string {
	h := sha256.New()
	_, _ = io.WriteString(h, s)
	return hex.EncodeToString(h.Sum(nil))
}
