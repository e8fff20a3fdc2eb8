// Package archive downloads release archives and computes their content
// digest.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/clxrityy/tapbump/internal/fetch"
)

// Hasher computes SHA-256 digests of remote archives.
type Hasher struct {
	getter fetch.Getter
}

// New returns a Hasher that downloads through getter.
func New(getter fetch.Getter) *Hasher {
	return &Hasher{getter: getter}
}

// DigestOf downloads url in full and returns the lowercase hex SHA-256 of
// its bytes. The whole body is held in memory; release archives are small.
func (h *Hasher) DigestOf(ctx context.Context, url string) (string, error) {
	body, err := fetch.OK(ctx, h.getter, url)
	if err != nil {
		return "", err
	}
	return Sum(body), nil
}

// Sum returns the lowercase hex SHA-256 of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
