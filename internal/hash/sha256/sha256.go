// Package sha256 fingerprints robots.txt documents.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// DefaultCacheSize bounds how many distinct documents a Hasher remembers.
const DefaultCacheSize = 4096

// Hasher implements pipeline.Hasher using SHA-256.
//
// A domain's robots.txt rarely changes between monthly captures, so one run
// hands the same body to the sinks many times. Hasher remembers the digest of
// every body it has seen, up to a fixed number of entries, after which the
// memory is dropped and refilled. It is safe for concurrent use.
type Hasher struct {
	mu     sync.Mutex
	limit  int
	digest map[string]string
}

// New returns a SHA-256 hasher that remembers up to DefaultCacheSize bodies.
func New() *Hasher {
	return NewWithCacheSize(DefaultCacheSize)
}

// NewWithCacheSize returns a hasher remembering at most size bodies. A size of
// zero or less disables memoization.
func NewWithCacheSize(size int) *Hasher {
	return &Hasher{limit: size, digest: make(map[string]string)}
}

// Sum returns the hex SHA-256 digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	if h.limit <= 0 {
		return Sum(data), nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if d, ok := h.digest[string(data)]; ok {
		return d, nil
	}
	d := Sum(data)
	if len(h.digest) >= h.limit {
		clear(h.digest)
	}
	h.digest[string(data)] = d
	return d, nil
}

// Cached reports how many bodies the hasher currently remembers.
func (h *Hasher) Cached() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.digest)
}
