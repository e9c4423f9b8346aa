// Package sha256 fingerprints response bodies for change detection.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

// Hasher hashes content with runs of whitespace collapsed, so reflowed but
// otherwise identical pages share a fingerprint.
type Hasher struct{}

var _ scraper.Hasher = Hasher{}

// New returns a content hasher.
func New() Hasher {
	return Hasher{}
}

// Hash returns the hex SHA-256 of the whitespace-normalized input.
func (Hasher) Hash(data []byte) (string, error) {
	normalized := strings.Join(strings.Fields(string(data)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}
