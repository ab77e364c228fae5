package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/stratushq/stratus/pkg/models"
)

// GeneratedKey is a freshly minted ingest credential. Raw is shown to
// the caller exactly once; only Hash is persisted.
type GeneratedKey struct {
	Raw    string
	Prefix string
	Hash   string
}

// GenerateAPIKey mints a new raw API key with 32 bytes of entropy.
func GenerateAPIKey() (*GeneratedKey, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, fmt.Errorf("failed to generate api key: %w", err)
	}

	raw := models.APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf)
	return &GeneratedKey{
		Raw:    raw,
		Prefix: KeyPrefix(raw),
		Hash:   HashAPIKey(raw),
	}, nil
}

// HashAPIKey returns the hex SHA-256 digest of a raw key. The digest is
// the storage and cache lookup key; the raw key is never persisted.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// KeyPrefix returns the display prefix of a raw key, enough for a user
// to tell keys apart in a list without revealing the credential.
func KeyPrefix(raw string) string {
	const visible = 10
	if len(raw) <= visible {
		return raw
	}
	return raw[:visible]
}
