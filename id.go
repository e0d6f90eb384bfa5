package sessioncache

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// IDGenerator produces new session ids.
type IDGenerator func() (string, error)

// GenerateID returns 32 random bytes (256 bits) encoded as unpadded base64url.
func GenerateID() (string, error) {
	const size = 32

	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("sessioncache: failed to generate id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// UUIDGenerator returns random (version 4) UUID strings.
func UUIDGenerator() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("sessioncache: failed to generate uuid: %w", err)
	}
	return u.String(), nil
}
