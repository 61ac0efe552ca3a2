package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	ErrSigningKeyNotSet   = errors.New("jwt signing secret not set")
	ErrSigningKeyTooShort = errors.New("jwt signing secret too short: need at least 32 bytes")
	ErrInvalidSigningKey  = errors.New("invalid jwt signing secret encoding")
)

// MinSigningKeyBytes is the HS256 key size floor.
const MinSigningKeyBytes = 32

const base64KeyPrefix = "base64:"

// SigningKey turns the configured secret into HMAC key bytes. A secret of the
// form "base64:<data>" is decoded first; anything else is used verbatim.
func SigningKey(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrSigningKeyNotSet
	}

	key := []byte(secret)
	if strings.HasPrefix(secret, base64KeyPrefix) {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, base64KeyPrefix))
		if err != nil {
			return nil, ErrInvalidSigningKey
		}
		key = decoded
	}

	if len(key) < MinSigningKeyBytes {
		return nil, ErrSigningKeyTooShort
	}
	return key, nil
}

// TokenDigest returns the hex SHA-256 of a token. Revocation entries are keyed
// by digest so raw bearer tokens never sit in storage.
func TokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
