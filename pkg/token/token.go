// Package token generates opaque random tokens.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	errGenerateRandomBytesFmt = "failed to generate random bytes: %w"
	errByteLengthPositive     = "byteLength must be positive"
)

// Generate returns byteLength random bytes as unpadded base64url.
func Generate(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", errors.New(errByteLengthPositive)
	}

	bytes := make([]byte, byteLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf(errGenerateRandomBytesFmt, err)
	}

	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
