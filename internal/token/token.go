// Package token generates human-readable handshake collection tokens.
package token

import (
	"crypto/rand"
	"fmt"
)

// Alphabet excludes O, 0, I, 1 to prevent human misread. 32 characters, so
// a random byte mod 32 stays uniform.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Length is the number of alphabet characters in a token (excluding the hyphen).
const Length = 8

// Generate returns a fresh XXXX-XXXX token from a cryptographic RNG. Tokens
// are not globally unique; the caller enforces uniqueness among live
// transactions by retrying on collision at insert time.
func Generate() (string, error) {
	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i := range buf {
		buf[i] = Alphabet[int(buf[i])%len(Alphabet)]
	}
	return fmt.Sprintf("%s-%s", buf[:4], buf[4:]), nil
}
