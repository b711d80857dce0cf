package session

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet omits the characters easily confused when a code is
// read aloud or typed from a screen (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// generateJoinCode returns a random human-enterable code of the given
// length. Uniqueness is not checked here; creation retries against the
// store until an unused code is found.
func generateJoinCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
