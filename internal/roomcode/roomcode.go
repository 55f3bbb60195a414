// Package roomcode generates and validates the short shareable codes used to
// invite people into private rooms.
package roomcode

import (
	"crypto/rand"
	"fmt"
)

// Codes are 6 characters from an uppercase alphanumeric alphabet, long enough
// to be impractical to guess while still easy to read out loud.
const (
	Length   = 6
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Generate returns a new random room code.
func Generate() (string, error) {
	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("roomcode.Generate: %w", err)
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf), nil
}

// Valid reports whether s has the shape of a room code.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
