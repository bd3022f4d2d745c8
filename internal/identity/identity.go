// Package identity generates the participant identifier for one session.
package identity

import (
	"github.com/google/uuid"
)

// New returns a random identity formatted as 8-4-4-4-12 lowercase hex.
// Uniqueness is probabilistic; nothing checks it against the relay.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s has the shape produced by New.
func Valid(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
