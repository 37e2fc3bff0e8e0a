// Package uuid provides random identifier generation.
package uuid

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Generator creates random (version 4) UUID strings. Client identifiers must
// not be guessable, so time-ordered versions are not offered.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv4 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", errors.Wrap(err, "generate uuid4")
	}
	return id.String(), nil
}

// MustNewID returns a UUIDv4 string from the system entropy source and
// panics if that source fails.
func MustNewID() string {
	return uuid.NewString()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
