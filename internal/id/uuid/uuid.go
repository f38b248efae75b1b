// Package uuid generates request IDs.
package uuid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 request IDs, optionally prefixed.
type Generator struct {
	prefix string
}

// New creates a Generator. An empty prefix yields bare UUIDs.
func New(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewID returns a prefixed UUID7 string.
func (g *Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return g.prefix + id.String(), nil
}

// IssuedAt recovers the creation time embedded in an ID from NewID.
func (g *Generator) IssuedAt(id string) (time.Time, error) {
	if len(id) < len(g.prefix) || id[:len(g.prefix)] != g.prefix {
		return time.Time{}, fmt.Errorf("id %q lacks prefix %q", id, g.prefix)
	}
	parsed, err := uuid.Parse(id[len(g.prefix):])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse id: %w", err)
	}
	if parsed.Version() != 7 {
		return time.Time{}, fmt.Errorf("id %q is not a v7 uuid", id)
	}
	sec, nsec := parsed.Time().UnixTime()
	return time.Unix(sec, nsec), nil
}
