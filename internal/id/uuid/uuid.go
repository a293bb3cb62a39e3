// Package uuid mints capture IDs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements thumbnail.IDGenerator with UUIDv7, so capture IDs sort
// by creation time in logs and event streams.
type Generator struct {
	newV7 func() (uuid.UUID, error)
}

// New returns a Generator backed by the process-wide UUID source.
func New() *Generator {
	return &Generator{newV7: uuid.NewV7}
}

// NewID returns a fresh capture ID.
func (g *Generator) NewID() (string, error) {
	id, err := g.newV7()
	if err != nil {
		return "", fmt.Errorf("capture id: %w", err)
	}
	return id.String(), nil
}
