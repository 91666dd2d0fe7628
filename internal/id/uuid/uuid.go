// Package uuid generates crawl job identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 job IDs so that listing jobs by ID
// roughly follows submission order.
type Generator struct {
	random bool
}

// Option configures a Generator.
type Option func(*Generator)

// WithRandom switches the generator to UUIDv4.
func WithRandom() Option {
	return func(g *Generator) { g.random = true }
}

// New creates a Generator.
func New(opts ...Option) *Generator {
	g := &Generator{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewID returns a new job ID.
func (g *Generator) NewID() (string, error) {
	var (
		id  uuid.UUID
		err error
	)
	if g.random {
		id, err = uuid.NewRandom()
	} else {
		id, err = uuid.NewV7()
	}
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return id.String(), nil
}

