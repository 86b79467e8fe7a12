package sequence

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator mints sequence identifiers of the form "<instance>-<n>".
// The instance token is fixed at construction, so identifiers from
// concurrently running relay instances never collide; n is a per-process
// monotonic counter starting at 1. Multi-instance deployments share no
// counter state: the instance prefix is what lets clients tell emitters
// apart.
type Generator struct {
	instance string
	counter  atomic.Uint64
}

// New creates a Generator with a random instance token.
func New() *Generator {
	return NewWithInstance(shortToken())
}

// NewWithInstance creates a Generator with a fixed instance token.
func NewWithInstance(instance string) *Generator {
	return &Generator{instance: instance}
}

// Next returns the next identifier. Safe for concurrent use.
func (g *Generator) Next() string {
	n := g.counter.Add(1)
	return fmt.Sprintf("%s-%d", g.instance, n)
}

// Instance returns the token prefixed to every identifier.
func (g *Generator) Instance() string {
	return g.instance
}

// Current returns the most recently issued counter value, 0 if none yet.
func (g *Generator) Current() uint64 {
	return g.counter.Load()
}

// shortToken derives a compact token from a random UUID. The first UUID
// segment (8 hex chars) is plenty to distinguish instances on one fabric.
func shortToken() string {
	return strings.SplitN(uuid.New().String(), "-", 2)[0]
}
