package testfixtures

import (
	"fmt"
	"slices"
	"sync"
)

// IDGenerator hands out predictable identifiers such as "room-001" and keeps
// the ones it issued so tests can assert on them.
type IDGenerator struct {
	mu     sync.Mutex
	prefix string
	issued []string
}

// NewIDGenerator uses prefix, or "id" when prefix is empty.
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix}
}

func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := fmt.Sprintf("%s-%03d", g.prefix, len(g.issued)+1)
	g.issued = append(g.issued, id)
	return id
}

// NextFunc adapts the generator to the id func taken by the services.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return func() string { return "" }
	}
	return g.Next
}

// Issued lists the identifiers handed out since the last Reset.
func (g *IDGenerator) Issued() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.issued)
}

// Reset forgets issued identifiers. A non-empty prefix replaces the current one.
func (g *IDGenerator) Reset(prefix string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prefix != "" {
		g.prefix = prefix
	}
	g.issued = nil
}
