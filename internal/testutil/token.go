package testutil

import (
	"fmt"
	"sync"
)

// FixedTokens returns predetermined case tokens for deterministic tests.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedTokens struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedTokens creates a generator that returns tokens in order.
//
// Example:
//
//	gen := testutil.NewFixedTokens("case-1", "case-2")
//	gen.Generate() // "case-1"
//	gen.Generate() // "case-2"
//	gen.Generate() // panic: all tokens exhausted
func NewFixedTokens(tokens ...string) *FixedTokens {
	return &FixedTokens{tokens: tokens}
}

// Generate returns the next predetermined token.
//
// Panics when all tokens have been consumed: a test asking for more tokens
// than it declared is a test bug.
func (g *FixedTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.tokens) {
		panic(fmt.Sprintf("testutil: all %d fixed tokens exhausted", len(g.tokens)))
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}
