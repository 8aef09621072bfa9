package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedTokens_InOrder(t *testing.T) {
	gen := NewFixedTokens("case-1", "case-2")

	assert.Equal(t, "case-1", gen.Generate())
	assert.Equal(t, "case-2", gen.Generate())
}

func TestFixedTokens_ExhaustionPanics(t *testing.T) {
	gen := NewFixedTokens("only")
	gen.Generate()

	assert.Panics(t, func() { gen.Generate() })
}
