package migration

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPending(t *testing.T) {
	all := pending(nil)
	assert.Len(t, all, len(migrations))
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].version, all[i-1].version)
	}

	rest := pending(map[int]bool{1: true})
	if assert.NotEmpty(t, rest) {
		assert.Equal(t, 2, rest[0].version)
	}
	assert.Empty(t, pending(map[int]bool{1: true, 2: true}))
}

func TestVersion(t *testing.T) {
	assert.Equal(t, "002", NewRunner(zerolog.Nop()).Version())
}
