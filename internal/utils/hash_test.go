package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashString(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, HashString("refresh-token"), HashString("refresh-token"))
	})

	t.Run("distinct inputs produce distinct hashes", func(t *testing.T) {
		assert.NotEqual(t, HashString("a"), HashString("b"))
	})

	t.Run("hex encoded sha256 length", func(t *testing.T) {
		assert.Len(t, HashString(""), 64)
	})
}
