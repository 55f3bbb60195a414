package roomcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		code, err := Generate()
		require.NoError(t, err)
		assert.True(t, Valid(code), "generated code %q is not valid", code)
		seen[code] = struct{}{}
	}
	// 100 draws from a 36^6 space should never collide.
	assert.Len(t, seen, 100)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("AB12CD"))
	assert.True(t, Valid("000000"))
	assert.False(t, Valid(""))
	assert.False(t, Valid("AB12C"))
	assert.False(t, Valid("AB12CDE"))
	assert.False(t, Valid("ab12cd"))
	assert.False(t, Valid("AB12C!"))
}
