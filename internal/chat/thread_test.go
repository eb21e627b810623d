package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_KeepsExisting(t *testing.T) {
	r := NewResolver()
	id, err := r.Resolve("01EXISTINGAAAAAAAAAAAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, "01EXISTINGAAAAAAAAAAAAAAAA", id)
}

func TestResolver_MintsFreshIDs(t *testing.T) {
	r := NewResolver()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id, err := r.Resolve("")
		require.NoError(t, err)
		require.Len(t, id, 26)
		require.False(t, seen[id], "duplicate thread id %s", id)
		seen[id] = true
	}
}
