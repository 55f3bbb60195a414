package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope", "session.json"))
	require.NoError(t, err)
	assert.Empty(t, s.Username())
	assert.False(t, s.Joined("r1"))
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	s, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, s.SetUsername("ann"))
	require.NoError(t, s.MarkJoined("r1"))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ann", reloaded.Username())
	assert.True(t, reloaded.Joined("r1"))
	assert.False(t, reloaded.Joined("r2"))
}

func TestSetUsernameRejectsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "session.json"))
	require.NoError(t, err)
	assert.Error(t, s.SetUsername("   "))
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, s.SetUsername("ann"))

	// Corrupt the file behind the session's back.
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}
