package secretsync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	st, err := LoadState(path)
	require.NoError(t, err)
	st.Set("DATABASE_URL", "clinic_DATABASE_URL", "3", "postgres://db")
	require.NoError(t, st.Save())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, err := LoadState(path)
	require.NoError(t, err)
	entry, ok := again.Get("DATABASE_URL")
	require.True(t, ok)
	assert.Equal(t, "clinic_DATABASE_URL", entry.SecretID)
	assert.Equal(t, "3", entry.Version)
	assert.Equal(t, HashValue("postgres://db"), entry.Hash)
}

func TestStateSaveSkipsWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	st, err := LoadState(path)
	require.NoError(t, err)

	// Nothing set, nothing written.
	require.NoError(t, st.Save())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	st.Set("K", "id", "1", "v")
	require.NoError(t, st.Save())
	st.Remove("missing") // no-op, stays clean
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	st.Remove("K")
	require.NoError(t, st.Save())
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, string(before), string(after))
}
