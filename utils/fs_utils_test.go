package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWriteFileAtomic ensures atomic writes create parent directories, overwrite existing files and leave no
// temporary files behind.
func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "entry.json")

	require.NoError(t, WriteFileAtomic(target, []byte("first")))
	require.NoError(t, WriteFileAtomic(target, []byte("second")))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// TestDeleteDirectory ensures deleting directories works and that deleting a missing directory is a no-op.
func TestDeleteDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "toDelete")
	require.NoError(t, MakeDirectory(dir))
	require.NoError(t, DeleteDirectory(dir))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, DeleteDirectory(dir))

	assert.Equal(t, "Counter", GetFileNameWithoutExtension("/a/b/Counter.json"))
}
