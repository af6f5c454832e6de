package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// ExecuteInDirectory executes the given method in a given test directory. It changes the current working directory
// to the directory specified, runs the provided method, then restores the working directory. This wraps tests so
// any file artifacts generated do not end up in the codebase directories.
func ExecuteInDirectory(t *testing.T, testPath string, method func()) {
	// Backup our old working directory
	cwd, err := os.Getwd()
	require.NoError(t, err)

	// Check if the test path refers to a file or directory, as we'll want to change our working directory to a
	// directory path.
	testPathInfo, err := os.Stat(testPath)
	require.NoError(t, err)
	testDirectory := testPath
	if !testPathInfo.IsDir() {
		testDirectory = filepath.Dir(testPath)
	}

	require.NoError(t, os.Chdir(testDirectory))

	// Restore our working directory even if the method fails the test, or clean up of the directory will fail.
	defer func() {
		require.NoError(t, os.Chdir(cwd))
	}()
	method()
}

// WriteTestFile writes data to a file relative to the provided directory, creating parent directories as needed.
// Returns the absolute path of the written file.
func WriteTestFile(t *testing.T, directory string, relativePath string, data []byte) string {
	path := filepath.Join(directory, relativePath)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}
