package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// MakeDirectory creates a directory at the given path, including any parent directories which do not exist.
// Returns an error, if one occurred.
func MakeDirectory(dirToMake string) error {
	dirInfo, err := os.Stat(dirToMake)
	if err != nil {
		// Directory does not exist, as expected.
		if os.IsNotExist(err) {
			return errors.WithStack(os.MkdirAll(dirToMake, 0755))
		}
		return errors.WithStack(err)
	}

	// dirToMake is a file, throw an error accordingly
	if !dirInfo.IsDir() {
		return fmt.Errorf("there is a file with the same name as %s", dirToMake)
	}
	return nil
}

// WriteFileAtomic writes data to a temporary file in the target directory and renames it over the target path, so
// concurrent readers never observe a partially written file. Missing parent directories are created.
func WriteFileAtomic(targetPath string, data []byte) error {
	directory := filepath.Dir(targetPath)
	if err := MakeDirectory(directory); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(directory, "."+filepath.Base(targetPath)+".tmp-*")
	if err != nil {
		return errors.WithStack(err)
	}
	tmpPath := tmpFile.Name()

	// Remove the temporary file on any failure path. After a successful rename this is a no-op.
	defer os.Remove(tmpPath)

	if _, err = tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return errors.WithStack(err)
	}
	if err = tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return errors.WithStack(err)
	}
	if err = tmpFile.Close(); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Rename(tmpPath, targetPath))
}

// GetFileNameWithoutExtension obtains a filename without the extension. This does not contain any preceding directory
// paths.
func GetFileNameWithoutExtension(filePath string) string {
	base := filepath.Base(filePath)
	return base[:len(base)-len(filepath.Ext(base))]
}

// DeleteDirectory deletes a directory at the provided path. Returns an error if one occurred.
func DeleteDirectory(directoryPath string) error {
	dirInfo, err := os.Stat(directoryPath)
	if err != nil {
		// If the directory does not exist, nothing needs to be done
		if os.IsNotExist(err) {
			return nil
		}
		return errors.WithStack(err)
	}

	// Make sure the path is a directory and not a file
	if !dirInfo.IsDir() {
		return fmt.Errorf("cannot delete directory as the provided path refers to a file")
	}
	return errors.WithStack(os.RemoveAll(directoryPath))
}
