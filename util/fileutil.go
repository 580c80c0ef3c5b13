package util

import (
	"os"
	"path/filepath"
)

// PathExists reports whether a path exists on disk.
func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// EnsureDir creates dir (and parents) if it does not already exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// CreateFileWithSize opens filePath (creating it if necessary) and
// truncates it to size bytes. Used to preallocate fixed-size segment and
// checkpoint files up front so later writes never extend the file.
func CreateFileWithSize(filePath string, size int64) (*os.File, error) {
	if err := EnsureDir(filepath.Dir(filePath)); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if size > 0 {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// ReadFileAt reads size bytes of filePath starting at offset.
func ReadFileAt(filePath string, offset int64, size int) ([]byte, error) {
	f, err := os.OpenFile(filePath, os.O_RDONLY, 0644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b := make([]byte, size)
	if _, err := f.ReadAt(b, offset); err != nil {
		return nil, err
	}
	return b, nil
}

// WriteFileAt writes data into filePath starting at offset.
func WriteFileAt(filePath string, offset int64, data []byte) error {
	f, err := os.OpenFile(filePath, os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteAt(data, offset)
	return err
}
