package fsops

import (
	"fmt"
	"os"
	"path/filepath"
)

// tempPattern carries neither name marker, so leftovers are never picked up by a scan
const tempPattern = ".jpegsweep-*.tmp"

// TempSibling reserves an empty temp file next to target and returns its path
func TempSibling(target string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(target), tempPattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return name, nil
}

// Replace moves tmp over dst with the given permissions. tmp is removed on failure.
func Replace(tmp, dst string, perm os.FileMode) error {
	if err := os.Chmod(tmp, perm); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("chmod %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename into %s: %w", dst, err)
	}
	return nil
}
