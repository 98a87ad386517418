// Package json persists transcripts and saved sessions as versioned JSON
// files.
package json

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeFile writes data atomically by renaming a temp file into place,
// creating parent directories as needed. Files are private to the user.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
