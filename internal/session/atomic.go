package session

import (
	"fmt"
	"os"
	"path/filepath"
)

// testHookCrashBeforeRename simulates a crash in the window between writing
// the temp file and renaming it over the target. Only tests set it.
var testHookCrashBeforeRename func()

// atomicWriteFile writes data to a temporary file in the target's directory,
// syncs it, then renames it over the target. A crash at any point leaves
// either the old file or the new one, never a torn write.
func atomicWriteFile(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp-session-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	// On success the rename consumes the temp file; the deferred remove then
	// fails harmlessly.
	var success bool
	defer func() {
		if !success {
			_ = os.Remove(tempFile.Name())
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file %q: %w", tempFile.Name(), err)
	}
	if err := os.Chmod(tempFile.Name(), perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if testHookCrashBeforeRename != nil {
		testHookCrashBeforeRename()
	}

	if err := os.Rename(tempFile.Name(), filename); err != nil {
		return fmt.Errorf("rename temp file into place: %w", err)
	}
	success = true
	return nil
}
