// Package storage provides the durable file primitives shared by the
// playbook store and the append-only logs: atomic whole-file replacement,
// short atomic appends, and the processed-session log.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWrite replaces the contents of path with data, or leaves the previous
// contents intact. It writes to a sibling temp file and renames over the
// target. Directory creation is the caller's responsibility.
func AtomicWrite(path string, data []byte) error {
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()          //nolint:errcheck // cleanup in error path
		_ = os.Remove(tmpPath) //nolint:errcheck // cleanup in error path
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()          //nolint:errcheck // cleanup in error path
		_ = os.Remove(tmpPath) //nolint:errcheck // cleanup in error path
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // cleanup in error path
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // cleanup in error path
		return fmt.Errorf("rename to final: %w", err)
	}

	return nil
}

// AppendLine appends data plus a trailing newline to path in a single short
// write, creating the file if needed. Short appends are atomic on POSIX, so
// interleaved appends from multiple processes do not corrupt the log.
func AppendLine(path string, data []byte) (err error) {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append line: %w", err)
	}
	return f.Sync()
}

// EnsureDir creates dir and parents with owner-only permissions.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

// Quarantine renames a corrupt file to path.backup.<epoch> so user data is
// never silently dropped. Returns the backup path.
func Quarantine(path string, epoch int64) (string, error) {
	backup := fmt.Sprintf("%s.backup.%d", path, epoch)
	if err := os.Rename(path, backup); err != nil {
		return "", fmt.Errorf("quarantine %s: %w", path, err)
	}
	return backup, nil
}
