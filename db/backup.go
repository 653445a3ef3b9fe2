// ABOUTME: Consistent point-in-time copies of the database file
// ABOUTME: VACUUM INTO captures committed pages still sitting in the WAL
package db

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// Backup writes a snapshot of the database at path next to it and returns the
// snapshot's path. A missing database yields an empty path and no error.
func Backup(path string, now time.Time) (string, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("failed to stat database: %w", err)
	}

	db, err := openRaw(path)
	if err != nil {
		return "", fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	backupPath := fmt.Sprintf("%s.backup.%s", path, now.Format("20060102-150405"))
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}
	if err := os.Chmod(backupPath, 0600); err != nil {
		return "", fmt.Errorf("failed to restrict backup: %w", err)
	}
	return backupPath, nil
}
