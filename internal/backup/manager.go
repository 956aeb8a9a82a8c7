// Package backup implements online SQLite backup with filename rotation and
// cron-driven scheduling — spec §4.7.
package backup

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	retry "github.com/avast/retry-go"

	"github.com/assetcorp/sirannon/internal/pool"
	"github.com/assetcorp/sirannon/internal/sirannonerr"
)

var backupFilePattern = regexp.MustCompile(`^backup-.+\.db$`)

// Manager performs online backups of a single source database and rotates
// old backup files — spec §4.7.
type Manager struct {
	sourcePath string
}

// NewManager builds a Manager for the database file at sourcePath.
func NewManager(sourcePath string) *Manager {
	return &Manager{sourcePath: sourcePath}
}

// Backup copies the database referenced by writer to destPath using the
// engine's online backup mechanism (VACUUM INTO, the portable equivalent of
// the SQLite page-copy backup API for a pure-Go driver). Refuses if
// destPath already exists or equals the source path. Partial output is
// deleted on any failure — spec §4.7.
func (m *Manager) Backup(ctx context.Context, writer *pool.Conn, destPath string) error {
	if destPath == m.sourcePath {
		return sirannonerr.New(sirannonerr.CodeBackupError, "backup destination equals source path")
	}
	if _, err := os.Stat(destPath); err == nil {
		return sirannonerr.New(sirannonerr.CodeBackupError, "backup destination already exists: "+destPath)
	} else if !os.IsNotExist(err) {
		return sirannonerr.Wrap(sirannonerr.CodeBackupError, "stat backup destination", err)
	}

	if dir := filepath.Dir(destPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return sirannonerr.Wrap(sirannonerr.CodeBackupError, "create backup directory", err)
		}
	}

	// VACUUM INTO can transiently fail with SQLITE_BUSY while a writer holds
	// the database; retry a handful of times before giving up — spec §4.7.
	err := retry.Do(
		func() error {
			_, execErr := writer.Execute(ctx, "VACUUM INTO ?", []any{destPath})
			return execErr
		},
		retry.Attempts(5),
		retry.Delay(50*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isBusyErr),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		_ = os.Remove(destPath)
		return sirannonerr.Wrap(sirannonerr.CodeBackupError, "backup database", err)
	}
	return nil
}

// isBusyErr reports whether err looks like SQLite's "database is locked" /
// "database is busy" transient contention error, the only case worth
// retrying a VACUUM INTO for.
func isBusyErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}

// GenerateFilename returns "backup-<ISO8601, colons and dots replaced by
// hyphens>.db" — spec §4.7.
func (m *Manager) GenerateFilename() string {
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	stamp = strings.ReplaceAll(stamp, ":", "-")
	stamp = strings.ReplaceAll(stamp, ".", "-")
	return "backup-" + stamp + ".db"
}

// Rotate keeps the maxFiles most recently modified backup files in dir and
// deletes the rest. A no-op when maxFiles <= 0, dir is missing, or the
// matching file count is already <= maxFiles. Never touches files that
// don't match ^backup-.+\.db$ — spec §4.7.
func (m *Manager) Rotate(dir string, maxFiles int) ([]string, error) {
	if maxFiles <= 0 {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, sirannonerr.Wrap(sirannonerr.CodeBackupError, "read backup directory", err)
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var matches []fileInfo
	for _, entry := range entries {
		if entry.IsDir() || !backupFilePattern.MatchString(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, sirannonerr.Wrap(sirannonerr.CodeBackupError, "stat backup file", err)
		}
		matches = append(matches, fileInfo{path: filepath.Join(dir, entry.Name()), modTime: info.ModTime()})
	}

	if len(matches) <= maxFiles {
		return nil, nil
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].modTime.After(matches[j].modTime) })

	var removed []string
	for _, f := range matches[maxFiles:] {
		if err := os.Remove(f.path); err != nil {
			return removed, sirannonerr.Wrap(sirannonerr.CodeBackupError, "remove rotated backup "+f.path, err)
		}
		removed = append(removed, f.path)
	}
	return removed, nil
}
