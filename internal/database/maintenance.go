package database

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/assetcorp/sirannon/internal/backup"
	"github.com/assetcorp/sirannon/internal/migration"
	"github.com/assetcorp/sirannon/internal/sirannonerr"
)

// Migrate applies pending migrations from dir — spec §4.9, §4.6.
func (d *Database) Migrate(ctx context.Context, dir string) (migration.Result, error) {
	if err := d.checkOpen(); err != nil {
		return migration.Result{}, err
	}
	return d.migrations.Migrate(ctx, dir)
}

// Backup copies this database to dest — spec §4.9, §4.7.
func (d *Database) Backup(ctx context.Context, dest string) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	writer, err := d.pool.AcquireWriter()
	if err != nil {
		return err
	}
	return d.backupMgr.Backup(ctx, writer, dest)
}

// ScheduleBackupOptions configures a recurring backup — spec §4.9, §4.7.
type ScheduleBackupOptions struct {
	Cron     string
	DestDir  string
	MaxFiles int
	OnError  func(error)
}

// ScheduleBackup registers a cron-driven recurring backup and returns a
// cancel function.
func (d *Database) ScheduleBackup(opts ScheduleBackupOptions) (cancel func(), err error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	writer, err := d.pool.AcquireWriter()
	if err != nil {
		return nil, err
	}

	scheduler := backup.NewScheduler(d.backupMgr)
	cancelFn, err := scheduler.Schedule(writer, backup.ScheduleOptions{
		Cron: opts.Cron, DestDir: opts.DestDir, MaxFiles: opts.MaxFiles, OnError: opts.OnError,
	})
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.backupCancels = append(d.backupCancels, cancelFn)
	d.mu.Unlock()

	return cancelFn, nil
}

// LoadExtension validates path and asks the writer connection's engine to
// load it — spec §4.9. Rejects empty paths, paths containing null bytes,
// and paths with ".." segments; resolves to an absolute path; surfaces
// engine failures as EXTENSION_ERROR.
func (d *Database) LoadExtension(ctx context.Context, path string) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if strings.TrimSpace(path) == "" {
		return sirannonerr.New(sirannonerr.CodeExtensionError, "extension path must not be empty")
	}
	if strings.ContainsRune(path, 0) {
		return sirannonerr.New(sirannonerr.CodeExtensionError, "extension path must not contain null bytes")
	}
	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == ".." {
			return sirannonerr.New(sirannonerr.CodeExtensionError, "extension path must not contain .. segments")
		}
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return sirannonerr.Wrap(sirannonerr.CodeExtensionError, "resolve extension path", err)
	}

	writer, err := d.pool.AcquireWriter()
	if err != nil {
		return err
	}
	if _, err := writer.Query(ctx, "SELECT load_extension(?)", []any{absPath}); err != nil {
		return sirannonerr.Wrap(sirannonerr.CodeExtensionError, "load extension "+absPath, err)
	}
	return nil
}
