package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/assetcorp/sirannon/internal/pool"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T) (*pool.ConnectionPool, *pool.Conn, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "source.db")
	p, err := pool.Open(context.Background(), pool.Options{Path: dbPath, ReadPoolSize: 1, WALMode: true})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	writer, err := p.AcquireWriter()
	require.NoError(t, err)
	_, err = writer.Execute(context.Background(), "CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)", nil)
	require.NoError(t, err)
	_, err = writer.Execute(context.Background(), "INSERT INTO t (v) VALUES (?)", []any{"hello"})
	require.NoError(t, err)

	return p, writer, dbPath
}

func TestBackupCreatesCopy(t *testing.T) {
	_, writer, srcPath := newTestWriter(t)
	mgr := NewManager(srcPath)

	destDir := t.TempDir()
	dest := filepath.Join(destDir, mgr.GenerateFilename())

	err := mgr.Backup(context.Background(), writer, dest)
	require.NoError(t, err)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestBackupRefusesExistingDestination(t *testing.T) {
	_, writer, srcPath := newTestWriter(t)
	mgr := NewManager(srcPath)

	destDir := t.TempDir()
	dest := filepath.Join(destDir, "existing.db")
	require.NoError(t, os.WriteFile(dest, []byte("x"), 0o644))

	err := mgr.Backup(context.Background(), writer, dest)
	require.Error(t, err)
}

func TestBackupRefusesSourcePath(t *testing.T) {
	_, writer, srcPath := newTestWriter(t)
	mgr := NewManager(srcPath)

	err := mgr.Backup(context.Background(), writer, srcPath)
	require.Error(t, err)
}

func TestGenerateFilenameHasNoColonsOrExtraDots(t *testing.T) {
	mgr := NewManager("/tmp/source.db")
	name := mgr.GenerateFilename()
	require.True(t, len(name) > len("backup-.db"))
	require.NotContains(t, name[:len(name)-3], ".")
	require.NotContains(t, name, ":")
}

func TestRotateKeepsNewestAndIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager("/tmp/source.db")

	names := []string{"backup-a.db", "backup-b.db", "backup-c.db", "notabackup.txt"}
	for i, n := range names {
		path := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		modTime := time.Now().Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, modTime, modTime))
	}

	removed, err := mgr.Rotate(dir, 2)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	require.Contains(t, removed[0], "backup-a.db")

	_, err = os.Stat(filepath.Join(dir, "notabackup.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "backup-c.db"))
	require.NoError(t, err)
}

func TestRotateNoopWhenMaxFilesNonPositive(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager("/tmp/source.db")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup-a.db"), []byte("x"), 0o644))

	removed, err := mgr.Rotate(dir, 0)
	require.NoError(t, err)
	require.Nil(t, removed)
}

func TestRotateNoopWhenDirMissing(t *testing.T) {
	mgr := NewManager("/tmp/source.db")
	removed, err := mgr.Rotate("/nonexistent/path/xyz", 2)
	require.NoError(t, err)
	require.Nil(t, removed)
}

func TestScheduleRejectsInvalidCron(t *testing.T) {
	_, writer, srcPath := newTestWriter(t)
	mgr := NewManager(srcPath)
	sched := NewScheduler(mgr)

	_, err := sched.Schedule(writer, ScheduleOptions{Cron: "not a cron string", DestDir: t.TempDir()})
	require.Error(t, err)
}

func TestScheduleStartsAndCancels(t *testing.T) {
	_, writer, srcPath := newTestWriter(t)
	mgr := NewManager(srcPath)
	sched := NewScheduler(mgr)

	cancel, err := sched.Schedule(writer, ScheduleOptions{Cron: "@every 1h", DestDir: t.TempDir()})
	require.NoError(t, err)
	require.NotNil(t, cancel)
	cancel()
}
