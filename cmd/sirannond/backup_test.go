package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetcorp/sirannon/internal/pool"
)

func TestBackupCommandCopiesDatabase(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "tenant.db")
	destPath := filepath.Join(dir, "tenant.bak.db")

	p, err := pool.Open(context.Background(), pool.Options{Path: dbPath, ReadPoolSize: 1, WALMode: true})
	require.NoError(t, err)
	writer, err := p.AcquireWriter()
	require.NoError(t, err)
	_, err = writer.Execute(context.Background(), "CREATE TABLE items (id INTEGER PRIMARY KEY)", nil)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	output := mustRunCommand(t, newBackupCommand(), dbPath, destPath)
	assert.Contains(t, output, "Backed up")

	_, err = os.Stat(destPath)
	require.NoError(t, err)
}

func TestBackupCommandRefusesExistingDestination(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "tenant.db")
	destPath := filepath.Join(dir, "tenant.bak.db")
	require.NoError(t, os.WriteFile(destPath, []byte("existing"), 0o644))

	p, err := pool.Open(context.Background(), pool.Options{Path: dbPath, ReadPoolSize: 1, WALMode: true})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	cmd := newBackupCommand()
	cmd.SetArgs([]string{dbPath, destPath})
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	err = cmd.Execute()
	require.Error(t, err)
}
