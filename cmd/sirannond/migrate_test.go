package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetcorp/sirannon/internal/pool"
)

func mustRunCommand(t *testing.T, cmd *cobra.Command, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	require.NoError(t, err)
	return buf.String()
}

func TestMigrateCommandAppliesScripts(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "tenant.db")
	migrationsDir := filepath.Join(dir, "migrations")
	require.NoError(t, os.MkdirAll(migrationsDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(migrationsDir, "0001_create_items.sql"),
		[]byte("CREATE TABLE items (id INTEGER PRIMARY KEY);"),
		0o644,
	))

	output := mustRunCommand(t, newMigrateCommand(), dbPath, migrationsDir)
	assert.Contains(t, output, "Applied 1 migration(s)")
	assert.Contains(t, output, "0001_create_items")

	p, err := pool.Open(context.Background(), pool.Options{Path: dbPath, ReadPoolSize: 1, WALMode: true})
	require.NoError(t, err)
	defer p.Close()

	writer, err := p.AcquireWriter()
	require.NoError(t, err)
	_, _, err = writer.QueryOne(context.Background(), "SELECT 1 FROM items WHERE 0", nil)
	require.NoError(t, err)
}

func TestMigrateCommandIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "tenant.db")
	migrationsDir := filepath.Join(dir, "migrations")
	require.NoError(t, os.MkdirAll(migrationsDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(migrationsDir, "0001_create_items.sql"),
		[]byte("CREATE TABLE items (id INTEGER PRIMARY KEY);"),
		0o644,
	))

	mustRunCommand(t, newMigrateCommand(), dbPath, migrationsDir)
	output := mustRunCommand(t, newMigrateCommand(), dbPath, migrationsDir)
	assert.Contains(t, output, "Applied 0 migration(s), skipped 1")
}
