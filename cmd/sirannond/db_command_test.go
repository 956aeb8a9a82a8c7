package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetcorp/sirannon/internal/pool"
)

func TestDBListCommandFindsDatabaseFiles(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"tenant-a.db", "tenant-b.db"} {
		p, err := pool.Open(context.Background(), pool.Options{Path: filepath.Join(dir, name), ReadPoolSize: 1, WALMode: true})
		require.NoError(t, err)
		require.NoError(t, p.Close())
	}

	output := mustRunCommand(t, runDBListCommand(), "--data-dir", dir)
	assert.Contains(t, output, "tenant-a")
	assert.Contains(t, output, "tenant-b")
}

func TestDBVacuumCommandRunsAgainstNamedFile(t *testing.T) {
	dir := t.TempDir()
	p, err := pool.Open(context.Background(), pool.Options{Path: filepath.Join(dir, "tenant-a.db"), ReadPoolSize: 1, WALMode: true})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	output := mustRunCommand(t, runDBVacuumCommand(), "--data-dir", dir, "tenant-a")
	assert.Contains(t, output, "Vacuumed tenant-a")
}
