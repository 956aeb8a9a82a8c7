package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/assetcorp/sirannon/internal/sirannonerr"
	"github.com/stretchr/testify/require"
)

func TestOpenAndGet(t *testing.T) {
	dir := t.TempDir()
	s := New(nil, nil)

	db, err := s.Open(context.Background(), "tenant-a", filepath.Join(dir, "a.db"), OpenOptions{ReadPoolSize: 1, WALMode: true})
	require.NoError(t, err)
	require.Equal(t, "tenant-a", db.ID())

	got, err := s.Get(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.Same(t, db, got)
}

func TestOpenDuplicateFails(t *testing.T) {
	dir := t.TempDir()
	s := New(nil, nil)
	_, err := s.Open(context.Background(), "tenant-a", filepath.Join(dir, "a.db"), OpenOptions{ReadPoolSize: 1})
	require.NoError(t, err)

	_, err = s.Open(context.Background(), "tenant-a", filepath.Join(dir, "a.db"), OpenOptions{ReadPoolSize: 1})
	require.True(t, sirannonerr.HasCode(err, sirannonerr.CodeDatabaseAlreadyExists))
}

func TestCloseRemovesFromRegistry(t *testing.T) {
	dir := t.TempDir()
	s := New(nil, nil)
	_, err := s.Open(context.Background(), "tenant-a", filepath.Join(dir, "a.db"), OpenOptions{ReadPoolSize: 1})
	require.NoError(t, err)

	require.NoError(t, s.Close("tenant-a"))

	_, err = s.Get(context.Background(), "tenant-a")
	require.True(t, sirannonerr.HasCode(err, sirannonerr.CodeDatabaseNotFound))
}

func TestShutdownClosesAllAndBlocksFurtherUse(t *testing.T) {
	dir := t.TempDir()
	s := New(nil, nil)
	_, err := s.Open(context.Background(), "tenant-a", filepath.Join(dir, "a.db"), OpenOptions{ReadPoolSize: 1})
	require.NoError(t, err)

	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, s.Shutdown(context.Background())) // idempotent

	_, err = s.Open(context.Background(), "tenant-b", filepath.Join(dir, "b.db"), OpenOptions{ReadPoolSize: 1})
	require.True(t, sirannonerr.HasCode(err, sirannonerr.CodeShutdown))
}

func TestValidTenantID(t *testing.T) {
	require.True(t, ValidTenantID("acme"))
	require.True(t, ValidTenantID("acme-01_x"))
	require.False(t, ValidTenantID(""))
	require.False(t, ValidTenantID("-acme"))
	require.False(t, ValidTenantID("acme corp"))
}

func TestTenantPathRejectsOverlongFilename(t *testing.T) {
	longID := ""
	for i := 0; i < 260; i++ {
		longID += "a"
	}
	_, ok := TenantPath("/data", longID, ".db")
	require.False(t, ok)
}

func TestTenantPathJoinsBaseAndExtension(t *testing.T) {
	path, ok := TenantPath("/data", "acme", ".db")
	require.True(t, ok)
	require.Equal(t, filepath.Join("/data", "acme.db"), path)
}

func TestGetAutoOpensViaResolver(t *testing.T) {
	dir := t.TempDir()
	s := New(nil, nil)
	resolver := CreateTenantResolver(CreateTenantResolverOptions{
		BasePath:       dir,
		DefaultOptions: OpenOptions{ReadPoolSize: 1, WALMode: true},
	})
	lm := NewLifecycleManager(LifecycleConfig{MaxOpen: -1, Resolver: resolver}, s.LifecycleCallbacks())
	s.SetLifecycle(lm)

	db, err := s.Get(context.Background(), "acme")
	require.NoError(t, err)
	require.Equal(t, "acme", db.ID())
}

func TestGetResolverRejectsInvalidID(t *testing.T) {
	dir := t.TempDir()
	s := New(nil, nil)
	resolver := CreateTenantResolver(CreateTenantResolverOptions{BasePath: dir})
	lm := NewLifecycleManager(LifecycleConfig{MaxOpen: -1, Resolver: resolver}, s.LifecycleCallbacks())
	s.SetLifecycle(lm)

	_, err := s.Get(context.Background(), "not valid!")
	require.True(t, sirannonerr.HasCode(err, sirannonerr.CodeDatabaseNotFound))
}

func TestMaxOpenTriggersEviction(t *testing.T) {
	dir := t.TempDir()
	s := New(nil, nil)
	resolver := CreateTenantResolver(CreateTenantResolverOptions{
		BasePath:       dir,
		DefaultOptions: OpenOptions{ReadPoolSize: 1, WALMode: true},
	})
	lm := NewLifecycleManager(LifecycleConfig{MaxOpen: 1, Resolver: resolver}, s.LifecycleCallbacks())
	s.SetLifecycle(lm)

	first, err := s.Get(context.Background(), "tenant1")
	require.NoError(t, err)
	require.False(t, first.Closed())

	_, err = s.Get(context.Background(), "tenant2")
	require.NoError(t, err)

	// tenant1 should have been evicted to make room for tenant2.
	time.Sleep(10 * time.Millisecond)
	require.True(t, first.Closed())
}
