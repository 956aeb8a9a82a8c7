package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8089, cfg.Port)
	assert.True(t, cfg.WALMode)
	assert.Equal(t, -1, cfg.MaxOpen)
	assert.Equal(t, 50*time.Millisecond, cfg.CDCPollInterval)
	assert.Equal(t, "127.0.0.1:8089", cfg.Addr())
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("SIRANNON_PORT", "9999")
	t.Setenv("SIRANNON_DATADIR", "/tmp/sirannon-data")
	t.Setenv("SIRANNON_WALMODE", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "/tmp/sirannon-data", cfg.DataDir)
	assert.False(t, cfg.WALMode)
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sirannon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9100\nreadPoolSize: 8\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 8, cfg.ReadPoolSize)
}

func TestLoadMissingConfigFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8089, cfg.Port)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv("SIRANNON_PORT", "0")
	_, err := Load("")
	require.Error(t, err)
}

func TestValidateNormalizesNonPositivePoolSettings(t *testing.T) {
	cfg := &Config{Port: 8089, ReadPoolSize: 0, PollBatchSize: -5}
	require.NoError(t, cfg.validate())
	assert.Equal(t, 1, cfg.ReadPoolSize)
	assert.Equal(t, 1000, cfg.PollBatchSize)
}
