package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrDefault_NoFile_ReturnsDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadOrDefault(filepath.Join(dir, "missing.toml"), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_OverridesOnlySpecifiedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := `
[upload]
chunk_size_bytes = 4194304
provider = "gcs"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(4194304), cfg.Upload.ChunkSizeBytes)
	assert.Equal(t, "gcs", cfg.Upload.Provider)
	// Unspecified keys keep their defaults.
	assert.Equal(t, DefaultConcurrency, cfg.Upload.Concurrency)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
}

func TestValidate_RejectsBadProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Upload.Provider = "dropbox"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload.provider")
}

func TestValidate_RejectsZeroConcurrency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Upload.Concurrency = 0

	err := Validate(cfg)
	require.Error(t, err)
}

func TestWrite_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := DefaultConfig()
	cfg.Upload.ChunkSizeBytes = 1 << 20
	cfg.Log.Level = "debug"

	require.NoError(t, Write(path, cfg))

	loaded, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), loaded.Upload.ChunkSizeBytes)
	assert.Equal(t, "debug", loaded.Log.Level)
}

func TestHolder_UpdateIsVisibleToReaders(t *testing.T) {
	h := NewHolder(DefaultConfig(), "/tmp/config.toml")
	assert.Equal(t, "/tmp/config.toml", h.Path())

	updated := DefaultConfig()
	updated.Upload.Concurrency = 16
	h.Update(updated)

	assert.Equal(t, 16, h.Config().Upload.Concurrency)
}
