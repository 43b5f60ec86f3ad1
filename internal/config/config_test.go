package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/serpent/internal/interp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := Default()
	assert.Equal(t, interp.DefaultInterval, cfg.Interval)
	assert.Equal(t, interp.DefaultMaxDepth, cfg.MaxDepth)
	assert.Equal(t, 3*time.Second, cfg.Interval)
	assert.Zero(t, cfg.KeepRuns)
	assert.Empty(t, cfg.Database)
}

func TestLoad_AllFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
source: deploy.py
interval: 500ms
database: /var/lib/serpent.db
scripts: scripts
listen: 127.0.0.1:8080
max_depth: 50
keep_runs: 100
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, filepath.Join(dir, "deploy.py"), cfg.Source)
	assert.Equal(t, 500*time.Millisecond, cfg.Interval)
	assert.Equal(t, "/var/lib/serpent.db", cfg.Database)
	assert.Equal(t, filepath.Join(dir, "scripts"), cfg.Scripts)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, 50, cfg.MaxDepth)
	assert.Equal(t, 100, cfg.KeepRuns)
}

func TestLoad_EmptyFileIsDefault(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, interp.DefaultInterval, cfg.Interval)
	assert.Equal(t, interp.DefaultMaxDepth, cfg.MaxDepth)
	assert.Equal(t, 3*time.Second, cfg.Interval)
}

func TestLoad_UnknownKey(t *testing.T) {
	t.Parallel()
	_, err := Load(writeConfig(t, "sauce: main.py\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sauce")
}

func TestLoad_ValidationCollectsIssues(t *testing.T) {
	t.Parallel()
	_, err := Load(writeConfig(t, "interval: soon\nmax_depth: 0\nkeep_runs: -1\n"))
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Issues, 3)
	assert.Contains(t, err.Error(), "max_depth must be positive")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load("")
	assert.Error(t, err)
}

func TestFind(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	assert.Empty(t, Find(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), nil, 0644))
	assert.Equal(t, filepath.Join(dir, DefaultFile), Find(dir))
}
