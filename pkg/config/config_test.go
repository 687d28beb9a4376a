package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644))
}

func TestLoadConfiguration(t *testing.T) {
	t.Run("Should return defaults without files", func(t *testing.T) {
		cfg, err := LoadConfiguration(t.TempDir())
		require.NoError(t, err)

		assert.Equal(t, 8, cfg.Parallel)
		assert.False(t, cfg.Strict)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, Default().CacheDir, cfg.CacheDir)
	})

	t.Run("Should merge files with leaf files winning", func(t *testing.T) {
		root := t.TempDir()
		leaf := filepath.Join(root, "services", "api")
		writeConfig(t, root, "parallel: 2\nlog:\n  level: debug\n  json: true\n")
		writeConfig(t, leaf, "parallel: 4\nstrict: true\n")

		cfg, err := LoadConfiguration(leaf)
		require.NoError(t, err)

		assert.Equal(t, 4, cfg.Parallel)
		assert.True(t, cfg.Strict)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.True(t, cfg.Log.JSON)
		require.Len(t, cfg.Files, 2)
		assert.Equal(t, filepath.Join(root, FileName), cfg.Files[0])
	})

	t.Run("Should let the environment override files", func(t *testing.T) {
		root := t.TempDir()
		writeConfig(t, root, "parallel: 2\ncache_dir: /from/file\n")
		t.Setenv("FBS_PARALLEL", "3")
		t.Setenv("FBS_LOG_LEVEL", "warn")
		t.Setenv("FBS_UNRELATED", "ignored")

		cfg, err := LoadConfiguration(root)
		require.NoError(t, err)

		assert.Equal(t, 3, cfg.Parallel)
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, "/from/file", cfg.CacheDir)
		assert.Equal(t, filepath.Join("/from/file", "history"), cfg.HistoryDir())
	})

	t.Run("Should reject invalid values", func(t *testing.T) {
		root := t.TempDir()
		writeConfig(t, root, "parallel: 0\n")

		_, err := LoadConfiguration(root)
		assert.Error(t, err)
	})

	t.Run("Should report malformed files", func(t *testing.T) {
		root := t.TempDir()
		writeConfig(t, root, "parallel: [unterminated\n")

		_, err := LoadConfiguration(root)
		assert.Error(t, err)
	})
}
