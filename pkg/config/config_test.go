package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "~/.hivecore", cfg.DataDir)
	assert.Equal(t, 0.8, cfg.Router.MinSuccessRate)
	assert.Equal(t, 0.9, cfg.Router.BalancedMinSuccessRate)
	assert.Equal(t, 3, cfg.Router.MinSampleSize)
	assert.Equal(t, 24, cfg.Router.StatsHoursBack)
	assert.Equal(t, 2, cfg.Executor.MaxRetries)
	assert.Equal(t, 4000, cfg.Executor.MaxContextChars)
	assert.Equal(t, 1000, cfg.Executor.DepResultChars)
	assert.False(t, cfg.SkipSmokeTest)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, "~/.hivecore", cfg.DataDir)
}

func TestLoadConfigFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"data_dir": "/tmp/hc",
		"router": {"min_sample_size": 10},
		"pricing": {"gpt-5.3-codex": {"input_per_million": 6, "output_per_million": 18}}
	}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/hc", cfg.DataDir)
	assert.Equal(t, 10, cfg.Router.MinSampleSize)
	// Untouched fields keep their defaults.
	assert.Equal(t, 0.8, cfg.Router.MinSuccessRate)
	assert.Equal(t, 6.0, cfg.Pricing["gpt-5.3-codex"].InputPerMillion)
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"data_dir": "/from-file"}`), 0o644))

	t.Setenv("HIVECORE_DATA_DIR", "/from-env")
	t.Setenv("SKIP_SMOKE_TEST", "true")
	t.Setenv("HIVECORE_ROUTER_MIN_SAMPLE_SIZE", "7")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/from-env", cfg.DataDir)
	assert.True(t, cfg.SkipSmokeTest)
	assert.Equal(t, 7, cfg.Router.MinSampleSize)
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data"
	cfg.AuthFile = "/data/auth.json"
	assert.Equal(t, "/data/llm_calls.db", cfg.CallLogPath())
	assert.Equal(t, filepath.Join("/data", "swarm.db"), cfg.SwarmPath())
	assert.Equal(t, "/data/auth.json", cfg.AuthFilePath())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".hivecore"), expandHome("~/.hivecore"))
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
	assert.Equal(t, "", expandHome(""))
	assert.Equal(t, home, expandHome("~"))
}
