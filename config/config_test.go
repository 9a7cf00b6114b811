package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanet/tnengine/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, config.BackendHost, cfg.Backend)
	assert.Equal(t, config.LogInfo, cfg.LogLevel)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("TN_BACKEND", "cuquantum")
	t.Setenv("TN_LOG_LEVEL", "debug")
	t.Setenv("TN_FAST_MATH", "true")

	cfg, err := config.LoadFromEnv(config.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, config.BackendCuQuantum, cfg.Backend)
	assert.Equal(t, config.LogDebug, cfg.LogLevel)
	assert.True(t, cfg.FastMath)
}

func TestLoadFromEnvRejectsBadLogLevel(t *testing.T) {
	t.Setenv("TN_LOG_LEVEL", "not-a-level")
	_, err := config.LoadFromEnv(config.DefaultConfig())
	assert.Error(t, err)
}

func TestLoadFromFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tn.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: cuquantum\nlog_level: trace\n"), 0o644))

	cfg, err := config.LoadFromFile(config.DefaultConfig(), path)
	require.NoError(t, err)
	assert.Equal(t, config.Backend("cuquantum"), cfg.Backend)
	assert.Equal(t, config.LogTrace, cfg.LogLevel)
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Backend, cfg.Backend)
}

func TestNewLoggerBuilds(t *testing.T) {
	logger, err := config.NewLogger(config.DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Infow("test message", "k", "v")
}
