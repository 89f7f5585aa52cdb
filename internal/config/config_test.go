package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, 15*time.Second, cfg.SourcePollInterval.Duration)
	assert.Equal(t, 15*time.Second, cfg.DriftPollInterval.Duration)
	assert.Equal(t, 5*time.Minute, cfg.HealthTimeout.Duration)
	assert.Equal(t, 2*time.Second, cfg.HealthInterval.Duration)
	assert.Empty(t, cfg.Repo.URL)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `repo:
  url: https://git.test/platform
  branch: main
overlay: production
listen: ":9090"
sourcePollInterval: 30s
healthTimeout: 10m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://git.test/platform", cfg.Repo.URL)
	assert.Equal(t, "main", cfg.Repo.Branch)
	assert.Equal(t, "production", cfg.Overlay)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, 30*time.Second, cfg.SourcePollInterval.Duration)
	assert.Equal(t, 10*time.Minute, cfg.HealthTimeout.Duration)

	// untouched fields keep their defaults
	assert.Equal(t, 15*time.Second, cfg.DriftPollInterval.Duration)
	assert.Equal(t, 2*time.Second, cfg.HealthInterval.Duration)
}

func TestLoadEnvironmentCredentials(t *testing.T) {
	path := writeConfig(t, `repo:
  url: https://git.test/platform
  username: from-file
  password: from-file
`)

	t.Setenv(GitUsernameEnv, "ci-bot")
	t.Setenv(GitPasswordEnv, "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ci-bot", cfg.Repo.Username)
	assert.Equal(t, "s3cret", cfg.Repo.Password)
}

func TestLoadUnknownField(t *testing.T) {
	path := writeConfig(t, "repo:\n  url: https://git.test/platform\nbogus: value\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestReadConfigEmpty(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, ReadConfig(nil, cfg))
	assert.Equal(t, DefaultListen, cfg.Listen)
}
