package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	t.Setenv("QUICKCHAT_CONFIG", "")
	flags := parseFlags([]string{"--config", "/etc/qc.yaml", "--env=production", "top", "--api", "http://x:1", "regions"})
	assert.Equal(t, "/etc/qc.yaml", flags.Config)
	assert.Equal(t, "production", flags.Env)
	assert.Equal(t, "http://x:1", flags.API)
	assert.Equal(t, []string{"top", "regions"}, flags.Args)
}

func TestParseFlagsDefaultsConfigPath(t *testing.T) {
	t.Setenv("QUICKCHAT_CONFIG", "")
	assert.Equal(t, "config.yaml", parseFlags(nil).Config)

	t.Setenv("QUICKCHAT_CONFIG", "/srv/quickchat.yaml")
	assert.Equal(t, "/srv/quickchat.yaml", parseFlags(nil).Config)
}

func TestLocalURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8000", localURL(":8000"))
	assert.Equal(t, "http://localhost:9000", localURL("0.0.0.0:9000"))
	assert.Equal(t, "http://127.0.0.1:9000", localURL("127.0.0.1:9000"))
	assert.Equal(t, "http://localhost:8000", localURL("garbage"))
}

func TestLoadConfigAPIFlagOverrides(t *testing.T) {
	t.Setenv("QUICKCHAT_ENV", "")
	t.Setenv("QUICKCHAT_API_BASE_URL", "")
	path := filepath.Join(t.TempDir(), "missing.yaml")

	cfg, err := loadConfig(cliFlags{Config: path, API: "http://backend.internal:8080/"})
	require.NoError(t, err)
	assert.Equal(t, "http://backend.internal:8080", cfg.BaseURL())
}

func TestLoadConfigEnvFlagSelectsDefaultURL(t *testing.T) {
	t.Setenv("QUICKCHAT_ENV", "")
	t.Setenv("QUICKCHAT_API_BASE_URL", "")
	path := filepath.Join(t.TempDir(), "missing.yaml")

	cfg, err := loadConfig(cliFlags{Config: path, Env: "production"})
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "https://api.yourdomain.com", cfg.BaseURL())
}

func TestTUILogOutputLeavesFilesAlone(t *testing.T) {
	cfg, err := loadConfig(cliFlags{Config: filepath.Join(t.TempDir(), "missing.yaml")})
	require.NoError(t, err)

	tuiLogOutput(cfg)
	assert.Equal(t, filepath.Join(os.TempDir(), "quickchat.log"), cfg.Logger.Output)

	cfg.Logger.Output = "/var/log/qc.log"
	tuiLogOutput(cfg)
	assert.Equal(t, "/var/log/qc.log", cfg.Logger.Output)
}
