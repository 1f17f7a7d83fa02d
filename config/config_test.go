package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp runs the test from an empty directory so no config.yaml is found.
func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestNewConfig_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := NewConfig()

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "./data/policies.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, "@daily", cfg.Sweep.Schedule)
	assert.False(t, cfg.Seed.OnStart)
}

func TestNewConfig_EnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("POLICYACCT_SERVER_PORT", "9090")
	t.Setenv("POLICYACCT_AUDIT_ENABLED", "false")
	t.Setenv("POLICYACCT_SEED_ON_START", "true")

	cfg, err := NewConfig()

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.False(t, cfg.Audit.Enabled)
	assert.True(t, cfg.Seed.OnStart)
}

func TestNewConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 7000
database:
  path: /tmp/test.db
logging:
  level: debug
sweep:
  schedule: "0 6 * * *"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := NewConfigFromFile(path)

	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "0 6 * * *", cfg.Sweep.Schedule)
	assert.Equal(t, "./Logs", cfg.Audit.Dir, "unset keys keep defaults")
}

func TestNewConfig_InvalidLevelRejected(t *testing.T) {
	chdirTemp(t)
	t.Setenv("POLICYACCT_LOGGING_LEVEL", "verbose")

	_, err := NewConfig()

	assert.Error(t, err)
}

func TestNewConfigFromFile_Missing(t *testing.T) {
	_, err := NewConfigFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
