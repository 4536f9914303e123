package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv() env.Options {
	return env.Options{Environment: map[string]string{}}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "goblind.json"), noEnv())
	require.NoError(t, err)

	assert.Equal(t, "node", cfg.Runtime.Command)
	assert.Equal(t, "0.1.0", cfg.Runtime.Version)
	assert.Equal(t, 10*time.Second, cfg.Runtime.ReadyTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.Stream.Interval())
	assert.Equal(t, "keyring", cfg.Vault.Backend)
	require.NotNil(t, cfg.Log)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goblind.json")
	data := `{
		"runtime": {
			"dir": "/opt/goblin-runtime",
			"command": "bun",
			"args": ["run", "bridge.ts"],
			"env": {"NODE_ENV": "production"},
			"readyTimeoutMs": 2500
		},
		"stream": {"intervalMs": 50},
		"costRates": "/etc/goblinos/rates.yaml",
		"vault": {"backend": "file", "authFile": "/tmp/auth.json"},
		"log": {"level": "debug", "format": "json"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := loadConfig(path, noEnv())
	require.NoError(t, err)

	assert.Equal(t, "/opt/goblin-runtime", cfg.Runtime.Dir)
	assert.Equal(t, "bun", cfg.Runtime.Command)
	assert.Equal(t, []string{"run", "bridge.ts"}, cfg.Runtime.Args)
	assert.Equal(t, "production", cfg.Runtime.Env["NODE_ENV"])
	assert.Equal(t, 2500*time.Millisecond, cfg.Runtime.ReadyTimeout())
	assert.Equal(t, "0.1.0", cfg.Runtime.Version, "unset fields keep defaults")
	assert.Equal(t, 50*time.Millisecond, cfg.Stream.Interval())
	assert.Equal(t, "/etc/goblinos/rates.yaml", cfg.CostRates)
	assert.Equal(t, "file", cfg.Vault.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goblind.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"runtime":{"dir":"/from/file"},"log":{"level":"warn"}}`), 0644))

	cfg, err := loadConfig(path, env.Options{Environment: map[string]string{
		"GOBLIN_RUNTIME_DIR":     "/from/env",
		"GOBLIN_PROJECT_ROOT":    "/project",
		"GOBLINOS_CONFIG":        "/project/goblins.yaml",
		"GOBLIN_RUNTIME_COMMAND": "deno",
		"GOBLIN_LOG_LEVEL":       "debug",
		"GOBLIN_COST_RATES":      "/rates.yaml",
		"GOBLIN_VAULT":           "memory",
	}})
	require.NoError(t, err)

	assert.Equal(t, "/from/env", cfg.Runtime.Dir)
	assert.Equal(t, "/project", cfg.Runtime.ProjectRoot)
	assert.Equal(t, "/project/goblins.yaml", cfg.Runtime.ConfigPath)
	assert.Equal(t, "deno", cfg.Runtime.Command)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/rates.yaml", cfg.CostRates)
	assert.Equal(t, "memory", cfg.Vault.Backend)
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goblind.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := loadConfig(path, noEnv())
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "goblind.json")
	cfg := DefaultConfig()
	cfg.Runtime.ProjectRoot = "/work/demo"
	cfg.Stream.IntervalMs = 10

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := loadConfig(path, noEnv())
	require.NoError(t, err)
	assert.Equal(t, "/work/demo", loaded.Runtime.ProjectRoot)
	assert.Equal(t, 10, loaded.Stream.IntervalMs)
}
