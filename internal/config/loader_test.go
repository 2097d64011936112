package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Load(t *testing.T) {
	t.Run("missing file yields defaults under the config directory", func(t *testing.T) {
		dir := t.TempDir()
		configPath := filepath.Join(dir, "passivebridge.json")

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, DefaultConfig().Gateway.Port, cfg.Gateway.Port)
		assert.Equal(t, dir, cfg.DataDir)
		assert.Equal(t, filepath.Join(dir, "passivebridge.log"), cfg.Logging.File)
		assert.Equal(t, filepath.Join(dir, "host.db"), cfg.Host.DatabasePath)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		dir := t.TempDir()
		configPath := filepath.Join(dir, "passivebridge.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{
			"gateway": {"port": 9000, "shared_secret": "from-file-secret"},
			"logging": {"level": "debug"},
			"host": {
				"upload_schedule": "@every 1m",
				"plugins": [{"name": "phone_sensor", "enabled": true, "topics": ["acc"]}]
			},
			"data_dir": "`+filepath.ToSlash(dir)+`/data"
		}`), 0644))

		cfg, err := Load(configPath)
		require.NoError(t, err)

		assert.Equal(t, 9000, cfg.Gateway.Port)
		assert.Equal(t, "127.0.0.1", cfg.Gateway.Host)
		assert.Equal(t, "from-file-secret", cfg.Gateway.SharedSecret)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "@every 1m", cfg.Host.UploadSchedule)
		require.Len(t, cfg.Host.Plugins, 1)
		assert.Equal(t, []string{"acc"}, cfg.Host.Plugins[0].Topics)
		assert.NotEmpty(t, cfg.Host.Requesters)
		assert.Equal(t, filepath.Join(dir, "data", "host.db"), cfg.Host.DatabasePath)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		dir := t.TempDir()
		configPath := filepath.Join(dir, "passivebridge.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"gateway":{"shared_secret":"from-file-secret"}}`), 0644))
		t.Setenv("PASSIVEBRIDGE_GATEWAY_SHARED_SECRET", "from-env-secret")
		t.Setenv("PASSIVEBRIDGE_GATEWAY_PORT", "9100")

		cfg, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, "from-env-secret", cfg.Gateway.SharedSecret)
		assert.Equal(t, 9100, cfg.Gateway.Port)
	})

	t.Run("malformed file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "passivebridge.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"gateway":`), 0644))

		_, err := Load(configPath)
		assert.ErrorContains(t, err, "failed to read config file")
	})
}

func TestLoader_SaveRoundTrip(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "passivebridge.json")
	loader := NewLoader(configPath)

	cfg := validConfig()
	cfg.Gateway.Port = 9200
	cfg.Host.Plugins = cfg.Host.Plugins[:1]
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 9200, loaded.Gateway.Port)
	assert.Equal(t, cfg.Gateway.SharedSecret, loaded.Gateway.SharedSecret)
	assert.Equal(t, cfg.Host.Plugins, loaded.Host.Plugins)
	assert.NoError(t, loaded.Validate())
}

func TestLoader_GetConfigPath(t *testing.T) {
	assert.Equal(t, "/etc/pb.json", NewLoader("/etc/pb.json").GetConfigPath())
	assert.Equal(t, DefaultPath(), NewLoader("").GetConfigPath())
}
