package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Gateway.SharedSecret = "0123456789abcdef"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1", cfg.Gateway.Host)
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, 30*time.Second, cfg.Gateway.TickInterval())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "@every 10s", cfg.Host.UploadSchedule)
	assert.Equal(t, 200*time.Millisecond, cfg.Host.BindDelay())
	assert.Contains(t, cfg.Bridge.BluetoothPermissions, "android.permission.BLUETOOTH_SCAN")
	assert.Len(t, cfg.Host.Plugins, 3)

	// a default config lacks only the secret
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shared_secret is required")
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("joins every problem", func(t *testing.T) {
		cfg := validConfig()
		cfg.Gateway.Port = 70000
		cfg.Logging.Level = "verbose"
		cfg.Host.UploadSchedule = "every so often"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "port must be between")
		assert.Contains(t, err.Error(), "invalid log level")
		assert.Contains(t, err.Error(), "invalid upload_schedule")
	})
}

func TestConfig_Plugin(t *testing.T) {
	cfg := DefaultConfig()

	p, ok := cfg.Plugin("empatica_e4")
	require.True(t, ok)
	assert.Equal(t, "Empatica E4", p.SourceName)

	_, ok = cfg.Plugin("missing")
	assert.False(t, ok)
}

func TestConfig_StringMasksSecret(t *testing.T) {
	cfg := validConfig()

	s := cfg.String()
	assert.NotContains(t, s, "0123456789abcdef")
	assert.Contains(t, s, `"shared_secret": "***"`)
	assert.Equal(t, "0123456789abcdef", cfg.Gateway.SharedSecret)
}
