package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes environment overrides, e.g.
	// PASSIVEBRIDGE_GATEWAY_SHARED_SECRET.
	EnvPrefix = "PASSIVEBRIDGE"

	defaultDirName  = ".passivebridge"
	defaultFileName = "passivebridge.json"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// DefaultPath returns ~/.passivebridge/passivebridge.json.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultDirName, defaultFileName)
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	return DefaultPath()
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper knows about.
	defaults := DefaultConfig()
	v.SetDefault("gateway.host", defaults.Gateway.Host)
	v.SetDefault("gateway.port", defaults.Gateway.Port)
	v.SetDefault("gateway.shared_secret", defaults.Gateway.SharedSecret)
	v.SetDefault("gateway.tick_interval_seconds", defaults.Gateway.TickIntervalSeconds)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.file", defaults.Logging.File)
	v.SetDefault("host.database_path", defaults.Host.DatabasePath)
	v.SetDefault("host.upload_schedule", defaults.Host.UploadSchedule)
	v.SetDefault("data_dir", defaults.DataDir)
	return v
}

// Load reads the config file, applies environment overrides and fills in
// paths under the data directory. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to determine config path")
	}

	v := newViper()
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	// Lists from the file replace the defaults instead of merging into them.
	if v.IsSet("host.plugins") {
		cfg.Host.Plugins = nil
	}
	if v.IsSet("host.requesters") {
		cfg.Host.Requesters = nil
	}
	if v.IsSet("host.service_permissions") {
		cfg.Host.ServicePermissions = nil
	}
	if v.IsSet("bridge.bluetooth_permissions") {
		cfg.Bridge.BluetoothPermissions = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(configPath)
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "passivebridge.log")
	}
	if cfg.Host.DatabasePath == "" {
		cfg.Host.DatabasePath = filepath.Join(cfg.DataDir, "host.db")
	}

	return cfg, nil
}

// Save writes cfg as JSON, creating the directory if needed.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to determine config path")
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.Set("gateway", cfg.Gateway)
	v.Set("logging", cfg.Logging)
	v.Set("bridge", cfg.Bridge)
	v.Set("host", cfg.Host)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
