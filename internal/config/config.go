package config

import (
	"encoding/json"
	"errors"
	"time"
)

// Config is the passivebridge daemon configuration.
type Config struct {
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Bridge  BridgeConfig  `json:"bridge" mapstructure:"bridge"`
	Host    HostConfig    `json:"host" mapstructure:"host"`

	// DataDir holds the PID file, the log and the host database.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Host                string `json:"host" mapstructure:"host"`
	Port                int    `json:"port" mapstructure:"port"`
	SharedSecret        string `json:"shared_secret" mapstructure:"shared_secret"`
	TickIntervalSeconds int    `json:"tick_interval_seconds" mapstructure:"tick_interval_seconds"`
	MaxAuthAttempts     int    `json:"max_auth_attempts" mapstructure:"max_auth_attempts"`
	RequestsPerMinute   int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent       int    `json:"max_concurrent" mapstructure:"max_concurrent"`
}

// TickInterval returns the lifecycle tick period.
func (g GatewayConfig) TickInterval() time.Duration {
	return time.Duration(g.TickIntervalSeconds) * time.Second
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	Console   bool   `json:"console" mapstructure:"console"`
}

// BridgeConfig holds the process-wide permission sets.
type BridgeConfig struct {
	BluetoothPermissions []string `json:"bluetooth_permissions" mapstructure:"bluetooth_permissions"`
}

// HostConfig describes the in-process session host.
type HostConfig struct {
	DatabasePath       string            `json:"database_path" mapstructure:"database_path"`
	UploadSchedule     string            `json:"upload_schedule" mapstructure:"upload_schedule"`
	BindDelayMs        int               `json:"bind_delay_ms" mapstructure:"bind_delay_ms"`
	RecordsPerCycle    int               `json:"records_per_cycle" mapstructure:"records_per_cycle"`
	ServicePermissions []string          `json:"service_permissions" mapstructure:"service_permissions"`
	Plugins            []PluginConfig    `json:"plugins" mapstructure:"plugins"`
	Requesters         []RequesterConfig `json:"requesters" mapstructure:"requesters"`
}

// BindDelay returns the simulated service bind latency.
func (h HostConfig) BindDelay() time.Duration {
	return time.Duration(h.BindDelayMs) * time.Millisecond
}

// PluginConfig is one source provider.
type PluginConfig struct {
	Name                 string   `json:"name" mapstructure:"name"`
	Enabled              bool     `json:"enabled" mapstructure:"enabled"`
	SourceName           string   `json:"source_name" mapstructure:"source_name"`
	Topics               []string `json:"topics" mapstructure:"topics"`
	PermissionsNeeded    []string `json:"permissions_needed" mapstructure:"permissions_needed"`
	PermissionsRequested []string `json:"permissions_requested" mapstructure:"permissions_requested"`
}

// RequesterConfig is one permission prompt provider.
type RequesterConfig struct {
	Permissions []string `json:"permissions" mapstructure:"permissions"`
	AutoGrant   bool     `json:"auto_grant" mapstructure:"auto_grant"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:                "127.0.0.1",
			Port:                18790,
			TickIntervalSeconds: 30,
			MaxAuthAttempts:     3,
			RequestsPerMinute:   120,
			MaxConcurrent:       16,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   50,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
			Console:   true,
		},
		Bridge: BridgeConfig{
			BluetoothPermissions: []string{
				"android.permission.BLUETOOTH",
				"android.permission.BLUETOOTH_ADMIN",
				"android.permission.BLUETOOTH_SCAN",
				"android.permission.BLUETOOTH_CONNECT",
			},
		},
		Host: HostConfig{
			UploadSchedule:  "@every 10s",
			BindDelayMs:     200,
			RecordsPerCycle: 5,
			ServicePermissions: []string{
				"android.permission.ACCESS_NETWORK_STATE",
			},
			Plugins: []PluginConfig{
				{
					Name:       "phone_sensor",
					Enabled:    true,
					SourceName: "Phone",
					Topics:     []string{"android_phone_acceleration", "android_phone_battery_level"},
				},
				{
					Name:              "empatica_e4",
					Enabled:           true,
					SourceName:        "Empatica E4",
					Topics:            []string{"android_empatica_e4_blood_volume_pulse"},
					PermissionsNeeded: []string{"android.permission.BLUETOOTH_SCAN", "android.permission.ACCESS_FINE_LOCATION"},
				},
				{
					Name:    "audio",
					Enabled: false,
					Topics:  []string{"android_processed_audio"},
					PermissionsNeeded: []string{
						"android.permission.RECORD_AUDIO",
					},
				},
			},
			Requesters: []RequesterConfig{
				{
					Permissions: []string{
						"android.permission.BLUETOOTH_SCAN",
						"android.permission.ACCESS_FINE_LOCATION",
						"android.permission.RECORD_AUDIO",
					},
					AutoGrant: true,
				},
			},
		},
	}
}

// Plugin returns the plugin named name.
func (c *Config) Plugin(name string) (PluginConfig, bool) {
	for _, p := range c.Host.Plugins {
		if p.Name == name {
			return p, true
		}
	}
	return PluginConfig{}, false
}

// String returns a JSON representation of the config with the shared secret
// masked.
func (c *Config) String() string {
	masked := *c
	if masked.Gateway.SharedSecret != "" {
		masked.Gateway.SharedSecret = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate runs the Validator and joins every problem found.
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
