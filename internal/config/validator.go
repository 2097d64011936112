package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// scheduleParser accepts the same specs as the host's upload scheduler.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validator validates configuration values
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePort accepts 0 (pick a free port) through 65535.
func (v *Validator) ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("gateway port must be between 0 and 65535, got %d", port)
	}
	return nil
}

// ValidateSharedSecret requires a secret of at least 8 characters.
func (v *Validator) ValidateSharedSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("gateway shared_secret is required")
	}
	if len(secret) < 8 {
		return fmt.Errorf("gateway shared_secret must be at least 8 characters")
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSchedule checks a cron spec or descriptor such as "@every 10s".
func (v *Validator) ValidateSchedule(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return fmt.Errorf("host upload_schedule is required")
	}
	if _, err := scheduleParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid upload_schedule %q: %w", spec, err)
	}
	return nil
}

// ValidatePlugins requires unique non-empty plugin names.
func (v *Validator) ValidatePlugins(plugins []PluginConfig) []error {
	var errs []error
	seen := make(map[string]bool, len(plugins))
	for i, p := range plugins {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("plugin %d: name is required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("plugin %s: duplicate name", name))
		}
		seen[name] = true
		for _, topic := range p.Topics {
			if strings.TrimSpace(topic) == "" {
				errs = append(errs, fmt.Errorf("plugin %s: empty topic", name))
				break
			}
		}
	}
	return errs
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidatePort(cfg.Gateway.Port); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateSharedSecret(cfg.Gateway.SharedSecret); err != nil {
		errs = append(errs, err)
	}
	if cfg.Gateway.TickIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("gateway tick_interval_seconds must be >= 0"))
	}
	if cfg.Gateway.MaxAuthAttempts < 0 {
		errs = append(errs, fmt.Errorf("gateway max_auth_attempts must be >= 0"))
	}
	if cfg.Gateway.RequestsPerMinute < 0 || cfg.Gateway.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("gateway rate limits must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if cfg.Logging.MaxSize < 0 || cfg.Logging.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("logging max_size and max_age must be >= 0"))
	}

	if err := v.ValidateSchedule(cfg.Host.UploadSchedule); err != nil {
		errs = append(errs, err)
	}
	if cfg.Host.BindDelayMs < 0 {
		errs = append(errs, fmt.Errorf("host bind_delay_ms must be >= 0"))
	}
	if cfg.Host.RecordsPerCycle < 0 {
		errs = append(errs, fmt.Errorf("host records_per_cycle must be >= 0"))
	}
	errs = append(errs, v.ValidatePlugins(cfg.Host.Plugins)...)

	for i, r := range cfg.Host.Requesters {
		if len(r.Permissions) == 0 {
			errs = append(errs, fmt.Errorf("requester %d: permissions are required", i))
		}
	}

	return errs
}
