package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig is the full configuration surface for the cursor-runner
// Agent Execution Supervisor service (spec §6 "Configuration" table).
type ServerConfig struct {
	CursorCLIPath          string `mapstructure:"cursor_cli_path"`
	CursorCLIUsePTY        string `mapstructure:"cursor_cli_use_pty"` // "auto" | "true" | "false"
	CursorCLITimeoutMS     int    `mapstructure:"cursor_cli_timeout_ms"`
	CursorCLIIdleTimeoutMS int    `mapstructure:"cursor_cli_idle_timeout_ms"`
	CursorCLIMaxOutputSize int64  `mapstructure:"cursor_cli_max_output_size"`
	CursorCLIMaxConcurrent int    `mapstructure:"cursor_cli_max_concurrent"`
	MaxIterations          int    `mapstructure:"max_iterations"`
	WebhookSecret          string `mapstructure:"webhook_secret"`
	WebhookSecretName      string `mapstructure:"webhook_secret_name"` // GCP Secret Manager secret id, optional
	CallbackBaseURL        string `mapstructure:"callback_base_url"`
	RedisURL               string `mapstructure:"redis_url"`
	RedisKeyPrefix         string `mapstructure:"redis_key_prefix"`
	TTLSeconds             int    `mapstructure:"ttl_seconds"`
	GatedHostnameSubstring string `mapstructure:"gated_hostname_substring"`
	GatedFeatureEnabled    bool   `mapstructure:"gated_feature_enabled"`
	Port                   int    `mapstructure:"port"`
	GCPProjectID           string `mapstructure:"gcp_project_id"`
	GCPLoggingLogID        string `mapstructure:"gcp_logging_log_id"`
	DeveloperMode          bool   `mapstructure:"developer_mode"`
}

// DefaultServerConfig returns the spec §6 enumerated defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		CursorCLIPath:          "cursor",
		CursorCLIUsePTY:        "auto",
		CursorCLITimeoutMS:     300_000,
		CursorCLIIdleTimeoutMS: 300_000,
		CursorCLIMaxOutputSize: 10 * 1024 * 1024,
		CursorCLIMaxConcurrent: 5,
		MaxIterations:          5,
		CallbackBaseURL:        "http://app:3000",
		RedisURL:               "redis://127.0.0.1:6379/0",
		RedisKeyPrefix:         "",
		TTLSeconds:             3600,
		Port:                   8080,
	}
}

// LoadServerConfig reads configuration via viper (environment variables,
// optional config file, then defaults), returning a fully-populated
// ServerConfig. Environment variables are read once here and never again
// for the lifetime of the process (spec §5 "read only at process start").
func LoadServerConfig(v *viper.Viper) (ServerConfig, error) {
	if v == nil {
		v = viper.GetViper()
	}

	cfg := DefaultServerConfig()
	v.SetEnvPrefix("CURSOR_RUNNER")
	v.AutomaticEnv()

	for key, def := range map[string]any{
		"cursor_cli_path":            cfg.CursorCLIPath,
		"cursor_cli_use_pty":         cfg.CursorCLIUsePTY,
		"cursor_cli_timeout_ms":      cfg.CursorCLITimeoutMS,
		"cursor_cli_idle_timeout_ms": cfg.CursorCLIIdleTimeoutMS,
		"cursor_cli_max_output_size": cfg.CursorCLIMaxOutputSize,
		"cursor_cli_max_concurrent":  cfg.CursorCLIMaxConcurrent,
		"max_iterations":             cfg.MaxIterations,
		"webhook_secret":             cfg.WebhookSecret,
		"webhook_secret_name":        cfg.WebhookSecretName,
		"callback_base_url":          cfg.CallbackBaseURL,
		"redis_url":                  cfg.RedisURL,
		"redis_key_prefix":           cfg.RedisKeyPrefix,
		"ttl_seconds":                cfg.TTLSeconds,
		"gated_hostname_substring":   cfg.GatedHostnameSubstring,
		"gated_feature_enabled":      cfg.GatedFeatureEnabled,
		"port":                       cfg.Port,
		"gcp_project_id":             cfg.GCPProjectID,
		"gcp_logging_log_id":         cfg.GCPLoggingLogID,
		"developer_mode":             cfg.DeveloperMode,
	} {
		v.SetDefault(key, def)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("unmarshal server config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// Validate enforces the enumerated constraints that aren't just defaults:
// the absolute hard-timeout ceiling and a positive admission capacity.
func (c *ServerConfig) Validate() error {
	if c.CursorCLIMaxConcurrent < 1 {
		return fmt.Errorf("cursor_cli_max_concurrent must be positive, got %d", c.CursorCLIMaxConcurrent)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.MaxIterations > 25 {
		c.MaxIterations = 25 // absolute ceiling, spec §4.E
	}
	if time.Duration(c.CursorCLITimeoutMS)*time.Millisecond > 3600*time.Second {
		c.CursorCLITimeoutMS = 3600_000 // absolute ceiling, spec §4.A
	}
	return nil
}

// UsePTYPointer translates the tri-state "auto"/"true"/"false" config
// string into supervisor.Config's *bool, where nil means auto-detect.
func (c *ServerConfig) UsePTYPointer() *bool {
	switch c.CursorCLIUsePTY {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	default:
		return nil
	}
}
