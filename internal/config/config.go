// Package config loads and validates the server configuration.
//
// Sources, in order of precedence:
//  1. CLI flags (applied by the caller after Load)
//  2. Environment variables (AIRLIFT_*)
//  3. Configuration file (YAML)
//  4. Defaults
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the process-wide server configuration. It is immutable after
// startup and shared read-only by every connection.
type Config struct {
	// Addr is the TCP listen address.
	Addr string `mapstructure:"addr" validate:"required"`

	// Root is the directory subtree served by airlift.
	Root string `mapstructure:"root" validate:"required"`

	// Credential is an optional "user:pass" pair. When set, every request
	// must authenticate via HTTP Basic.
	Credential string `mapstructure:"credential"`

	// StateDir stores derived data (thumbnail cache). Default:
	// <root>/.airlift
	StateDir string `mapstructure:"state_dir"`

	// LogLevel is the minimum level written to the log.
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// TLS controls HTTPS serving.
	TLS TLSConfig `mapstructure:"tls"`
}

// TLSConfig enables HTTPS. With Enabled set and no cert/key pair given, a
// self-signed certificate is generated at startup.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file" validate:"required_with=KeyFile"`
	KeyFile  string `mapstructure:"key_file" validate:"required_with=CertFile"`
}

// Load reads configuration from the optional file path, the environment,
// and defaults. Validation runs in Validate, after the caller has applied
// flag overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("addr", "0.0.0.0:8080")
	v.SetDefault("log_level", "INFO")

	v.SetEnvPrefix("AIRLIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only surfaces keys viper already knows about; bind
	// each key so AIRLIFT_* works without a default or config file.
	for _, key := range []string{
		"addr", "root", "credential", "state_dir", "log_level",
		"tls.enabled", "tls.cert_file", "tls.key_file",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the assembled configuration.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Credential != "" && !strings.Contains(cfg.Credential, ":") {
		return fmt.Errorf("credential must be user:pass")
	}
	return nil
}
