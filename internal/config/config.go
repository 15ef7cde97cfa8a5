// Package config loads server configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Cleaner  CleanerConfig  `mapstructure:"cleaner"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	TokenTTL  string `mapstructure:"token_ttl"`
}

// GetTokenTTL returns the configured token lifetime, defaulting to ten
// days when unset or unparsable.
func (a AuthConfig) GetTokenTTL() time.Duration {
	d, err := time.ParseDuration(a.TokenTTL)
	if err != nil || d <= 0 {
		return 240 * time.Hour
	}
	return d
}

type CleanerConfig struct {
	Interval  string `mapstructure:"interval"`
	Retention string `mapstructure:"retention"`
}

func (c CleanerConfig) GetInterval() time.Duration {
	d, err := time.ParseDuration(c.Interval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

func (c CleanerConfig) GetRetention() time.Duration {
	d, err := time.ParseDuration(c.Retention)
	if err != nil || d <= 0 {
		return 30 * 24 * time.Hour
	}
	return d
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads the config file at path (optional; missing file is fine)
// and applies INVOICESYNC_* environment overrides, e.g.
// INVOICESYNC_DATABASE_DSN for database.dsn.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("auth.token_ttl", "240h")
	v.SetDefault("cleaner.interval", "1h")
	v.SetDefault("cleaner.retention", "720h")
	v.SetDefault("logging.level", "info")

	v.SetEnvPrefix("INVOICESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
