// Package config loads publishctl settings from defaults, an optional config
// file, PUBLISHCTL_* environment variables and command-line flags, in that
// order of precedence (flags win).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "PUBLISHCTL"

// S3 rejects non-final multipart parts smaller than 5 MiB.
const (
	MinPartSize     = 5 << 20
	DefaultPartSize = 8 << 20
)

var ErrPartSizeTooSmall = errors.New("part size must be at least 5 MiB")

// Config holds runtime settings for the publishctl CLI.
//
// Fields:
//   - ServerURL: base URL of the mintydoc HTTP API.
//   - Wallet: uploader wallet; also the default payer.
//   - SecretKey: operator token secret, only needed by the token command.
//   - PartSize: multipart chunk size in bytes.
//   - Concurrency: parts uploaded in parallel.
type Config struct {
	ServerURL     string        `mapstructure:"server_url"`
	Wallet        string        `mapstructure:"wallet"`
	SecretKey     string        `mapstructure:"secret_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	PartSize      int64         `mapstructure:"part_size"`
	Concurrency   int           `mapstructure:"concurrency"`
	PartRetries   int           `mapstructure:"part_retries"`
	TokenValidity time.Duration `mapstructure:"token_validity"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "http://127.0.0.1:8080")
	v.SetDefault("wallet", "")
	v.SetDefault("secret_key", "")
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("part_size", DefaultPartSize)
	v.SetDefault("concurrency", 4)
	v.SetDefault("part_retries", 3)
	v.SetDefault("token_validity", time.Hour)
}

// New returns a viper instance bound to the PUBLISHCTL_ environment.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads file (if any) into v and decodes the merged settings.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.PartSize < MinPartSize {
		return nil, ErrPartSizeTooSmall
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	return &cfg, nil
}
