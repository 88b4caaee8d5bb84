// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

/*
config.go - Application Configuration

Layered configuration via Koanf v2:

 1. Defaults: built-in sensible defaults
 2. Config File: optional YAML file (CONFIG_PATH or the default paths)
 3. Environment Variables: LISTENBRIDGE_* overrides for scalar settings

Accounts are list-valued and therefore file-only; everything else can be
overridden from the environment.
*/

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/listenbridge/internal/models"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/listenbridge/config.yaml",
	"/etc/listenbridge/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix namespaces the override variables.
const envPrefix = "LISTENBRIDGE_"

// Config is the root application configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Jellyfin     JellyfinConfig     `koanf:"jellyfin"`
	ListenBrainz ListenBrainzConfig `koanf:"listenbrainz"`
	MusicBrainz  MusicBrainzConfig  `koanf:"musicbrainz"`
	Cache        CacheConfig        `koanf:"cache"`
	Scheduler    SchedulerConfig    `koanf:"scheduler"`
	Logging      LoggingConfig      `koanf:"logging"`
	Accounts     []models.Account   `koanf:"accounts" validate:"dive"`
}

// ServerConfig configures the embedded HTTP server.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_requests"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// JellyfinConfig configures the media server connection.
type JellyfinConfig struct {
	URL             string        `koanf:"url" validate:"required,url"`
	APIKey          string        `koanf:"api_key" validate:"required"`
	PollInterval    time.Duration `koanf:"poll_interval"`
	RealtimeEnabled bool          `koanf:"realtime_enabled"`
}

// ListenBrainzConfig configures the submission target. An empty BaseURL
// means the public listenbrainz.org service.
type ListenBrainzConfig struct {
	BaseURL string `koanf:"base_url" validate:"omitempty,url"`
}

// MusicBrainzConfig configures optional metadata enrichment.
type MusicBrainzConfig struct {
	Enabled bool   `koanf:"enabled"`
	BaseURL string `koanf:"base_url" validate:"omitempty,url"`
}

// CacheConfig configures the durable listen queue.
type CacheConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// SchedulerConfig configures the resubmission schedule.
type SchedulerConfig struct {
	Interval  time.Duration `koanf:"interval"`
	MaxJitter time.Duration `koanf:"max_jitter"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            4848,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Jellyfin: JellyfinConfig{
			URL:             "",
			APIKey:          "",
			PollInterval:    10 * time.Second,
			RealtimeEnabled: true,
		},
		ListenBrainz: ListenBrainzConfig{
			BaseURL: "",
		},
		MusicBrainz: MusicBrainzConfig{
			Enabled: false,
			BaseURL: "",
		},
		Cache: CacheConfig{
			Path: "/data/listenbridge/pending-listens.json",
		},
		Scheduler: SchedulerConfig{
			Interval:  24 * time.Hour,
			MaxJitter: 50 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration with layered sources: ENV > File > Defaults.
func Load() (*Config, error) {
	return LoadFrom(findConfigFile())
}

// LoadFrom loads configuration using the given config file path. An empty
// path skips the file layer.
func LoadFrom(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// LISTENBRIDGE_JELLYFIN_API_KEY -> jellyfin.api_key
	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, or empty string.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps LISTENBRIDGE_* variable names to koanf paths.
// Unmapped variables are skipped so unrelated environment does not
// pollute the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	envMappings := map[string]string{
		"http_host":           "server.host",
		"http_port":           "server.port",
		"http_timeout":        "server.timeout",
		"rate_limit_requests": "server.rate_limit_requests",
		"rate_limit_window":   "server.rate_limit_window",

		"jellyfin_url":           "jellyfin.url",
		"jellyfin_api_key":       "jellyfin.api_key",
		"jellyfin_poll_interval": "jellyfin.poll_interval",
		"jellyfin_realtime":      "jellyfin.realtime_enabled",

		"listenbrainz_url": "listenbrainz.base_url",

		"musicbrainz_enabled": "musicbrainz.enabled",
		"musicbrainz_url":     "musicbrainz.base_url",

		"cache_path": "cache.path",

		"scheduler_interval":   "scheduler.interval",
		"scheduler_max_jitter": "scheduler.max_jitter",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// Validate checks structural constraints plus the cross-field rules the
// struct tags cannot express.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		acct := &c.Accounts[i]
		if acct.ID == "" {
			return fmt.Errorf("account %d: id is required", i)
		}
		if seen[acct.ID] {
			return fmt.Errorf("account %q: duplicate id", acct.ID)
		}
		seen[acct.ID] = true
		if acct.Token == "" {
			return fmt.Errorf("account %q: token is required", acct.ID)
		}
		if acct.MediaServerUserID == "" {
			return fmt.Errorf("account %q: media_server_user_id is required", acct.ID)
		}
	}

	return nil
}

// SubmittingAccounts returns pointers to the accounts with listen
// submission enabled.
func (c *Config) SubmittingAccounts() []*models.Account {
	accounts := make([]*models.Account, 0, len(c.Accounts))
	for i := range c.Accounts {
		if c.Accounts[i].SubmitListens {
			accounts = append(accounts, &c.Accounts[i])
		}
	}
	return accounts
}

// AccountPointers returns pointers to all configured accounts.
func (c *Config) AccountPointers() []*models.Account {
	accounts := make([]*models.Account, len(c.Accounts))
	for i := range c.Accounts {
		accounts[i] = &c.Accounts[i]
	}
	return accounts
}
