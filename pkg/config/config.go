package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration, loaded from an optional
// YAML file and overridable per field with COPYBOT_* environment
// variables.
type Config struct {
	Venue struct {
		URL            string        `yaml:"url"`
		Currency       string        `yaml:"currency"`
		DialTimeout    time.Duration `yaml:"dial_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"venue"`

	Store struct {
		DBPath        string `yaml:"db_path"`
		SecretsPath   string `yaml:"secrets_path"`
		SecretsKeyHex string `yaml:"secrets_key_hex"` // 32-byte hex key; empty disables at-rest encryption
	} `yaml:"store"`

	Copier struct {
		MinStake float64 `yaml:"min_stake"` // venue minimum contract stake
	} `yaml:"copier"`

	Server struct {
		Listen string `yaml:"listen"`
	} `yaml:"server"`

	Notify struct {
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"notify"`

	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"log"`
}

// Load reads the YAML file at path (skipped when path is empty), then
// applies environment overrides, defaults, and validation.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Venue.URL, "COPYBOT_VENUE_URL")
	setString(&c.Venue.Currency, "COPYBOT_VENUE_CURRENCY")
	setDuration(&c.Venue.RequestTimeout, "COPYBOT_VENUE_REQUEST_TIMEOUT")
	setString(&c.Store.DBPath, "COPYBOT_DB_PATH")
	setString(&c.Store.SecretsPath, "COPYBOT_SECRETS_PATH")
	setString(&c.Store.SecretsKeyHex, "COPYBOT_SECRETS_KEY")
	setFloat(&c.Copier.MinStake, "COPYBOT_MIN_STAKE")
	setString(&c.Server.Listen, "COPYBOT_LISTEN")
	setString(&c.Notify.WebhookURL, "COPYBOT_WEBHOOK_URL")
	setString(&c.Log.Level, "COPYBOT_LOG_LEVEL")
	setString(&c.Log.File, "COPYBOT_LOG_FILE")
}

// ApplyDefaults fills zero-valued fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Venue.Currency == "" {
		c.Venue.Currency = "USD"
	}
	if c.Venue.DialTimeout == 0 {
		c.Venue.DialTimeout = 30 * time.Second
	}
	if c.Venue.WriteTimeout == 0 {
		c.Venue.WriteTimeout = 10 * time.Second
	}
	if c.Venue.RequestTimeout == 0 {
		c.Venue.RequestTimeout = 20 * time.Second
	}
	if c.Store.DBPath == "" {
		c.Store.DBPath = "data/copybot.db"
	}
	if c.Store.SecretsPath == "" {
		c.Store.SecretsPath = "data/secrets"
	}
	if c.Copier.MinStake == 0 {
		c.Copier.MinStake = 0.35
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSize == 0 {
		c.Log.MaxSize = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAge == 0 {
		c.Log.MaxAge = 7
	}
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	if c.Venue.URL == "" {
		return fmt.Errorf("venue.url is required (COPYBOT_VENUE_URL)")
	}
	if !strings.HasPrefix(c.Venue.URL, "ws://") && !strings.HasPrefix(c.Venue.URL, "wss://") {
		return fmt.Errorf("venue.url must be a ws:// or wss:// endpoint")
	}
	if c.Copier.MinStake < 0 {
		return fmt.Errorf("copier.min_stake cannot be negative")
	}
	if k := c.Store.SecretsKeyHex; k != "" && len(k) != 64 {
		return fmt.Errorf("store.secrets_key_hex must be 64 hex characters (32 bytes)")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
