// Package config loads the daemon configuration: a YAML file with
// PYLVI_* environment overrides. The lvi library itself takes
// credentials and endpoint directly; config only feeds the binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	DefaultHTTPAddr     = ":8080"
	DefaultPollInterval = time.Minute
	DefaultTimeout      = 10 * time.Second
)

type Config struct {
	Email    string `koanf:"email"`
	Password string `koanf:"password"`
	// BaseURL overrides the production endpoint; empty means the
	// library default.
	BaseURL      string        `koanf:"base_url"`
	Timeout      time.Duration `koanf:"timeout"`
	PollInterval time.Duration `koanf:"poll_interval"`
	HTTPAddr     string        `koanf:"http_addr"`
	MQTT         MQTT          `koanf:"mqtt"`
}

type MQTT struct {
	Enabled         bool          `koanf:"enabled"`
	BrokerURL       string        `koanf:"broker_url"`
	ClientID        string        `koanf:"client_id"`
	BaseTopic       string        `koanf:"base_topic"`
	QoS             byte          `koanf:"qos"`
	Retain          bool          `koanf:"retain"`
	PublishInterval time.Duration `koanf:"publish_interval"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
}

// Load reads the YAML file (missing file means defaults), applies
// environment overrides and defaults, and validates.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PYLVI_EMAIL"); v != "" {
		cfg.Email = v
	}
	if v := os.Getenv("PYLVI_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("PYLVI_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("PYLVI_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	} else if v := os.Getenv("PORT"); v != "" {
		// Containers commonly hand out a bare port.
		cfg.HTTPAddr = ":" + v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.MQTT.Enabled && cfg.MQTT.PublishInterval == 0 {
		cfg.MQTT.PublishInterval = 30 * time.Second
	}
}

// Validate enforces required fields beyond type checks.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Email) == "" {
		return fmt.Errorf("email is required")
	}
	if cfg.Password == "" {
		return fmt.Errorf("password is required")
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if cfg.PollInterval < 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if cfg.MQTT.Enabled && cfg.MQTT.QoS > 1 {
		return fmt.Errorf("mqtt.qos must be 0 or 1")
	}
	return nil
}
