// Package config loads process configuration from built-in defaults, an
// optional TOML file and VILLAGE_* environment variables, in that order.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/vango-go/village-live/pkg/live/conn"
)

// EnvPrefix is stripped from environment variable names: VILLAGE_WS_URL
// sets ws_url.
const EnvPrefix = "VILLAGE_"

// DefaultPath is tried when Load is called without a path.
const DefaultPath = "village.toml"

type Config struct {
	WSURL  string `koanf:"ws_url"`
	APIURL string `koanf:"api_url"`

	ReconnectInterval time.Duration `koanf:"reconnect_interval"`
	DialTimeout       time.Duration `koanf:"dial_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	// PingInterval enables application pings; zero disables them.
	PingInterval   time.Duration `koanf:"ping_interval"`
	ResponseTarget time.Duration `koanf:"response_target"`

	RosterPath string `koanf:"roster_path"`

	// Relay
	RelayAddr        string `koanf:"relay_addr"`
	DatabaseURL      string `koanf:"database_url"`
	MetricsNamespace string `koanf:"metrics_namespace"`

	LogLevel string `koanf:"log_level"`
}

func defaults() map[string]any {
	return map[string]any{
		"ws_url":             conn.DefaultURL,
		"api_url":            "http://localhost:8000",
		"reconnect_interval": "3000ms",
		"dial_timeout":       "15s",
		"write_timeout":      "5s",
		"ping_interval":      "0s",
		"response_target":    "78s",
		"roster_path":        "village-roster.toml",
		"relay_addr":         ":8000",
		"database_url":       "",
		"metrics_namespace":  "village",
		"log_level":          "info",
	}
}

// Load builds a Config. path may be empty, in which case DefaultPath is read
// if it exists. A path that is given but missing is an error.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	} else if _, err := os.Stat(DefaultPath); err == nil {
		if err := k.Load(file.Provider(DefaultPath), toml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", DefaultPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and URL schemes.
func (c Config) Validate() error {
	if err := checkURL("ws_url", c.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if err := checkURL("api_url", c.APIURL, "http", "https"); err != nil {
		return err
	}
	if c.ReconnectInterval <= 0 {
		return fmt.Errorf("reconnect_interval must be > 0")
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be > 0")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be > 0")
	}
	if c.PingInterval < 0 {
		return fmt.Errorf("ping_interval must be >= 0")
	}
	if c.ResponseTarget <= 0 {
		return fmt.Errorf("response_target must be > 0")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func checkURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %s", key, strings.Join(schemes, "|"))
}

// ConnConfig maps the connection settings onto conn.Config.
func (c Config) ConnConfig() conn.Config {
	return conn.Config{
		URL:               c.WSURL,
		ReconnectInterval: c.ReconnectInterval,
		DialTimeout:       c.DialTimeout,
		WriteTimeout:      c.WriteTimeout,
		PingInterval:      c.PingInterval,
	}
}

// Level returns the configured slog level, defaulting to info.
func (c Config) Level() slog.Level {
	lvl, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// ParseLevel accepts debug|info|warn|error.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log_level must be one of debug|info|warn|error")
	}
}
