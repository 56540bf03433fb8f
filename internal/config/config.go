package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the onethreadd daemon configuration.
type Config struct {
	Name         string
	Addr         string
	CorsOrigins  []string
	MaxSessions  int
	InputTimeout time.Duration
	InboxSize    int
	LogLevel     string
	AuthToken    string
}

// fileConfig is the on-disk shape shared by the TOML and YAML loaders.
type fileConfig struct {
	Name         string   `toml:"name" yaml:"name"`
	Addr         string   `toml:"addr" yaml:"addr"`
	CorsOrigins  []string `toml:"cors_origins" yaml:"cors_origins"`
	MaxSessions  int      `toml:"max_sessions" yaml:"max_sessions"`
	InputTimeout string   `toml:"input_timeout" yaml:"input_timeout"`
	InboxSize    int      `toml:"inbox_size" yaml:"inbox_size"`
	LogLevel     string   `toml:"log_level" yaml:"log_level"`
	AuthToken    string   `toml:"auth_token" yaml:"auth_token"`
}

func Default() Config {
	return Config{
		Name:         "onethreadd",
		Addr:         ":9000",
		CorsOrigins:  []string{"http://localhost:3000"},
		MaxSessions:  64,
		InputTimeout: 30 * time.Second,
		InboxSize:    16,
		LogLevel:     "info",
	}
}

// Load reads a .toml, .yaml or .yml file over the defaults. Only keys
// present in the file override a default.
func Load(path string) (Config, error) {
	var (
		raw     fileConfig
		defined func(key string) bool
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		defined = func(key string) bool { return meta.IsDefined(key) }
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		keys := map[string]any{}
		if err := yaml.Unmarshal(data, &keys); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		defined = func(key string) bool {
			_, ok := keys[key]
			return ok
		}
	default:
		return Config{}, fmt.Errorf("config format unsupported (%s): want .toml, .yaml or .yml", path)
	}

	cfg, err := apply(Default(), raw, defined)
	if err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func apply(cfg Config, raw fileConfig, defined func(string) bool) (Config, error) {
	if defined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if defined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if defined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if defined("max_sessions") {
		cfg.MaxSessions = raw.MaxSessions
	}
	if defined("input_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.InputTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse input_timeout: %w", err)
		}
		cfg.InputTimeout = d
	}
	if defined("inbox_size") {
		cfg.InboxSize = raw.InboxSize
	}
	if defined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if defined("auth_token") {
		cfg.AuthToken = strings.TrimSpace(raw.AuthToken)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("addr is required")
	}
	if cfg.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive")
	}
	if cfg.InputTimeout < 0 {
		return fmt.Errorf("input_timeout must not be negative")
	}
	if cfg.InboxSize < 0 {
		return fmt.Errorf("inbox_size must not be negative")
	}
	return nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
