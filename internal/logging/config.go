package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "ONETHREAD_LOG_LEVEL"
	EnvLogTimestamp = "ONETHREAD_LOG_TIMESTAMP"
	EnvLogNoColor   = "ONETHREAD_LOG_NOCOLOR"
	EnvLogJSON      = "ONETHREAD_LOG_JSON"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config is the resolved logger setup for a profile.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	JSON      bool
	Out       io.Writer
}

var configureOnce sync.Once

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

// Configure installs the global zerolog logger once per process.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := DefaultConfig(profile)
		applyEnvOverrides(&cfg)
		Apply(cfg)
	})
}

func DefaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{
			Level:     zerolog.DebugLevel,
			Timestamp: false,
			NoColor:   true,
			Out:       os.Stderr,
		}
	default:
		return Config{
			Level:     zerolog.InfoLevel,
			Timestamp: true,
			Out:       os.Stdout,
		}
	}
}

// Apply installs cfg as the global logger and level.
func Apply(cfg Config) {
	zerolog.SetGlobalLevel(cfg.Level)
	log.Logger = New(cfg)
}

func New(cfg Config) zerolog.Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		}
	}
	ctx := zerolog.New(out).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

// SetLevel changes the global level from a config value. Unknown values
// leave the level untouched and report false.
func SetLevel(raw string) bool {
	lvl, ok := ParseLevel(raw)
	if ok {
		zerolog.SetGlobalLevel(lvl)
	}
	return ok
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogJSON)); ok {
		cfg.JSON = v
	}
}

func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
