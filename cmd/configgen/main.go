package main

import (
	"flag"

	"github.com/danmuck/onethread/internal/config"
	"github.com/danmuck/onethread/internal/observability"
)

func main() {
	logger := observability.InitLogger("configgen")

	format := flag.String("format", "toml", "config format: toml|yaml")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to the per-format daemon path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*format)
		}
		cfg, err := config.Load(path)
		if err != nil {
			logger.Fatal().Err(err).Msg("config invalid")
		}
		logger.Info().Str("path", path).Str("name", cfg.Name).Str("addr", cfg.Addr).Msg("validated config")
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*format)
	}
	if err := config.WriteTemplate(target, *format, *force); err != nil {
		logger.Fatal().Err(err).Msg("write template failed")
	}
	logger.Info().Str("format", *format).Str("path", target).Msg("wrote config template")
}

func defaultPath(format string) string {
	switch format {
	case "yaml", "yml":
		return "cmd/onethreadd/config.yaml"
	default:
		return "cmd/onethreadd/config.toml"
	}
}
