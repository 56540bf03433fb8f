package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/onethread/internal/config"
	"github.com/danmuck/onethread/internal/logging"
	"github.com/danmuck/onethread/internal/observability"
	"github.com/danmuck/onethread/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Service owns the daemon lifecycle: config, logging and the HTTP server.
type Service struct {
	cfg    config.Config
	server *server.Server
	log    zerolog.Logger
}

func NewService(configPath, addr string) (*Service, error) {
	logger := observability.InitLogger("onethreadd")

	cfg, err := loadConfig(configPath, addr)
	if err != nil {
		return nil, err
	}
	if !logging.SetLevel(cfg.LogLevel) {
		logger.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping default")
	}
	gin.SetMode(gin.ReleaseMode)

	return &Service{
		cfg:    cfg,
		server: server.New(cfg),
		log:    logger,
	}, nil
}

// Run serves until SIGINT or SIGTERM, then finalizes every hosted session.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.log.Info().
		Str("name", s.cfg.Name).
		Str("addr", s.cfg.Addr).
		Int("max_sessions", s.cfg.MaxSessions).
		Dur("input_timeout", s.cfg.InputTimeout).
		Msg("onethreadd starting")
	if err := s.server.Serve(ctx); err != nil {
		return err
	}
	s.log.Info().Msg("onethreadd stopped")
	return nil
}

func loadConfig(path, addr string) (config.Config, error) {
	cfg := config.Default()
	if strings.TrimSpace(path) != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if v := strings.TrimSpace(addr); v != "" {
		cfg.Addr = v
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
