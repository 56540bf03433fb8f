package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/danmuck/onethread/internal/auth"
	"github.com/danmuck/onethread/internal/board"
	"github.com/danmuck/onethread/internal/config"
	"github.com/danmuck/onethread/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownGrace = 5 * time.Second

// Server exposes hosted board sessions over HTTP and WebSocket. Every
// request handler runs on its own goroutine; the session adapters serialize
// them onto each session's worker.
type Server struct {
	cfg      config.Config
	router   *gin.Engine
	registry *Registry
	upgrader websocket.Upgrader
	origins  map[string]bool
	auth     auth.Validator
	started  time.Time
	log      zerolog.Logger
}

func New(cfg config.Config) *Server {
	observability.RegisterMetrics()
	origins := normalizeOrigins(cfg.CorsOrigins)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "DELETE"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", auth.TokenHeader, observability.RequestIDHeader},
		ExposeHeaders: []string{observability.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:    cfg,
		router: r,
		registry: NewRegistry(cfg.MaxSessions, board.Options{
			InputTimeout: cfg.InputTimeout,
			InboxSize:    cfg.InboxSize,
		}),
		origins: make(map[string]bool, len(origins)),
		started: time.Now(),
		log:     log.With().Str("node", cfg.Name).Logger(),
	}
	for _, origin := range origins {
		s.origins[origin] = true
	}
	if cfg.AuthToken != "" {
		s.auth = auth.StaticToken{Token: cfg.AuthToken}
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.RegisterRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Registry() *Registry {
	return s.registry
}

// Serve listens on the configured address until ctx is done, then drains
// HTTP and finalizes every hosted session.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		return errors.Join(err, s.registry.CloseAll())
	case <-ctx.Done():
	}

	s.log.Info().Msg("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	// Parked input waits would hold their HTTP handlers open past the grace period.
	closeErr := s.registry.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Join(err, closeErr)
	}
	return closeErr
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.origins[origin] {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
