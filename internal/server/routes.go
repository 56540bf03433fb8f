package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/onethread/internal/auth"
	"github.com/danmuck/onethread/internal/board"
	"github.com/danmuck/onethread/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type inputRequest struct {
	Text string `json:"text"`
}

func (s *Server) RegisterRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(s.started).String(),
			"node":     s.cfg.Name,
			"sessions": s.registry.Len(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sessions := r.Group("/sessions", auth.Middleware(s.auth))
	sessions.POST("", s.createSession)
	sessions.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": s.registry.List()})
	})
	sessions.GET("/:id", s.getSession)
	sessions.DELETE("/:id", s.deleteSession)
	sessions.POST("/:id/events", s.submitEvent)
	sessions.POST("/:id/input", s.deliverInput)
	sessions.GET("/:id/ws", s.streamSession)
}

func (s *Server) createSession(c *gin.Context) {
	h, err := s.registry.Create()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrTooManySessions) {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.log.Info().Str("session", h.ID).Msg("session created")
	c.JSON(http.StatusCreated, h.info())
}

func (s *Server) getSession(c *gin.Context) {
	h, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.info())
}

func (s *Server) deleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := s.registry.Close(id); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.log.Info().Str("session", id).Msg("session closed")
	c.Status(http.StatusNoContent)
}

func (s *Server) submitEvent(c *gin.Context) {
	h, ok := s.lookup(c)
	if !ok {
		return
	}
	var cmd board.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, body := s.submit(h, cmd)
	c.JSON(status, body)
}

func (s *Server) deliverInput(c *gin.Context) {
	h, ok := s.lookup(c)
	if !ok {
		return
	}
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Board.Deliver(c.Request.Context(), req.Text); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, board.ErrClosed) {
			status = http.StatusGone
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "delivered"})
}

// submit runs cmd through the session adapter and maps the outcome to an
// HTTP status and body. A session finalized by the command is unregistered.
func (s *Server) submit(h *Hosted, cmd board.Command) (int, gin.H) {
	err := h.Adapter.Submit(cmd)
	if h.Adapter.Finalized() {
		s.registry.Remove(h.ID)
	}
	if err == nil {
		return http.StatusOK, gin.H{"status": "ok", "board": h.Board.Snapshot()}
	}

	body := gin.H{"error": err.Error()}
	var perr *worker.ProcessingError
	if errors.As(err, &perr) {
		body["kind"] = perr.Kind.String()
	}
	return submitStatus(err), body
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, worker.ErrFinalized):
		return http.StatusGone
	case errors.Is(err, board.ErrInvalidCommand):
		return http.StatusBadRequest
	case errors.Is(err, worker.ErrProcessingFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) lookup(c *gin.Context) (*Hosted, bool) {
	h, err := s.registry.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return h, true
}
