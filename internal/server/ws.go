package server

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/onethread/internal/board"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type MessageType string

const (
	MsgResult    MessageType = "result"
	MsgDelivered MessageType = "delivered"
	MsgError     MessageType = "error"
)

const wsWriteWait = 5 * time.Second

// WSMessage is every frame the server writes on a session stream.
type WSMessage struct {
	Type    MessageType `json:"type"`
	Session string      `json:"session"`
	Op      string      `json:"op,omitempty"`
	Status  int         `json:"status,omitempty"`
	Payload any         `json:"payload,omitempty"`
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) send(msg WSMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteJSON(msg)
}

// streamSession upgrades to a WebSocket bound to one session. JSON frames
// carrying an op are submitted as events; any other text frame is
// delivered as input to a suspended event.
func (s *Server) streamSession(c *gin.Context) {
	h, ok := s.lookup(c)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("session", h.ID).Msg("ws upgrade failed")
		return
	}
	s.log.Info().Str("session", h.ID).Str("remote", c.Request.RemoteAddr).Msg("ws client connected")

	ctx, cancel := context.WithCancel(context.Background())
	out := &wsConn{conn: conn}
	var inflight sync.WaitGroup
	defer func() {
		cancel()
		inflight.Wait()
		_ = conn.Close()
		s.log.Info().Str("session", h.ID).Msg("ws client disconnected")
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if cmd, ok := parseCommand(data); ok {
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				status, body := s.submit(h, cmd)
				msg := WSMessage{Type: MsgResult, Session: h.ID, Op: cmd.Op, Status: status, Payload: body}
				if err := out.send(msg); err != nil {
					s.log.Debug().Err(err).Str("session", h.ID).Msg("ws write failed")
				}
			}()
			continue
		}

		msg := WSMessage{Type: MsgDelivered, Session: h.ID}
		if err := h.Board.Deliver(ctx, string(data)); err != nil {
			msg = WSMessage{Type: MsgError, Session: h.ID, Payload: gin.H{"error": err.Error()}}
		}
		if err := out.send(msg); err != nil {
			return
		}
	}
}

func parseCommand(data []byte) (board.Command, bool) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		return board.Command{}, false
	}
	var cmd board.Command
	if err := json.Unmarshal([]byte(trimmed), &cmd); err != nil || cmd.Op == "" {
		return board.Command{}, false
	}
	return cmd, true
}
