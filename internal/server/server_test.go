package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/onethread/internal/config"
	"github.com/danmuck/onethread/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Name = "test"
	cfg.InputTimeout = 5 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	s := New(cfg)
	t.Cleanup(func() { _ = s.Registry().CloseAll() })
	return s
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, out
}

func createSession(t *testing.T, s *Server) string {
	t.Helper()
	rec, body := doJSON(t, s.Handler(), http.MethodPost, "/sessions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session status=%d body=%s", rec.Code, rec.Body.String())
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("create session returned no id: %v", body)
	}
	return id
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec, body := doJSON(t, s.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || body["status"] != "ok" || body["node"] != "test" {
		t.Fatalf("unexpected health response %d %v", rec.Code, body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()
	id := createSession(t, s)

	rec, body := doJSON(t, h, http.MethodGet, "/sessions/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get session status=%d", rec.Code)
	}
	if body["state"] != "awaiting_work" {
		t.Fatalf("expected awaiting-work state, got %v", body["state"])
	}

	rec, body = doJSON(t, h, http.MethodPost, "/sessions/"+id+"/events", map[string]any{"op": "post", "text": "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("post status=%d body=%s", rec.Code, rec.Body.String())
	}
	snap, _ := body["board"].(map[string]any)
	msgs, _ := snap["messages"].([]any)
	if len(msgs) != 1 || msgs[0] != "hi" {
		t.Fatalf("unexpected board: %v", body["board"])
	}

	rec, body = doJSON(t, h, http.MethodGet, "/sessions", nil)
	if list, _ := body["sessions"].([]any); rec.Code != http.StatusOK || len(list) != 1 {
		t.Fatalf("unexpected list %d %v", rec.Code, body)
	}

	rec, _ = doJSON(t, h, http.MethodDelete, "/sessions/"+id, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rec.Code)
	}
	rec, _ = doJSON(t, h, http.MethodGet, "/sessions/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
	rec, _ = doJSON(t, h, http.MethodDelete, "/sessions/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestSubmitErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)
	id := createSession(t, s)
	path := "/sessions/" + id + "/events"

	cases := []struct {
		name   string
		body   any
		status int
		kind   string
	}{
		{name: "invalid", body: map[string]any{"op": "dance"}, status: http.StatusBadRequest, kind: "error"},
		{name: "fail", body: map[string]any{"op": "fail", "text": "no"}, status: http.StatusUnprocessableEntity, kind: "error"},
		{name: "panic", body: map[string]any{"op": "panic"}, status: http.StatusUnprocessableEntity, kind: "panic"},
		{name: "ok", body: map[string]any{"op": "post", "text": "still alive"}, status: http.StatusOK},
	}
	for _, tc := range cases {
		rec, body := doJSON(t, s.Handler(), http.MethodPost, path, tc.body)
		if rec.Code != tc.status {
			t.Fatalf("%s: status=%d want=%d body=%s", tc.name, rec.Code, tc.status, rec.Body.String())
		}
		if tc.kind != "" && body["kind"] != tc.kind {
			t.Fatalf("%s: kind=%v want=%s", tc.name, body["kind"], tc.kind)
		}
	}

	rec, _ := doJSON(t, s.Handler(), http.MethodPost, "/sessions/missing/events", map[string]any{"op": "post", "text": "x"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", rec.Code)
	}
}

func TestCloseOpUnregistersSession(t *testing.T) {
	s := newTestServer(t, nil)
	id := createSession(t, s)

	rec, body := doJSON(t, s.Handler(), http.MethodPost, "/sessions/"+id+"/events", map[string]any{"op": "close"})
	if rec.Code != http.StatusOK {
		t.Fatalf("close status=%d body=%s", rec.Code, rec.Body.String())
	}
	if snap, _ := body["board"].(map[string]any); snap["finalized"] != true {
		t.Fatalf("expected finalized board, got %v", body["board"])
	}
	if s.Registry().Len() != 0 {
		t.Fatalf("expected session removed, have %d", s.Registry().Len())
	}
}

func TestSessionLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.MaxSessions = 1 })
	createSession(t, s)
	rec, _ := doJSON(t, s.Handler(), http.MethodPost, "/sessions", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestAwaitOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	id := createSession(t, s)

	type result struct {
		code int
		body map[string]any
	}
	done := make(chan result, 1)
	go func() {
		rec, body := doJSON(t, s.Handler(), http.MethodPost, "/sessions/"+id+"/events", map[string]any{"op": "await", "count": 1})
		done <- result{code: rec.Code, body: body}
	}()

	rec, _ := doJSON(t, s.Handler(), http.MethodPost, "/sessions/"+id+"/input", map[string]any{"text": "typed"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("input status=%d", rec.Code)
	}

	select {
	case res := <-done:
		if res.code != http.StatusOK {
			t.Fatalf("await status=%d body=%v", res.code, res.body)
		}
		snap, _ := res.body["board"].(map[string]any)
		msgs, _ := snap["messages"].([]any)
		if len(msgs) != 1 || msgs[0] != "typed" {
			t.Fatalf("unexpected board: %v", res.body["board"])
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("await did not complete")
	}
}

func TestWebSocketStream(t *testing.T) {
	s := newTestServer(t, nil)
	id := createSession(t, s)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"await","count":1}`)); err != nil {
		t.Fatalf("write command: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("from socket")); err != nil {
		t.Fatalf("write input: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	seen := map[MessageType]WSMessage{}
	for len(seen) < 2 {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v (seen %v)", err, seen)
		}
		seen[msg.Type] = msg
	}
	res, ok := seen[MsgResult]
	if !ok || res.Status != http.StatusOK || res.Op != "await" {
		t.Fatalf("unexpected result frame: %+v", res)
	}
	if _, ok := seen[MsgDelivered]; !ok {
		t.Fatalf("expected delivered frame, got %v", seen)
	}
	hosted, err := s.Registry().Get(id)
	if err != nil {
		t.Fatalf("get hosted: %v", err)
	}
	if got := hosted.Board.Snapshot().Messages; len(got) != 1 || got[0] != "from socket" {
		t.Fatalf("unexpected messages: %v", got)
	}
}

func TestParseCommand(t *testing.T) {
	if _, ok := parseCommand([]byte("plain text")); ok {
		t.Fatalf("plain text parsed as command")
	}
	if _, ok := parseCommand([]byte(`{"text":"no op"}`)); ok {
		t.Fatalf("op-less object parsed as command")
	}
	cmd, ok := parseCommand([]byte(` {"op":"post","text":"x"} `))
	if !ok || cmd.Op != "post" || cmd.Text != "x" {
		t.Fatalf("unexpected parse %+v %v", cmd, ok)
	}
}

func TestAuthTokenGuardsSessions(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.AuthToken = "secret" })
	h := s.Handler()

	rec, _ := doJSON(t, h, http.MethodPost, "/sessions", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec, _ = doJSON(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected open health endpoint, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	authed := httptest.NewRecorder()
	h.ServeHTTP(authed, req)
	if authed.Code != http.StatusCreated {
		t.Fatalf("expected 201 with token, got %d", authed.Code)
	}
}
