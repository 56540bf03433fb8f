package server

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/onethread/internal/board"
	"github.com/danmuck/onethread/internal/worker"
	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("server: session not found")
	ErrTooManySessions = errors.New("server: session limit reached")
)

// Hosted pairs a board with the adapter that owns its worker.
type Hosted struct {
	ID      string
	Created time.Time
	Board   *board.Board
	Adapter *worker.Adapter
}

// SessionInfo is the JSON view of a hosted session.
type SessionInfo struct {
	ID       string         `json:"id"`
	Created  time.Time      `json:"created"`
	State    string         `json:"state"`
	WorkerID uint64         `json:"worker_id"`
	Stats    worker.Stats   `json:"stats"`
	Board    board.Snapshot `json:"board"`
}

func (h *Hosted) info() SessionInfo {
	return SessionInfo{
		ID:       h.ID,
		Created:  h.Created,
		State:    h.Adapter.State().String(),
		WorkerID: h.Adapter.WorkerID(),
		Stats:    h.Adapter.Stats(),
		Board:    h.Board.Snapshot(),
	}
}

// Registry tracks hosted sessions by id.
type Registry struct {
	mu       sync.RWMutex
	max      int
	opts     board.Options
	sessions map[string]*Hosted
	// initialize runs the session's Initialize hook on its worker.
	initialize func(*Hosted) error
}

func NewRegistry(max int, opts board.Options) *Registry {
	return &Registry{
		max:      max,
		opts:     opts,
		sessions: make(map[string]*Hosted),
		initialize: func(h *Hosted) error {
			return h.Adapter.Initialize()
		},
	}
}

// Create registers a new session and runs its Initialize hook on the
// session's worker.
func (r *Registry) Create() (*Hosted, error) {
	id := uuid.NewString()
	b := board.New(id, r.opts)
	h := &Hosted{
		ID:      id,
		Created: time.Now(),
		Board:   b,
		Adapter: worker.New(id, b),
	}

	r.mu.Lock()
	if r.max > 0 && len(r.sessions) >= r.max {
		r.mu.Unlock()
		return nil, ErrTooManySessions
	}
	r.sessions[id] = h
	r.mu.Unlock()

	if err := r.initialize(h); err != nil {
		r.Remove(id)
		b.Shutdown()
		_ = h.Adapter.Close()
		return nil, err
	}
	return h, nil
}

func (r *Registry) Get(id string) (*Hosted, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return h, nil
}

func (r *Registry) Remove(id string) (*Hosted, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return h, ok
}

func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	hosted := make([]*Hosted, 0, len(r.sessions))
	for _, h := range r.sessions {
		hosted = append(hosted, h)
	}
	r.mu.RUnlock()

	out := make([]SessionInfo, 0, len(hosted))
	for _, h := range hosted {
		out = append(out, h.info())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close finalizes and removes one session.
func (r *Registry) Close(id string) error {
	h, ok := r.Remove(id)
	if !ok {
		return ErrSessionNotFound
	}
	return closeHosted(h)
}

// CloseAll finalizes every session. Errors are joined.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	hosted := make([]*Hosted, 0, len(r.sessions))
	for id, h := range r.sessions {
		hosted = append(hosted, h)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	var errs []error
	for _, h := range hosted {
		if err := closeHosted(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeHosted(h *Hosted) error {
	// Release a worker parked in an input wait so Finalize can reach it.
	h.Board.Shutdown()
	return h.Adapter.Close()
}
