package worker

import (
	"sync"
	"testing"

	"github.com/danmuck/onethread/internal/testutil/testlog"
)

// fakeSession records every hook call. handle and wait customize
// ProcessEvent and WaitForNextInput; onInit and onFinal customize the
// lifecycle hooks.
type fakeSession struct {
	mu          sync.Mutex
	events      []Event
	goroutines  map[uint64]int
	attached    bool
	attachCalls int
	detached    int
	unattached  int
	initialized int
	finalized   int
	initOn      uint64
	finalOn     uint64

	handle  func(b Bridge, ev Event) error
	wait    func() error
	onInit  func() error
	onFinal func() error
}

func newFakeSession() *fakeSession {
	return &fakeSession{goroutines: make(map[uint64]int)}
}

func (s *fakeSession) Initialize() error {
	s.mu.Lock()
	s.initialized++
	s.initOn = goroutineID()
	s.mu.Unlock()
	if s.onInit != nil {
		return s.onInit()
	}
	return nil
}

func (s *fakeSession) Finalize() error {
	s.mu.Lock()
	s.finalized++
	s.finalOn = goroutineID()
	s.mu.Unlock()
	if s.onFinal != nil {
		return s.onFinal()
	}
	return nil
}

func (s *fakeSession) ProcessEvent(b Bridge, ev Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.goroutines[goroutineID()]++
	if !s.attached {
		s.unattached++
	}
	handle := s.handle
	s.mu.Unlock()
	if handle != nil {
		return handle(b, ev)
	}
	return nil
}

func (s *fakeSession) WaitForNextInput() error {
	if s.wait != nil {
		return s.wait()
	}
	return nil
}

func (s *fakeSession) AttachThread(attached bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = attached
	if attached {
		s.attachCalls++
	} else {
		s.detached++
	}
}

func (s *fakeSession) processed() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *fakeSession) goroutineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.goroutines)
}

func newTestAdapter(t *testing.T, sess Session) *Adapter {
	t.Helper()
	testlog.Start(t)
	a := New(t.Name(), sess)
	t.Cleanup(func() {
		_ = a.Close()
	})
	return a
}

// queued reports whether a job is sitting unconsumed in the mailbox.
func queued(a *Adapter) bool {
	a.box.mu.Lock()
	defer a.box.mu.Unlock()
	return a.box.newWork
}
