package worker

import "sync"

// job is one unit handed to the worker. The submitting goroutine owns it
// and reads err only after the completion signal for seq.
type job struct {
	seq uint64
	ev  Event
	// run replaces Session.ProcessEvent for lifecycle hooks.
	run func() error
	err *ProcessingError
}

// mailbox is the new-work half of the handshake: a single slot guarded by
// mu, with newWork set while the slot holds an unconsumed job. The worker
// and callers both wait on cond; every state change broadcasts.
type mailbox struct {
	mu      sync.Mutex
	cond    *sync.Cond
	newWork bool
	pending *job
	seq     uint64
	closed  bool
}

// isEvent reports whether j carries a session event rather than a
// lifecycle hook.
func (j *job) isEvent() bool {
	return j.run == nil
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// completion is the work-done half of the handshake. ready reports that the
// worker is alive; completed is the seq of the last job the worker finished.
type completion struct {
	mu        sync.Mutex
	cond      *sync.Cond
	ready     bool
	completed uint64
}

func newCompletion() *completion {
	c := &completion{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *completion) signalReady() {
	c.mu.Lock()
	c.ready = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *completion) waitReady() {
	c.mu.Lock()
	for !c.ready {
		c.cond.Wait()
	}
	c.mu.Unlock()
}

func (c *completion) signal(seq uint64) {
	c.mu.Lock()
	if seq > c.completed {
		c.completed = seq
	}
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *completion) wait(seq uint64) {
	c.mu.Lock()
	for c.completed < seq {
		c.cond.Wait()
	}
	c.mu.Unlock()
}

// loopLock is the ownership token for the mailbox lock held by the worker
// loop. The loop acquires it once; Suspend releases and reacquires the same
// token around a nested wait. held is only touched on the worker goroutine.
type loopLock struct {
	mu   *sync.Mutex
	held bool
}

func (l *loopLock) acquire() {
	l.mu.Lock()
	l.held = true
}

func (l *loopLock) release() error {
	if !l.held {
		return ErrLockNotHeld
	}
	l.held = false
	l.mu.Unlock()
	return nil
}
