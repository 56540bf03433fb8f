// Package board is a message-board session driven through a worker.Adapter.
//
// All board state is owned by the adapter's worker goroutine. Other
// goroutines interact through Deliver (inbox input consumed while the worker
// is suspended) and Snapshot (a copy published after every hook).
package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/onethread/internal/worker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	OpPost  = "post"
	OpFail  = "fail"
	OpPanic = "panic"
	OpAwait = "await"
	OpEcho  = "echo"
	OpClose = "close"
)

var (
	ErrInvalidCommand = errors.New("board: invalid command")
	ErrCommandFailed  = errors.New("board: command failed")
	ErrInputTimeout   = errors.New("board: timed out waiting for input")
	ErrClosed         = errors.New("board: closed")
	ErrNotAttached    = errors.New("board: event processed off an attached worker")
)

// Command is the event type a Board processes.
type Command struct {
	Op    string `json:"op"`
	Text  string `json:"text,omitempty"`
	Count int    `json:"count,omitempty"`
}

func (c Command) Validate() error {
	switch c.Op {
	case OpPost, OpEcho:
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("%w: %s requires text", ErrInvalidCommand, c.Op)
		}
	case OpAwait:
		if c.Count <= 0 {
			return fmt.Errorf("%w: await requires a positive count", ErrInvalidCommand)
		}
	case OpFail, OpPanic, OpClose:
	case "":
		return fmt.Errorf("%w: missing op", ErrInvalidCommand)
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidCommand, c.Op)
	}
	return nil
}

// Snapshot is a point-in-time copy of board state.
type Snapshot struct {
	Messages    []string `json:"messages"`
	Events      uint64   `json:"events"`
	Inputs      uint64   `json:"inputs"`
	Initialized bool     `json:"initialized"`
	Finalized   bool     `json:"finalized"`
}

type Options struct {
	InputTimeout time.Duration
	InboxSize    int
}

// Board implements worker.Session and worker.ThreadAttacher.
type Board struct {
	opts   Options
	inbox  chan string
	closed chan struct{}
	once   sync.Once
	log    zerolog.Logger

	// worker-owned
	messages    []string
	events      uint64
	inputs      uint64
	lastInput   string
	attached    bool
	initialized bool
	finalized   bool

	snapMu sync.RWMutex
	snap   Snapshot
}

var (
	_ worker.Session        = (*Board)(nil)
	_ worker.ThreadAttacher = (*Board)(nil)
)

func New(name string, opts Options) *Board {
	if opts.InboxSize < 0 {
		opts.InboxSize = 0
	}
	return &Board{
		opts:   opts,
		inbox:  make(chan string, opts.InboxSize),
		closed: make(chan struct{}),
		log:    log.With().Str("board", name).Logger(),
	}
}

func (b *Board) Initialize() error {
	b.initialized = true
	b.log.Info().Msg("board initialize")
	b.publish()
	return nil
}

func (b *Board) Finalize() error {
	b.finalized = true
	b.once.Do(func() { close(b.closed) })
	b.log.Info().Int("messages", len(b.messages)).Msg("board finalize")
	b.publish()
	return nil
}

func (b *Board) AttachThread(attached bool) {
	b.attached = attached
}

func (b *Board) ProcessEvent(br worker.Bridge, ev worker.Event) error {
	defer b.publish()
	if !b.attached {
		return ErrNotAttached
	}
	cmd, err := asCommand(ev)
	if err != nil {
		return err
	}
	if err := cmd.Validate(); err != nil {
		return err
	}
	b.events++

	switch cmd.Op {
	case OpPost:
		b.messages = append(b.messages, cmd.Text)
	case OpFail:
		reason := cmd.Text
		if reason == "" {
			reason = "requested failure"
		}
		return fmt.Errorf("%w: %s", ErrCommandFailed, reason)
	case OpPanic:
		panic("board: requested panic")
	case OpAwait:
		for i := 0; i < cmd.Count; i++ {
			if err := br.Suspend(); err != nil {
				return fmt.Errorf("await input %d/%d: %w", i+1, cmd.Count, err)
			}
			b.messages = append(b.messages, b.lastInput)
		}
	case OpEcho:
		return br.Submit(Command{Op: OpPost, Text: cmd.Text})
	case OpClose:
		return br.Finalize()
	}
	return nil
}

// WaitForNextInput blocks until Deliver hands over a value, the board is
// closed, or the input timeout expires.
func (b *Board) WaitForNextInput() error {
	var timeout <-chan time.Time
	if b.opts.InputTimeout > 0 {
		t := time.NewTimer(b.opts.InputTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case in := <-b.inbox:
		b.lastInput = in
		b.inputs++
		return nil
	case <-b.closed:
		return ErrClosed
	case <-timeout:
		return ErrInputTimeout
	}
}

// Deliver queues input for a suspended event. Safe from any goroutine.
func (b *Board) Deliver(ctx context.Context, text string) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}
	select {
	case b.inbox <- text:
		return nil
	case <-b.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown unblocks any pending input wait. Finalize still runs on the worker.
func (b *Board) Shutdown() {
	b.once.Do(func() { close(b.closed) })
}

func (b *Board) Snapshot() Snapshot {
	b.snapMu.RLock()
	defer b.snapMu.RUnlock()
	out := b.snap
	out.Messages = append([]string{}, b.snap.Messages...)
	return out
}

func (b *Board) publish() {
	snap := Snapshot{
		Messages:    append([]string{}, b.messages...),
		Events:      b.events,
		Inputs:      b.inputs,
		Initialized: b.initialized,
		Finalized:   b.finalized,
	}
	b.snapMu.Lock()
	b.snap = snap
	b.snapMu.Unlock()
}

func asCommand(ev worker.Event) (Command, error) {
	switch v := ev.(type) {
	case Command:
		return v, nil
	case *Command:
		if v == nil {
			return Command{}, fmt.Errorf("%w: nil command", ErrInvalidCommand)
		}
		return *v, nil
	default:
		return Command{}, fmt.Errorf("%w: unsupported event %T", ErrInvalidCommand, ev)
	}
}
