package board

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/onethread/internal/testutil/testlog"
	"github.com/danmuck/onethread/internal/worker"
)

func newBoardAdapter(t *testing.T, opts Options) (*Board, *worker.Adapter) {
	t.Helper()
	testlog.Start(t)
	b := New(t.Name(), opts)
	a := worker.New(t.Name(), b)
	t.Cleanup(func() {
		b.Shutdown()
		_ = a.Close()
	})
	if err := a.Initialize(); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	return b, a
}

func TestPostAppendsMessages(t *testing.T) {
	b, a := newBoardAdapter(t, Options{})
	for _, text := range []string{"one", "two"} {
		if err := a.Submit(Command{Op: OpPost, Text: text}); err != nil {
			t.Fatalf("post %q failed: %v", text, err)
		}
	}
	snap := b.Snapshot()
	if !snap.Initialized {
		t.Fatalf("expected initialized snapshot")
	}
	if len(snap.Messages) != 2 || snap.Messages[0] != "one" || snap.Messages[1] != "two" {
		t.Fatalf("unexpected messages: %v", snap.Messages)
	}
	if snap.Events != 2 {
		t.Fatalf("unexpected event count: %d", snap.Events)
	}
}

func TestInvalidCommandsFail(t *testing.T) {
	_, a := newBoardAdapter(t, Options{})
	cases := []worker.Event{
		Command{},
		Command{Op: "dance"},
		Command{Op: OpPost},
		Command{Op: OpAwait},
		"post",
		(*Command)(nil),
	}
	for _, ev := range cases {
		err := a.Submit(ev)
		if !errors.Is(err, ErrInvalidCommand) {
			t.Fatalf("expected ErrInvalidCommand for %#v, got %v", ev, err)
		}
		if !errors.Is(err, worker.ErrProcessingFailed) {
			t.Fatalf("expected ErrProcessingFailed for %#v, got %v", ev, err)
		}
	}
}

func TestFailAndPanicDoNotStopTheBoard(t *testing.T) {
	b, a := newBoardAdapter(t, Options{})

	err := a.Submit(Command{Op: OpFail, Text: "nope"})
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
	err = a.Submit(&Command{Op: OpPanic})
	var perr *worker.ProcessingError
	if !errors.As(err, &perr) || perr.Kind != worker.KindPanic {
		t.Fatalf("expected panic failure, got %v", err)
	}
	if err := a.Submit(Command{Op: OpPost, Text: "still here"}); err != nil {
		t.Fatalf("post after failures failed: %v", err)
	}
	if got := b.Snapshot().Messages; len(got) != 1 || got[0] != "still here" {
		t.Fatalf("unexpected messages: %v", got)
	}
}

func TestEchoPostsThroughReentrantSubmit(t *testing.T) {
	b, a := newBoardAdapter(t, Options{})
	if err := a.Submit(Command{Op: OpEcho, Text: "again"}); err != nil {
		t.Fatalf("echo failed: %v", err)
	}
	if got := b.Snapshot().Messages; len(got) != 1 || got[0] != "again" {
		t.Fatalf("unexpected messages: %v", got)
	}
	if a.Stats().Reentrant != 1 {
		t.Fatalf("expected one reentrant submission, got %+v", a.Stats())
	}
}

func TestAwaitCollectsDeliveredInput(t *testing.T) {
	b, a := newBoardAdapter(t, Options{InputTimeout: 5 * time.Second})

	done := make(chan error, 1)
	go func() { done <- a.Submit(Command{Op: OpAwait, Count: 2}) }()

	ctx := context.Background()
	for _, in := range []string{"first", "second"} {
		if err := b.Deliver(ctx, in); err != nil {
			t.Fatalf("deliver %q failed: %v", in, err)
		}
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("await failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("await did not complete")
	}
	snap := b.Snapshot()
	if len(snap.Messages) != 2 || snap.Messages[1] != "second" || snap.Inputs != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if a.Stats().Suspensions != 2 {
		t.Fatalf("expected two suspensions, got %+v", a.Stats())
	}
}

func TestAwaitTimesOut(t *testing.T) {
	_, a := newBoardAdapter(t, Options{InputTimeout: 20 * time.Millisecond})
	err := a.Submit(Command{Op: OpAwait, Count: 1})
	if !errors.Is(err, ErrInputTimeout) {
		t.Fatalf("expected ErrInputTimeout, got %v", err)
	}
	if err := a.Submit(Command{Op: OpPost, Text: "after timeout"}); err != nil {
		t.Fatalf("post after timeout failed: %v", err)
	}
}

func TestCloseFinalizesFromWorker(t *testing.T) {
	b, a := newBoardAdapter(t, Options{})
	if err := a.Submit(Command{Op: OpClose}); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !a.Finalized() || a.WorkerID() != 0 {
		t.Fatalf("expected finalized and joined adapter, state=%s worker=%d", a.State(), a.WorkerID())
	}
	if !b.Snapshot().Finalized {
		t.Fatalf("expected finalized snapshot")
	}
	if err := b.Deliver(context.Background(), "late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := a.Submit(Command{Op: OpPost, Text: "late"}); !errors.Is(err, worker.ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
}

func TestShutdownReleasesPendingAwait(t *testing.T) {
	b, a := newBoardAdapter(t, Options{})

	done := make(chan error, 1)
	go func() { done <- a.Submit(Command{Op: OpAwait, Count: 1}) }()
	time.Sleep(20 * time.Millisecond)
	b.Shutdown()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("await did not observe shutdown")
	}
}

func TestDeliverHonorsContext(t *testing.T) {
	b := New("ctx", Options{InboxSize: 0})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := b.Deliver(ctx, "nobody listening"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestProcessEventRequiresAttachedThread(t *testing.T) {
	b := New("direct", Options{})
	if err := b.ProcessEvent(nil, Command{Op: OpPost, Text: "x"}); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("expected ErrNotAttached, got %v", err)
	}
}
