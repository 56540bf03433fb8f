package worker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/onethread/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Event is whatever the wrapped session understands. The submitter keeps
// ownership and must keep it valid until Submit returns.
type Event = any

// Session is the collaborator an Adapter serializes. Every hook runs on the
// adapter's worker goroutine.
type Session interface {
	Initialize() error
	Finalize() error
	// ProcessEvent handles one event. It may call b.Suspend to wait for more
	// input and b.Submit to process further events synchronously.
	ProcessEvent(b Bridge, ev Event) error
	// WaitForNextInput blocks until more input is available. Only reached
	// through Bridge.Suspend.
	WaitForNextInput() error
}

// ThreadAttacher is implemented by sessions that bind runtime context to the
// goroutine processing an event.
type ThreadAttacher interface {
	AttachThread(attached bool)
}

// Bridge is the worker-side surface handed to ProcessEvent.
type Bridge interface {
	Submit(ev Event) error
	Suspend() error
	Finalize() error
}

// Adapter runs every hook of one Session on a single dedicated goroutine,
// one at a time, in the order submissions reach the mailbox.
type Adapter struct {
	name string
	sess Session
	log  zerolog.Logger

	startMu  sync.Mutex
	exited   chan struct{}
	workerID atomic.Uint64

	box  *mailbox
	done *completion
	// lock is set by the worker loop while it runs and read only by Suspend
	// on the worker goroutine.
	lock *loopLock

	state     atomic.Int32
	finalized atomic.Bool

	processed   atomic.Uint64
	failed      atomic.Uint64
	suspensions atomic.Uint64
	reentrant   atomic.Uint64
}

var _ Bridge = (*Adapter)(nil)

// New wraps sess. No goroutine is started until the first submission.
func New(name string, sess Session) *Adapter {
	return &Adapter{
		name: name,
		sess: sess,
		log:  log.With().Str("session", name).Logger(),
		box:  newMailbox(),
		done: newCompletion(),
	}
}

func (a *Adapter) Name() string {
	return a.name
}

func (a *Adapter) State() State {
	return State(a.state.Load())
}

// WorkerID returns the worker goroutine's ID, or 0 when no worker exists.
func (a *Adapter) WorkerID() uint64 {
	return a.workerID.Load()
}

func (a *Adapter) Finalized() bool {
	return a.finalized.Load()
}

func (a *Adapter) Stats() Stats {
	return Stats{
		Processed:   a.processed.Load(),
		Failed:      a.failed.Load(),
		Suspensions: a.suspensions.Load(),
		Reentrant:   a.reentrant.Load(),
	}
}

// Submit hands ev to the worker and blocks until it has been processed.
// Called on the worker goroutine itself, it processes ev inline instead.
// A failed event returns a *ProcessingError.
func (a *Adapter) Submit(ev Event) error {
	return a.dispatch(&job{ev: ev})
}

// Initialize forwards to Session.Initialize on the worker.
func (a *Adapter) Initialize() error {
	return a.dispatch(&job{run: a.sess.Initialize})
}

// Finalize forwards to Session.Finalize on the worker and marks the adapter
// finalized once the hook returns, whatever it returned. The worker exits
// after the cycle in which this happens.
func (a *Adapter) Finalize() error {
	if a.finalized.Load() {
		return ErrFinalized
	}
	return a.dispatch(&job{run: a.finalize})
}

// Close finalizes the session if needed and joins the worker. Called from
// the worker goroutine it only finalizes; the submitter of the current event
// performs the join. On an adapter that never started, Close starts the
// worker once so Finalize still runs there; that worker exits before Close
// returns.
func (a *Adapter) Close() error {
	var err error
	if !a.finalized.Load() {
		err = a.Finalize()
		if errors.Is(err, ErrFinalized) {
			err = nil
		}
	}
	a.join()
	return err
}

// finalize marks the adapter finalized even when the hook panics, so the
// worker still exits after this cycle and join returns.
func (a *Adapter) finalize() error {
	defer func() {
		a.finalized.Store(true)
		a.log.Info().Msg("worker: session finalized")
	}()
	return a.sess.Finalize()
}

func (a *Adapter) dispatch(j *job) error {
	if a.onWorker() {
		a.reentrant.Add(1)
		a.log.Debug().Msg("worker: dispatch called within worker")
		if perr := a.invoke(j); perr != nil {
			a.recordFailure(j, perr)
			return perr
		}
		a.recordSuccess(j)
		return nil
	}

	if err := a.ensureWorker(); err != nil {
		return err
	}

	start := time.Now()
	if err := a.enqueue(j); err != nil {
		return err
	}
	a.done.wait(j.seq)
	observability.ObserveSubmit(time.Since(start))

	if a.finalized.Load() {
		a.join()
	}
	if j.err != nil {
		return j.err
	}
	return nil
}

func (a *Adapter) onWorker() bool {
	id := a.workerID.Load()
	return id != 0 && goroutineID() == id
}

func (a *Adapter) ensureWorker() error {
	if a.workerID.Load() != 0 {
		return nil
	}
	a.startMu.Lock()
	defer a.startMu.Unlock()
	if a.finalized.Load() {
		return ErrFinalized
	}
	if a.exited != nil {
		return nil
	}
	a.start()
	return nil
}

// start launches the worker and waits until it reports ready. Caller holds
// startMu. Starting a second worker for the same adapter is a bug.
func (a *Adapter) start() {
	if a.exited != nil {
		panic("worker: session worker already started")
	}
	a.exited = make(chan struct{})
	a.setState(StateStarting)
	a.log.Debug().Msg("worker: starting session worker")
	go a.run(a.exited)
	a.done.waitReady()
}

// join waits for a finalized worker to exit and forgets its identity.
func (a *Adapter) join() {
	if a.onWorker() {
		return
	}
	a.startMu.Lock()
	defer a.startMu.Unlock()
	if a.exited == nil {
		return
	}
	<-a.exited
	a.exited = nil
	a.workerID.Store(0)
	a.log.Debug().Msg("worker: joined session worker")
}

func (a *Adapter) enqueue(j *job) error {
	b := a.box
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.newWork && !b.closed {
		b.cond.Wait()
	}
	if b.closed {
		return ErrFinalized
	}
	b.seq++
	j.seq = b.seq
	b.pending = j
	b.newWork = true
	b.cond.Broadcast()
	a.log.Debug().Uint64("seq", j.seq).Msg("worker: notified worker")
	return nil
}

func (a *Adapter) setState(s State) {
	a.state.Store(int32(s))
}

// Lifecycle hooks are logged but not counted as events.
func (a *Adapter) recordSuccess(j *job) {
	if !j.isEvent() {
		return
	}
	a.processed.Add(1)
	observability.RecordWorkerEvent(observability.ResultOK)
}

func (a *Adapter) recordFailure(j *job, perr *ProcessingError) {
	if j.isEvent() {
		a.processed.Add(1)
		a.failed.Add(1)
		observability.RecordWorkerEvent(observability.ResultFailed)
	}
	a.log.Error().
		Bool("lifecycle", !j.isEvent()).
		Str("kind", perr.Kind.String()).
		Err(perr.Cause).
		Msg("worker: caught failure while processing event")
}
