package worker

import (
	"runtime"

	"github.com/danmuck/onethread/internal/observability"
)

// run is the worker goroutine. It owns the mailbox lock from its first
// iteration until it exits, giving it up only inside cond.Wait and Suspend.
func (a *Adapter) run(exited chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(exited)

	a.workerID.Store(goroutineID())
	observability.WorkerStarted()
	defer observability.WorkerStopped()

	a.setState(StateReady)
	a.done.signalReady()

	b := a.box
	lock := &loopLock{mu: &b.mu}
	lock.acquire()
	a.lock = lock

	for {
		for !b.newWork {
			a.setState(StateAwaitingWork)
			a.log.Debug().Msg("worker: waiting for event")
			b.cond.Wait()
		}

		j := b.pending
		b.pending = nil
		b.newWork = false
		b.cond.Broadcast()

		a.setState(StateProcessing)
		a.log.Debug().Uint64("seq", j.seq).Msg("worker: handling event")
		a.process(j)
		a.done.signal(j.seq)

		if a.finalized.Load() {
			break
		}
	}

	a.setState(StateTerminated)
	b.closed = true
	if j := b.pending; j != nil {
		b.pending = nil
		b.newWork = false
		j.err = finalizedFailure(j.ev)
		a.done.signal(j.seq)
	}
	b.cond.Broadcast()
	a.lock = nil
	_ = lock.release()
	a.log.Debug().Msg("worker: session worker exiting")
}

// process runs one job between the attach/detach hooks. Failures never
// escape; they are recorded on the job for the submitter.
func (a *Adapter) process(j *job) {
	attacher, _ := a.sess.(ThreadAttacher)
	if attacher != nil {
		attacher.AttachThread(true)
	}
	perr := a.invoke(j)
	if attacher != nil {
		attacher.AttachThread(false)
	}

	if perr != nil {
		j.err = perr
		a.recordFailure(j, perr)
		return
	}
	a.recordSuccess(j)
}

func (a *Adapter) invoke(j *job) (perr *ProcessingError) {
	defer func() {
		if r := recover(); r != nil {
			perr = panicFailure(j.ev, r)
		}
	}()
	var err error
	if j.run != nil {
		err = j.run()
	} else {
		err = a.sess.ProcessEvent(a, j.ev)
	}
	if err != nil {
		return errorFailure(j.ev, err)
	}
	return nil
}
