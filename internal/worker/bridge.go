package worker

import "github.com/danmuck/onethread/internal/observability"

// Suspend lets the session block in WaitForNextInput mid-event without
// holding the worker loop lock, so other goroutines can queue their events
// meanwhile. The lock is always reacquired before Suspend returns or
// unwinds. It must be called on the worker while an event is processing.
func (a *Adapter) Suspend() error {
	if !a.onWorker() {
		return ErrNotWorker
	}
	if a.State() != StateProcessing {
		return ErrNotProcessing
	}
	lock := a.lock
	if err := lock.release(); err != nil {
		return err
	}
	defer lock.acquire()

	a.suspensions.Add(1)
	observability.RecordSuspension()
	a.log.Debug().Msg("worker: suspending for next input")
	err := a.sess.WaitForNextInput()
	a.log.Debug().Err(err).Msg("worker: returning from suspension")
	return err
}
