// Package worker pins all event processing for one session to a single
// dedicated goroutine.
//
// Ownership boundary:
// - worker goroutine lifecycle (lazy start, finalization, join)
// - caller/worker rendezvous (new-work mailbox, completion signal)
// - reentrant dispatch from the worker itself
// - suspension of the worker loop lock across nested input waits
// - failure transport from the worker back to the submitting caller
//
// Lifecycle order:
// - idle -> starting -> ready -> awaiting work <-> processing -> terminated
//
// - the worker is started by the first Submit/Initialize/Finalize call.
//
// - a finalized adapter never restarts its worker.
//
// Sessions never see a lock. The worker loop holds the mailbox lock for its
// whole life except while it waits for work or while the session is blocked
// in Suspend.
package worker
