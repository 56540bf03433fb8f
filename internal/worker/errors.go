package worker

import (
	"errors"
	"fmt"
)

var (
	ErrProcessingFailed = errors.New("worker: processing of the submitted event failed")
	ErrFinalized        = errors.New("worker: session finalized")
	ErrNotWorker        = errors.New("worker: not called from the session worker")
	ErrNotProcessing    = errors.New("worker: no event is being processed")
	ErrLockNotHeld      = errors.New("worker: loop lock not held")
)

// FailureKind classifies how a session hook failed on the worker.
type FailureKind int

const (
	// KindError is a non-nil error returned by the hook.
	KindError FailureKind = iota
	// KindPanic is a recovered panic.
	KindPanic
	// KindFinalized marks a job the worker dropped because it terminated first.
	KindFinalized
)

func (k FailureKind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindPanic:
		return "panic"
	case KindFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ProcessingError is the failure handed back to the goroutine that
// submitted an event. It always matches ErrProcessingFailed.
type ProcessingError struct {
	Kind    FailureKind
	Message string
	Event   Event
	Cause   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%v (%s): %s", ErrProcessingFailed, e.Kind, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

func (e *ProcessingError) Is(target error) bool {
	return target == ErrProcessingFailed
}

func errorFailure(ev Event, err error) *ProcessingError {
	return &ProcessingError{
		Kind:    KindError,
		Message: err.Error(),
		Event:   ev,
		Cause:   err,
	}
}

func panicFailure(ev Event, r any) *ProcessingError {
	cause, ok := r.(error)
	if !ok {
		cause = fmt.Errorf("panic: %v", r)
	}
	return &ProcessingError{
		Kind:    KindPanic,
		Message: fmt.Sprint(r),
		Event:   ev,
		Cause:   cause,
	}
}

func finalizedFailure(ev Event) *ProcessingError {
	return &ProcessingError{
		Kind:    KindFinalized,
		Message: "worker terminated before the event was processed",
		Event:   ev,
		Cause:   ErrFinalized,
	}
}
