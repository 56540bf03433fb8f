package worker

import "fmt"

// State is the worker loop phase as observed from outside.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateReady
	StateAwaitingWork
	StateProcessing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateAwaitingWork:
		return "awaiting_work"
	case StateProcessing:
		return "processing"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stats counts worker activity since the adapter was created.
type Stats struct {
	Processed   uint64 `json:"processed"`
	Failed      uint64 `json:"failed"`
	Suspensions uint64 `json:"suspensions"`
	Reentrant   uint64 `json:"reentrant"`
}
