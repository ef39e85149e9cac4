package game

import (
	"sync"

	"github.com/juju/errors"
	atomic_clock "github.com/temoto/atomic_clock"
)

// RequestState tracks the blocking convenience calls (Login, Register).
// Historical single-in-flight model: only one request may be non-Idle.
// Async operations go straight through the dispatcher and do not touch it.
type RequestState uint8

const (
	StateIdle RequestState = iota
	StatePending
	StateProcessing
	StateCompleted
	StateError
)

func (s RequestState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePending:
		return "Pending"
	case StateProcessing:
		return "Processing"
	case StateCompleted:
		return "Completed"
	case StateError:
		return "Error"
	}
	return "?"
}

type requestTracker struct {
	mu      sync.Mutex
	state   RequestState
	last    RequestState
	started atomic_clock.Clock
}

// begin moves Idle->Pending, rejecting a second concurrent request.
func (rt *requestTracker) begin() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.state != StateIdle {
		return errors.Errorf("request in flight state=%s age=%s", rt.state, atomic_clock.Since(&rt.started))
	}
	rt.state = StatePending
	rt.started.SetNow()
	return nil
}

// sent moves Pending->Processing once the job is handed to the dispatcher.
func (rt *requestTracker) sent() {
	rt.mu.Lock()
	if rt.state == StatePending {
		rt.state = StateProcessing
	}
	rt.mu.Unlock()
}

// end records the terminal state and returns to Idle.
func (rt *requestTracker) end(err error) {
	rt.mu.Lock()
	if err == nil {
		rt.last = StateCompleted
	} else {
		rt.last = StateError
	}
	rt.state = StateIdle
	rt.mu.Unlock()
}

func (rt *requestTracker) current() RequestState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// lastResult is Completed or Error of the most recent finished request.
func (rt *requestTracker) lastResult() RequestState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.last
}
