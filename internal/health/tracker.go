// Package health tracks the field-bus connection as a small state machine driven
// by consecutive failures.
package health

import (
	"sync"
	"time"
)

// Status is the process-wide gateway health.
type Status int

const (
	Healthy Status = iota
	Degraded
	Down
)

// DefaultFailureThreshold is the number of consecutive failures that marks the gateway DOWN.
const DefaultFailureThreshold = 3

func (s Status) String() string {
	switch s {
	case Healthy:
		return "HEALTHY"
	case Degraded:
		return "DEGRADED"
	case Down:
		return "DOWN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status by name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transition is emitted whenever the status actually changes.
type Transition struct {
	From     Status
	To       Status
	Failures int
	At       time.Time
}

// Snapshot is a consistent read of the tracker.
type Snapshot struct {
	Status   Status `json:"status"`
	Failures int    `json:"failures"`
}

// Observer receives transitions. It runs synchronously on the caller of
// Success/Failure and must not call back into the tracker.
type Observer func(Transition)

// Tracker is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	threshold int
	status    Status
	failures  int
	observers []Observer
	now       func() time.Time
}

// NewTracker starts HEALTHY with zero failures. A threshold below 1 falls back to the default.
func NewTracker(threshold int) *Tracker {
	if threshold < 1 {
		threshold = DefaultFailureThreshold
	}
	return &Tracker{
		threshold: threshold,
		status:    Healthy,
		now:       time.Now,
	}
}

// Subscribe registers an observer for status changes.
func (t *Tracker) Subscribe(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// Success resets the failure counter and returns to HEALTHY.
func (t *Tracker) Success() {
	t.mu.Lock()
	t.failures = 0
	tr, changed := t.setLocked(Healthy)
	observers := t.observers
	t.mu.Unlock()

	if changed {
		notify(observers, tr)
	}
}

// Failure counts one more consecutive failure.
func (t *Tracker) Failure() {
	t.mu.Lock()
	t.failures++
	next := Degraded
	if t.failures >= t.threshold {
		next = Down
	}
	tr, changed := t.setLocked(next)
	observers := t.observers
	t.mu.Unlock()

	if changed {
		notify(observers, tr)
	}
}

// Status returns the current status.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Snapshot returns status and failure count read together.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{Status: t.status, Failures: t.failures}
}

func (t *Tracker) setLocked(next Status) (Transition, bool) {
	if t.status == next {
		return Transition{}, false
	}
	tr := Transition{From: t.status, To: next, Failures: t.failures, At: t.now()}
	t.status = next
	return tr, true
}

func notify(observers []Observer, tr Transition) {
	for _, o := range observers {
		o(tr)
	}
}
