// Package jobstate provides the state machine definition for ingestion jobs.
//
// An ingestion job represents one enqueued document envelope moving through
// the at-least-once queue. Each job has a state that progresses through the
// state machine until reaching a terminal state.
//
// State machine:
//
//	pending -> in_progress        (worker claims the job)
//	retry -> in_progress          (worker claims a retried job)
//	in_progress -> completed      (processing succeeded)
//	in_progress -> retry          (processing failed, attempts remain)
//	in_progress -> failed         (processing failed, attempts exhausted)
//
// A job whose visibility deadline expires stays in_progress; the next claim
// re-hands it to another worker without a state transition. Terminal states
// (completed, failed) cannot transition further.
package jobstate

import (
	"database/sql/driver"
	"fmt"
)

// State represents the current state of an ingestion job.
type State string

const (
	// StatePending indicates the job is enqueued but not yet claimed by a worker.
	// This is the initial state when a job is created via Enqueue.
	StatePending State = "pending"

	// StateInProgress indicates a worker has claimed the job and holds a
	// visibility lease on it.
	StateInProgress State = "in_progress"

	// StateRetry indicates the job failed with attempts remaining and is
	// eligible to be claimed again.
	StateRetry State = "retry"

	// StateCompleted indicates processing succeeded. The document_id field
	// is populated.
	StateCompleted State = "completed"

	// StateFailed indicates the job failed terminally. The error field holds
	// the last error.
	StateFailed State = "failed"
)

// AllStates returns all possible job states.
func AllStates() []State {
	return []State{
		StatePending,
		StateInProgress,
		StateRetry,
		StateCompleted,
		StateFailed,
	}
}

// TerminalStates returns all terminal (final) states.
func TerminalStates() []State {
	return []State{
		StateCompleted,
		StateFailed,
	}
}

// ClaimableStates returns all states a worker claim may select from.
// An in_progress job is claimable only once its visibility deadline expires;
// that condition lives in the dequeue predicate, not here.
func ClaimableStates() []State {
	return []State{
		StatePending,
		StateRetry,
	}
}

// IsValid returns true if the state is a valid State value.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateInProgress, StateRetry, StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the state is a terminal (final) state.
// Terminal states cannot transition to any other state.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}

// IsClaimable returns true if a worker may claim a job in this state without
// any further condition.
func (s State) IsClaimable() bool {
	switch s {
	case StatePending, StateRetry:
		return true
	default:
		return false
	}
}

// CanTransitionTo returns true if a transition from this state to the
// target state is valid.
//
// Valid transitions:
//   - pending -> in_progress (worker claims)
//   - retry -> in_progress (worker claims after a retryable failure)
//   - in_progress -> completed
//   - in_progress -> retry (failure with attempts remaining)
//   - in_progress -> failed (failure with attempts exhausted)
//
// Everything else is invalid, including any transition out of a terminal
// state and same-state no-ops.
func (s State) CanTransitionTo(target State) bool {
	if s.IsTerminal() {
		return false
	}
	if s == target {
		return false
	}

	switch s {
	case StatePending, StateRetry:
		return target == StateInProgress
	case StateInProgress:
		return target == StateCompleted || target == StateRetry || target == StateFailed
	}

	return false
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Value implements driver.Valuer for database serialization.
func (s State) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements sql.Scanner for database deserialization.
func (s *State) Scan(src any) error {
	switch v := src.(type) {
	case string:
		state := State(v)
		if !state.IsValid() {
			return fmt.Errorf("jobstate: invalid state %q", v)
		}
		*s = state
		return nil
	case []byte:
		state := State(v)
		if !state.IsValid() {
			return fmt.Errorf("jobstate: invalid state %q", v)
		}
		*s = state
		return nil
	default:
		return fmt.Errorf("jobstate: cannot scan type %T into State", src)
	}
}

// Transition represents a state transition with validation.
type Transition struct {
	From State
	To   State
}

// Validate returns an error if the transition is invalid.
func (t Transition) Validate() error {
	if !t.From.IsValid() {
		return fmt.Errorf("jobstate: invalid source state %q", t.From)
	}
	if !t.To.IsValid() {
		return fmt.Errorf("jobstate: invalid target state %q", t.To)
	}
	if !t.From.CanTransitionTo(t.To) {
		return fmt.Errorf("jobstate: invalid transition from %q to %q", t.From, t.To)
	}
	return nil
}

// ValidTransitions returns all valid state transitions.
func ValidTransitions() []Transition {
	return []Transition{
		// From pending
		{From: StatePending, To: StateInProgress},
		// From retry
		{From: StateRetry, To: StateInProgress},
		// From in_progress
		{From: StateInProgress, To: StateCompleted},
		{From: StateInProgress, To: StateRetry},
		{From: StateInProgress, To: StateFailed},
	}
}

// NextStateForFailure returns the state a failing in_progress job moves to,
// given the retry count before the failure and the configured maximum.
func NextStateForFailure(retryCount, maxRetries int) State {
	if retryCount+1 < maxRetries {
		return StateRetry
	}
	return StateFailed
}
