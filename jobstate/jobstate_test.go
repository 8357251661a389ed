package jobstate

import "testing"

func TestIsValid(t *testing.T) {
	for _, s := range AllStates() {
		if !s.IsValid() {
			t.Errorf("state %q should be valid", s)
		}
	}
	if State("bogus").IsValid() {
		t.Error("bogus state should not be valid")
	}
	if State("").IsValid() {
		t.Error("empty state should not be valid")
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		terminal bool
	}{
		{StatePending, false},
		{StateInProgress, false},
		{StateRetry, false},
		{StateCompleted, true},
		{StateFailed, true},
	}

	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from  State
		to    State
		valid bool
	}{
		{StatePending, StateInProgress, true},
		{StateRetry, StateInProgress, true},
		{StateInProgress, StateCompleted, true},
		{StateInProgress, StateRetry, true},
		{StateInProgress, StateFailed, true},

		// No shortcuts into terminal states from pending/retry.
		{StatePending, StateCompleted, false},
		{StatePending, StateFailed, false},
		{StateRetry, StateCompleted, false},
		{StateRetry, StateFailed, false},

		// Terminal states never transition.
		{StateCompleted, StatePending, false},
		{StateCompleted, StateInProgress, false},
		{StateFailed, StateCompleted, false},
		{StateFailed, StateInProgress, false},

		// Same-state no-ops are invalid.
		{StatePending, StatePending, false},
		{StateInProgress, StateInProgress, false},

		// Backwards moves are invalid.
		{StateInProgress, StatePending, false},
		{StateRetry, StatePending, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.valid {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestValidTransitionsAllValidate(t *testing.T) {
	for _, tr := range ValidTransitions() {
		if err := tr.Validate(); err != nil {
			t.Errorf("transition %s -> %s should validate: %v", tr.From, tr.To, err)
		}
	}
}

func TestTransitionValidateRejectsInvalid(t *testing.T) {
	tests := []Transition{
		{From: State("bogus"), To: StateInProgress},
		{From: StatePending, To: State("bogus")},
		{From: StateCompleted, To: StatePending},
		{From: StatePending, To: StateFailed},
	}

	for _, tr := range tests {
		if err := tr.Validate(); err == nil {
			t.Errorf("transition %s -> %s should not validate", tr.From, tr.To)
		}
	}
}

func TestScan(t *testing.T) {
	var s State
	if err := s.Scan("in_progress"); err != nil {
		t.Fatalf("Scan(string) failed: %v", err)
	}
	if s != StateInProgress {
		t.Errorf("got %q, want %q", s, StateInProgress)
	}

	if err := s.Scan([]byte("retry")); err != nil {
		t.Fatalf("Scan([]byte) failed: %v", err)
	}
	if s != StateRetry {
		t.Errorf("got %q, want %q", s, StateRetry)
	}

	if err := s.Scan("bogus"); err == nil {
		t.Error("Scan should reject unknown state strings")
	}
	if err := s.Scan(42); err == nil {
		t.Error("Scan should reject non-string types")
	}
}

func TestValue(t *testing.T) {
	v, err := StateCompleted.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if v != "completed" {
		t.Errorf("got %v, want %q", v, "completed")
	}
}

func TestNextStateForFailure(t *testing.T) {
	tests := []struct {
		retryCount int
		maxRetries int
		want       State
	}{
		{0, 3, StateRetry},
		{1, 3, StateRetry},
		{2, 3, StateFailed},
		{5, 3, StateFailed},
		{0, 1, StateFailed},
	}

	for _, tt := range tests {
		if got := NextStateForFailure(tt.retryCount, tt.maxRetries); got != tt.want {
			t.Errorf("NextStateForFailure(%d, %d) = %s, want %s",
				tt.retryCount, tt.maxRetries, got, tt.want)
		}
	}
}
