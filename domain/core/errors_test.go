package core

import (
	"errors"
	"fmt"
	"testing"
)

// TestErrorWrapping tests that constructors preserve sentinel identity
func TestErrorWrapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"topology", NewTopologyError("pipe p7", "self loop"), ErrBadTopology},
		{"settings", NewSettingsError("violation_budget", "out of range"), ErrBadSettings},
		{"case", NewCaseError("nodes", 3, "bad demand"), ErrBadCase},
		{"solve", NewSolveError("chance", "iteration_limit"), ErrNonConvergence},
	}
	for _, test := range tests {
		if !errors.Is(test.err, test.sentinel) {
			t.Errorf("%s: expected %v to wrap %v", test.name, test.err, test.sentinel)
		}
	}
}

// TestIsInputError tests the input-error classifier
func TestIsInputError(t *testing.T) {
	if !IsInputError(NewTopologyError("node a", "duplicate")) {
		t.Error("topology error should classify as input error")
	}
	if !IsInputError(fmt.Errorf("loading case: %w", ErrBadCase)) {
		t.Error("wrapped case error should classify as input error")
	}
	if IsInputError(ErrNonConvergence) {
		t.Error("solver error should not classify as input error")
	}
}

// TestIsNonConvergence tests that derived solver errors keep the sentinel
func TestIsNonConvergence(t *testing.T) {
	for _, err := range []error{ErrInfeasible, ErrIterationLimit, ErrNumericalFailed} {
		if !IsNonConvergence(err) {
			t.Errorf("expected %v to classify as non-convergence", err)
		}
	}
	if IsNonConvergence(ErrSingularSensitivity) {
		t.Error("singular sensitivity is recoverable, not a non-convergence")
	}
}
