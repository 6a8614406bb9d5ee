package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Input errors
	ErrBadCase     = errors.New("invalid case data")
	ErrBadTopology = errors.New("invalid network topology")
	ErrBadSettings = errors.New("invalid settings")

	// Solver errors
	ErrNonConvergence  = errors.New("solver failed to converge")
	ErrInfeasible      = fmt.Errorf("%w: problem infeasible", ErrNonConvergence)
	ErrIterationLimit  = fmt.Errorf("%w: iteration limit reached", ErrNonConvergence)
	ErrNumericalFailed = fmt.Errorf("%w: numerical failure", ErrNonConvergence)

	// Linearization errors
	ErrSingularSensitivity = errors.New("pressure response singular after gauge reduction")

	// Forecast errors
	ErrBadCovariance = errors.New("demand-error covariance not positive semidefinite")
)

// Error constructors with context
func NewTopologyError(entity string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrBadTopology, entity, reason)
}

func NewSettingsError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrBadSettings, field, reason)
}

func NewCaseError(table string, row int, reason string) error {
	return fmt.Errorf("%w: %s row %d: %s", ErrBadCase, table, row, reason)
}

func NewSolveError(stage string, status string) error {
	return fmt.Errorf("%w: %s reported %s", ErrNonConvergence, stage, status)
}

// StatusError maps a backend status string to the matching typed solver
// error, so callers can classify failures without importing the backend.
func StatusError(stage string, status string) error {
	switch status {
	case "infeasible":
		return fmt.Errorf("%w: %s", ErrInfeasible, stage)
	case "iteration_limit":
		return fmt.Errorf("%w: %s", ErrIterationLimit, stage)
	case "numerical_error":
		return fmt.Errorf("%w: %s", ErrNumericalFailed, stage)
	default:
		return NewSolveError(stage, status)
	}
}

// Error checking helpers
func IsInputError(err error) bool {
	return errors.Is(err, ErrBadCase) ||
		errors.Is(err, ErrBadTopology) ||
		errors.Is(err, ErrBadSettings)
}

func IsNonConvergence(err error) bool {
	return errors.Is(err, ErrNonConvergence)
}

func IsSingularSensitivity(err error) bool {
	return errors.Is(err, ErrSingularSensitivity)
}
