package ports

// Status is the outcome classification every solver backend reports.
type Status int

const (
	StatusUnknown Status = iota
	StatusConverged
	StatusInfeasible
	StatusIterationLimit
	StatusNumericalError
)

func (s Status) String() string {
	switch s {
	case StatusConverged:
		return "converged"
	case StatusInfeasible:
		return "infeasible"
	case StatusIterationLimit:
		return "iteration_limit"
	case StatusNumericalError:
		return "numerical_error"
	default:
		return "unknown"
	}
}

// Converged reports whether the backend certified optimality.
func (s Status) Converged() bool { return s == StatusConverged }
