package ports

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// VarBound is a box bound on one variable; use infinities for open sides.
type VarBound struct {
	Index int
	Lower float64
	Upper float64
}

// WeymouthEq declares one pipe's non-convex flow-pressure coupling
//
//	x[Flow]*|x[Flow]| = Resistance * (x[PressureFrom] - x[PressureTo] + Side*x[Compression])
//
// Compression is -1 for passive pipes (the term drops out).
type WeymouthEq struct {
	Flow         int
	PressureFrom int
	PressureTo   int
	Compression  int
	Resistance   float64
	Side         float64
}

// FlowProgram is the declarative nominal dispatch model: a convex quadratic
// objective, linear equalities and bounds, plus exactly one family of
// non-convex equalities (the Weymouth couplings). Anything richer belongs
// in a different port.
//
// Vars must contain groups named "pressure", "flow" and "compression";
// WeymouthEq indices are flat positions inside them. The compression group
// may be empty.
type FlowProgram struct {
	Vars     *VariableMap
	Q        *mat.SymDense
	C        []float64
	Offset   float64
	Blocks   []EqualityBlock
	Bounds   []VarBound
	Weymouth []WeymouthEq
}

// WeymouthJacobian holds the partial derivatives of the Weymouth residuals
// at a solution, row-ordered like FlowProgram.Weymouth. DFlow is diagonal
// with raw entries 2|flow_l| (no epsilon guard); DPressure and
// DCompression have one column per variable of the pressure and
// compression groups, in group-local order. DCompression is nil when the
// compression group is empty.
type WeymouthJacobian struct {
	DFlow        *mat.Dense
	DPressure    *mat.Dense
	DCompression *mat.Dense
}

// FlowSolution is the solved nominal state with Jacobian access for the
// linearization stage.
type FlowSolution struct {
	Status     Status
	X          []float64
	Objective  float64
	Iterations int
	// Residual is the worst absolute Weymouth mismatch at X.
	Residual float64
	Jacobian *WeymouthJacobian
}

// NonlinearSolver computes a feasible, locally optimal point of a
// FlowProgram.
type NonlinearSolver interface {
	SolveFlow(ctx context.Context, prog *FlowProgram) (*FlowSolution, error)
}
