package ports

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// ConeKind labels what a second-order cone constraint encodes, so analysis
// stages can attribute its dual contribution without parsing names.
type ConeKind int

const (
	// KindLimit marks an operational bound (possibly tightened by a safety
	// margin); these are the limits counted against the violation budget.
	KindLimit ConeKind = iota
	// KindVariance marks a dispersion epigraph definition.
	KindVariance
	// KindCost marks an expected-cost epigraph.
	KindCost
)

// EqualityBlock is one named group of linear equalities A*x = B.
type EqualityBlock struct {
	Name string
	A    *mat.Dense
	B    []float64
}

// Cone is one second-order cone constraint
//
//	G*x + H >= || V*x + V0 ||
//
// with a scalar slack row (G, H) and a stacked vector part (V, V0). A nil V
// with empty V0 degrades to the linear inequality G*x + H >= 0.
type Cone struct {
	Name string
	Kind ConeKind
	G    []float64
	H    float64
	V    *mat.Dense
	V0   []float64
}

// ConicProgram is a second-order cone program with an optional convex
// quadratic objective
//
//	minimize 0.5*x'Qx + C'x + Offset
//	subject to the equality blocks and cones.
type ConicProgram struct {
	NumVars int
	Q       *mat.SymDense // nil for a linear objective
	C       []float64
	Offset  float64
	Blocks  []EqualityBlock
	Cones   []Cone
}

// ConeDualParts carries the multipliers of one cone: Slack prices the
// scalar row, Vector the stacked rows. Optimality keeps ||Vector|| <= Slack
// with complementarity against the primal cone.
type ConeDualParts struct {
	Name   string
	Slack  float64
	Vector []float64
}

// ConicSolution is a primal-dual solution. The sign convention for duals
// follows the Lagrangian
//
//	L = f0(x) + sum_blocks lambda'(B - A*x) + sum_cones (u'(V*x+V0) - mu*(G*x+H))
//
// so stationarity reads Qx + C - A'lambda + sum(V'u - mu*G) = 0 and the
// dual objective is sum lambda'B + sum(u'V0 - mu*H) - 0.5*x'Qx + Offset.
type ConicSolution struct {
	Status    Status
	X         []float64
	Objective float64
	// EqDuals maps an equality block name to its multipliers (lambda).
	EqDuals map[string][]float64
	// ConeDuals is parallel to ConicProgram.Cones.
	ConeDuals  []ConeDualParts
	Iterations int
	// Gap is the solver's final complementarity gap estimate.
	Gap float64
}

// ConicSolver solves second-order cone programs to optimality with dual
// multipliers, or reports why it could not.
type ConicSolver interface {
	SolveConic(ctx context.Context, prog *ConicProgram) (*ConicSolution, error)
}
