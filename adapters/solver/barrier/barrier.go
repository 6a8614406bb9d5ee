// Package barrier implements a primal log-barrier interior-point solver for
// second-order cone programs with convex quadratic objectives. It follows
// the classic two-phase scheme: a feasibility phase minimizes a single
// relaxation scalar until the cone system has strict interior, then the
// main phase walks the central path, multiplying the barrier parameter
// until the complementarity gap target is met. Dual multipliers fall out of
// the final Newton system in closed form.
package barrier

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"gasplan/ports"
)

// Options tunes the interior-point loop.
type Options struct {
	// GapTol is the absolute complementarity gap target (2*cones/t).
	GapTol float64
	// FeasTol is the strict-interior margin phase I must certify.
	FeasTol float64
	// Mu multiplies the barrier parameter between centering rounds.
	Mu float64
	// MaxOuter caps continuation rounds; MaxNewton caps centering steps.
	MaxOuter  int
	MaxNewton int
	// NewtonTol bounds the squared Newton decrement at a centered point.
	NewtonTol float64
}

// DefaultOptions returns the tuning used across the pipeline.
func DefaultOptions() Options {
	return Options{
		GapTol:    1e-9,
		FeasTol:   1e-9,
		Mu:        20,
		MaxOuter:  40,
		MaxNewton: 60,
		NewtonTol: 1e-9,
	}
}

// Solver implements ports.ConicSolver.
type Solver struct {
	opts Options
}

// New creates a solver with default options.
func New() *Solver { return NewWithOptions(DefaultOptions()) }

// NewWithOptions creates a solver with explicit tuning.
func NewWithOptions(o Options) *Solver {
	d := DefaultOptions()
	if o.GapTol <= 0 {
		o.GapTol = d.GapTol
	}
	if o.FeasTol <= 0 {
		o.FeasTol = d.FeasTol
	}
	if o.Mu <= 1 {
		o.Mu = d.Mu
	}
	if o.MaxOuter <= 0 {
		o.MaxOuter = d.MaxOuter
	}
	if o.MaxNewton <= 0 {
		o.MaxNewton = d.MaxNewton
	}
	if o.NewtonTol <= 0 {
		o.NewtonTol = d.NewtonTol
	}
	return &Solver{opts: o}
}

// SolveConic solves the program. Infeasibility and iteration exhaustion are
// reported through the solution status; errors are reserved for malformed
// programs and numerical breakdown.
func (s *Solver) SolveConic(ctx context.Context, prog *ports.ConicProgram) (*ports.ConicSolution, error) {
	ws, err := newWorkspace(prog)
	if err != nil {
		return nil, err
	}

	x, ok := ws.equalityPoint()
	if !ok {
		return &ports.ConicSolution{Status: ports.StatusInfeasible}, nil
	}

	// No cones: the KKT system of the equality-constrained QP is linear,
	// one Newton solve finishes the job.
	if len(ws.cones) == 0 {
		return ws.solveEqualityQP(x)
	}

	if ws.interiorMargin(x) <= s.opts.FeasTol {
		x, ok, err = s.phaseOne(ctx, ws, x)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &ports.ConicSolution{Status: ports.StatusInfeasible}, nil
		}
	}

	m := float64(2 * len(ws.cones))
	t := 1.0
	status := ports.StatusConverged
	iterations := 0
	var w []float64

	for outer := 0; ; outer++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var steps int
		var centered bool
		x, w, steps, centered, err = ws.center(x, t, s.opts, nil)
		iterations += steps
		if err != nil {
			return &ports.ConicSolution{Status: ports.StatusNumericalError}, nil
		}
		if m/t <= s.opts.GapTol {
			if !centered {
				status = ports.StatusIterationLimit
			}
			break
		}
		if outer+1 >= s.opts.MaxOuter {
			status = ports.StatusIterationLimit
			break
		}
		t *= s.opts.Mu
	}

	sol := &ports.ConicSolution{
		Status:     status,
		X:          x,
		Objective:  ws.objective(x),
		Iterations: iterations,
		Gap:        m / t,
	}
	ws.recoverDuals(sol, x, w, t)
	return sol, nil
}

// solveEqualityQP handles programs with no cones at all.
func (ws *workspace) solveEqualityQP(x []float64) (*ports.ConicSolution, error) {
	g, h := ws.gradHess(x, 1)
	dx, w, err := ws.kktSolve(h, g)
	if err != nil {
		return &ports.ConicSolution{Status: ports.StatusNumericalError}, nil
	}
	floats.Add(x, dx)
	sol := &ports.ConicSolution{
		Status:     ports.StatusConverged,
		X:          x,
		Objective:  ws.objective(x),
		Iterations: 1,
	}
	ws.recoverDuals(sol, x, w, 1)
	return sol, nil
}

func validateDims(name string, got, want int) error {
	if got != want {
		return fmt.Errorf("conic program: %s has length %d, want %d", name, got, want)
	}
	return nil
}

// interiorMargin is the smallest slack-minus-norm over all cones; positive
// means strictly feasible.
func (ws *workspace) interiorMargin(x []float64) float64 {
	margin := math.Inf(1)
	for i := range ws.cones {
		sl, nrm, _ := ws.coneValue(i, x)
		if m := sl - nrm; m < margin {
			margin = m
		}
	}
	return margin
}
