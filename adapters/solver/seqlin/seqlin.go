// Package seqlin solves the non-convex nominal flow model by successive
// linearization: each round replaces every Weymouth coupling with its
// first-order expansion at the previous flows and hands the resulting
// convex program to a conic backend. A fixed point of the iteration
// satisfies the exact Weymouth physics, because the expansion of f*|f|
// around f equals f*|f| itself.
package seqlin

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"gasplan/ports"
)

// Options tunes the outer iteration.
type Options struct {
	// Limit caps linearization rounds.
	Limit int
	// FlowTol is the fixed-point tolerance on the flow update.
	FlowTol float64
	// ResidualTol is the acceptable worst-case Weymouth mismatch.
	ResidualTol float64
	// SlopeFloor keeps the linearized flow coefficient away from zero when
	// a pipe's flow crosses the origin.
	SlopeFloor float64
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		Limit:       60,
		FlowTol:     1e-8,
		ResidualTol: 1e-6,
		SlopeFloor:  1e-6,
	}
}

// Solver implements ports.NonlinearSolver on top of any conic backend.
type Solver struct {
	conic ports.ConicSolver
	opts  Options
}

// New creates a solver with default options.
func New(conic ports.ConicSolver) *Solver {
	return NewWithOptions(conic, DefaultOptions())
}

// NewWithOptions creates a solver with explicit tuning.
func NewWithOptions(conic ports.ConicSolver, o Options) *Solver {
	d := DefaultOptions()
	if o.Limit <= 0 {
		o.Limit = d.Limit
	}
	if o.FlowTol <= 0 {
		o.FlowTol = d.FlowTol
	}
	if o.ResidualTol <= 0 {
		o.ResidualTol = d.ResidualTol
	}
	if o.SlopeFloor <= 0 {
		o.SlopeFloor = d.SlopeFloor
	}
	return &Solver{conic: conic, opts: o}
}

// SolveFlow runs the successive linearization loop.
func (s *Solver) SolveFlow(ctx context.Context, prog *ports.FlowProgram) (*ports.FlowSolution, error) {
	if prog.Vars == nil {
		return nil, fmt.Errorf("flow program: nil variable map")
	}
	flowOff, flowLen, ok := prog.Vars.Range("flow")
	if !ok {
		return nil, fmt.Errorf("flow program: missing flow group")
	}
	if len(prog.Weymouth) != flowLen {
		return nil, fmt.Errorf("flow program: %d weymouth rows for %d flows", len(prog.Weymouth), flowLen)
	}

	// Round zero relaxes the physics entirely; the balance equalities pin
	// the flows on trees and give a sensible anchor on meshed networks.
	sol, err := s.conic.SolveConic(ctx, s.convexify(prog, nil))
	if err != nil {
		return nil, err
	}
	if sol.Status != ports.StatusConverged {
		return &ports.FlowSolution{Status: sol.Status}, nil
	}
	x := sol.X

	flows := func(v []float64) []float64 { return v[flowOff : flowOff+flowLen] }

	var (
		conic      *ports.ConicSolution
		prevResid  = math.Inf(1)
		iterations = 0
	)
	status := ports.StatusIterationLimit
	for k := 0; k < s.opts.Limit; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		anchor := append([]float64(nil), flows(x)...)
		conic, err = s.conic.SolveConic(ctx, s.convexify(prog, anchor))
		if err != nil {
			return nil, err
		}
		iterations = k + 1
		if conic.Status != ports.StatusConverged {
			return &ports.FlowSolution{Status: conic.Status, Iterations: iterations}, nil
		}

		resid := s.residual(prog, conic.X)
		delta := 0.0
		for i, f := range flows(conic.X) {
			if d := math.Abs(f - anchor[i]); d > delta {
				delta = d
			}
		}
		scale := 1 + floats.Norm(flows(conic.X), math.Inf(1))

		if resid <= s.opts.ResidualTol && delta <= s.opts.FlowTol*scale {
			x = conic.X
			status = ports.StatusConverged
			break
		}

		if resid > 2*prevResid {
			// Oscillation guard: blend back toward the previous iterate.
			// Both points satisfy the linear equalities and bounds, so the
			// midpoint does too.
			blended := make([]float64, len(x))
			for i := range blended {
				blended[i] = 0.5 * (x[i] + conic.X[i])
			}
			x = blended
		} else {
			x = conic.X
		}
		prevResid = resid
	}

	return &ports.FlowSolution{
		Status:     status,
		X:          x,
		Objective:  objectiveAt(prog, x),
		Iterations: iterations,
		Residual:   s.residual(prog, x),
		Jacobian:   s.jacobian(prog, x),
	}, nil
}

// convexify builds the round's conic program: the declared equalities and
// bounds plus, when anchor is non-nil, one linearized Weymouth equality per
// pipe: 2|f0| f - w*(pu - pv + side*k) = f0|f0|.
func (s *Solver) convexify(prog *ports.FlowProgram, anchor []float64) *ports.ConicProgram {
	n := prog.Vars.Len()
	out := &ports.ConicProgram{
		NumVars: n,
		Q:       prog.Q,
		C:       prog.C,
		Offset:  prog.Offset,
	}
	out.Blocks = append(out.Blocks, prog.Blocks...)

	if anchor != nil {
		rows := len(prog.Weymouth)
		a := mat.NewDense(rows, n, nil)
		b := make([]float64, rows)
		for l, eq := range prog.Weymouth {
			f0 := anchor[l]
			slope := 2 * math.Abs(f0)
			if slope < s.opts.SlopeFloor {
				slope = s.opts.SlopeFloor
			}
			a.Set(l, eq.Flow, slope)
			a.Set(l, eq.PressureFrom, -eq.Resistance)
			a.Set(l, eq.PressureTo, eq.Resistance)
			if eq.Compression >= 0 {
				a.Set(l, eq.Compression, -eq.Resistance*eq.Side)
			}
			b[l] = f0 * math.Abs(f0)
		}
		out.Blocks = append(out.Blocks, ports.EqualityBlock{Name: "weymouth", A: a, B: b})
	}

	for _, bd := range prog.Bounds {
		if !math.IsInf(bd.Lower, -1) {
			g := make([]float64, n)
			g[bd.Index] = 1
			out.Cones = append(out.Cones, ports.Cone{
				Name: fmt.Sprintf("lb[%d]", bd.Index),
				Kind: ports.KindLimit,
				G:    g,
				H:    -bd.Lower,
			})
		}
		if !math.IsInf(bd.Upper, 1) {
			g := make([]float64, n)
			g[bd.Index] = -1
			out.Cones = append(out.Cones, ports.Cone{
				Name: fmt.Sprintf("ub[%d]", bd.Index),
				Kind: ports.KindLimit,
				G:    g,
				H:    bd.Upper,
			})
		}
	}
	return out
}

// residual is the worst absolute Weymouth mismatch f|f| - w*drop at x.
func (s *Solver) residual(prog *ports.FlowProgram, x []float64) float64 {
	worst := 0.0
	for _, eq := range prog.Weymouth {
		f := x[eq.Flow]
		drop := x[eq.PressureFrom] - x[eq.PressureTo]
		if eq.Compression >= 0 {
			drop += eq.Side * x[eq.Compression]
		}
		if r := math.Abs(f*math.Abs(f) - eq.Resistance*drop); r > worst {
			worst = r
		}
	}
	return worst
}

// jacobian evaluates the Weymouth partials at x in group-local columns.
func (s *Solver) jacobian(prog *ports.FlowProgram, x []float64) *ports.WeymouthJacobian {
	rows := len(prog.Weymouth)
	pOff, pLen, _ := prog.Vars.Range("pressure")
	cOff, cLen, _ := prog.Vars.Range("compression")

	j := &ports.WeymouthJacobian{
		DFlow:     mat.NewDense(rows, rows, nil),
		DPressure: mat.NewDense(rows, pLen, nil),
	}
	if cLen > 0 {
		j.DCompression = mat.NewDense(rows, cLen, nil)
	}
	for l, eq := range prog.Weymouth {
		j.DFlow.Set(l, l, 2*math.Abs(x[eq.Flow]))
		j.DPressure.Set(l, eq.PressureFrom-pOff, -eq.Resistance)
		j.DPressure.Set(l, eq.PressureTo-pOff, eq.Resistance)
		if eq.Compression >= 0 && j.DCompression != nil {
			j.DCompression.Set(l, eq.Compression-cOff, -eq.Resistance*eq.Side)
		}
	}
	return j
}

func objectiveAt(prog *ports.FlowProgram, x []float64) float64 {
	v := prog.Offset + floats.Dot(prog.C, x)
	if prog.Q != nil {
		n := len(x)
		acc := 0.0
		for i := 0; i < n; i++ {
			row := 0.0
			for jj := 0; jj < n; jj++ {
				row += prog.Q.At(i, jj) * x[jj]
			}
			acc += x[i] * row
		}
		v += 0.5 * acc
	}
	return v
}
