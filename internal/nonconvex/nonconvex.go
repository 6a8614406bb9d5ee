// Package nonconvex solves the nominal dispatch problem: minimum-cost
// injections meeting demand exactly while every pipe satisfies the signed
// Weymouth pressure-drop law. The problem is non-convex; the heavy lifting
// is delegated to a ports.NonlinearSolver backend and this package owns
// the translation between network data and the solver's flat program.
package nonconvex

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"gasplan/domain/core"
	"gasplan/domain/network"
	"gasplan/domain/policy"
	"gasplan/internal"
	"gasplan/ports"
)

// Variable group names shared with the linearizer.
const (
	GroupPressure    = "pressure"
	GroupFlow        = "flow"
	GroupCompression = "compression"
	GroupInjection   = "injection"
)

// Solver runs the nominal flow stage.
type Solver struct {
	backend ports.NonlinearSolver
	log     *internal.Logger
}

func New(backend ports.NonlinearSolver) *Solver {
	return &Solver{backend: backend, log: internal.DefaultLogger.Tagged("Nominal")}
}

// BuildProgram assembles the flat nominal program for a network:
//
//	min  sum_p c2_p*inj_p^2 + c1_p*inj_p
//	s.t. inj + B*kappa - A*flow = demand   (balance, per node)
//	     pressure[ref] = gauge             (gauge pin)
//	     flow_l|flow_l| = w_l*(drop_l)     (Weymouth, per pipe)
//	     box bounds on all variables
//
// Variable order is pressure, flow, compression, injection; the group map
// travels with the program so downstream stages never hard-code offsets.
func BuildProgram(net *network.NetworkData) *ports.FlowProgram {
	nn := net.NumNodes()
	ne := net.NumPipes()
	na := net.NumActive()
	np := net.NumProducers()

	vars := ports.NewVariableMap()
	pOff := vars.Add(GroupPressure, nn)
	fOff := vars.Add(GroupFlow, ne)
	kOff := vars.Add(GroupCompression, na)
	iOff := vars.Add(GroupInjection, np)
	total := vars.Len()

	// Quadratic production cost on injections only.
	q := mat.NewSymDense(total, nil)
	c := make([]float64, total)
	for p, prod := range net.Producers {
		q.SetSym(iOff+p, iOff+p, 2*prod.CostQuad)
		c[iOff+p] = prod.CostLin
	}

	// Nodal balance: inj + B*kappa - A*flow = demand.
	bal := mat.NewDense(nn, total, nil)
	for p, node := range net.ProducerNodes {
		bal.Set(node, iOff+p, 1)
	}
	for a, l := range net.ActivePipes {
		bal.Set(net.InjectionNode(l), kOff+a, float64(net.Pipes[l].CompressionSide))
	}
	for l := range net.Pipes {
		from, to := net.Endpoints(l)
		bal.Set(from, fOff+l, bal.At(from, fOff+l)-1)
		bal.Set(to, fOff+l, bal.At(to, fOff+l)+1)
	}

	ref := mat.NewDense(1, total, nil)
	ref.Set(0, pOff+net.Ref, 1)

	bounds := make([]ports.VarBound, 0, total)
	for i, node := range net.Nodes {
		bounds = append(bounds, ports.VarBound{Index: pOff + i, Lower: node.MinPressureSq, Upper: node.MaxPressureSq})
	}
	for _, l := range net.ActivePipes {
		// Compressors fix the flow direction along their pipe.
		bounds = append(bounds, ports.VarBound{Index: fOff + l, Lower: 0, Upper: math.Inf(1)})
	}
	for a, l := range net.ActivePipes {
		pipe := net.Pipes[l]
		bounds = append(bounds, ports.VarBound{Index: kOff + a, Lower: pipe.MinCompression, Upper: pipe.MaxCompression})
	}
	for p, prod := range net.Producers {
		bounds = append(bounds, ports.VarBound{Index: iOff + p, Lower: prod.MinInjection, Upper: prod.MaxInjection})
	}

	weymouth := make([]ports.WeymouthEq, ne)
	activeAt := make(map[int]int, na)
	for a, l := range net.ActivePipes {
		activeAt[l] = a
	}
	for l, pipe := range net.Pipes {
		from, to := net.Endpoints(l)
		eq := ports.WeymouthEq{
			Flow:         fOff + l,
			PressureFrom: pOff + from,
			PressureTo:   pOff + to,
			Compression:  -1,
			Resistance:   pipe.Resistance,
		}
		if a, ok := activeAt[l]; ok {
			eq.Compression = kOff + a
			eq.Side = float64(pipe.CompressionSide)
		}
		weymouth[l] = eq
	}

	return &ports.FlowProgram{
		Vars: vars,
		Q:    q,
		C:    c,
		Blocks: []ports.EqualityBlock{
			{Name: "balance", A: bal, B: net.Demands()},
			{Name: "ref", A: ref, B: []float64{net.Nodes[net.Ref].GaugePressureSq}},
		},
		Bounds:   bounds,
		Weymouth: weymouth,
	}
}

// Solve runs the backend on the nominal program and unpacks the solution
// into an operating point. The raw FlowSolution is returned alongside so
// the linearizer can reuse the backend's Jacobian.
func (s *Solver) Solve(ctx context.Context, net *network.NetworkData) (*policy.OperatingPoint, *ports.FlowSolution, error) {
	prog := BuildProgram(net)
	s.log.Info("nominal solve: %d nodes, %d pipes (%d active), %d producers, %d variables",
		net.NumNodes(), net.NumPipes(), net.NumActive(), net.NumProducers(), prog.Vars.Len())

	sol, err := s.backend.SolveFlow(ctx, prog)
	if err != nil {
		return nil, nil, fmt.Errorf("nominal flow backend: %w", err)
	}
	if !sol.Status.Converged() {
		return nil, nil, core.StatusError("nominal flow", sol.Status.String())
	}

	op := &policy.OperatingPoint{
		PressureSq:  prog.Vars.Slice(GroupPressure, sol.X),
		Flow:        prog.Vars.Slice(GroupFlow, sol.X),
		Compression: ExpandCompression(net, prog.Vars.Slice(GroupCompression, sol.X)),
		Injection:   prog.Vars.Slice(GroupInjection, sol.X),
		Objective:   sol.Objective,
		Iterations:  sol.Iterations,
		Residual:    sol.Residual,
	}
	s.log.Info("nominal solve converged: objective %.4f, residual %.2e, %d rounds",
		op.Objective, op.Residual, op.Iterations)
	return op, sol, nil
}

// ExpandCompression spreads active-pipe compression values onto a
// per-pipe slice, zero at passive pipes.
func ExpandCompression(net *network.NetworkData, kappa []float64) []float64 {
	full := make([]float64, net.NumPipes())
	for a, l := range net.ActivePipes {
		full[l] = kappa[a]
	}
	return full
}
