// Package chance solves the chance-constrained dispatch: the linearized
// network model with an affine recourse policy, individual probabilistic
// limits after a Bonferroni budget split, dispersion penalties and
// expected-cost epigraphs, all as one second-order cone program.
package chance

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"gasplan/domain/core"
	"gasplan/domain/network"
	"gasplan/domain/policy"
	"gasplan/internal"
	"gasplan/internal/forecast"
	"gasplan/internal/nonconvex"
	"gasplan/ports"
)

// Solver runs the chance-constrained stage.
type Solver struct {
	conic ports.ConicSolver
	log   *internal.Logger
}

func New(conic ports.ConicSolver) *Solver {
	return &Solver{conic: conic, log: internal.DefaultLogger.Tagged("Chance")}
}

// Solve builds and solves the program, then unpacks the solution into a
// named policy with its dual bundle.
func (s *Solver) Solve(ctx context.Context, net *network.NetworkData, lin *policy.Linearization, model *forecast.Model, set policy.Settings) (*policy.Policy, error) {
	prog, asm, err := Build(net, lin, model, set)
	if err != nil {
		return nil, err
	}
	if asm.Deterministic() {
		s.log.Info("deterministic dispatch: %d variables, %d cones", prog.NumVars, len(prog.Cones))
	} else {
		s.log.Info("chance-constrained dispatch: %d variables, %d cones, safety factor %.4f over %d limits",
			prog.NumVars, len(prog.Cones), asm.Z, asm.Count)
	}

	sol, err := s.conic.SolveConic(ctx, prog)
	if err != nil {
		return nil, fmt.Errorf("chance backend: %w", err)
	}
	if !sol.Status.Converged() {
		return nil, core.StatusError("chance-constrained dispatch", sol.Status.String())
	}

	pol := s.extract(net, asm, sol)
	s.log.Info("dispatch solved: objective %.4f, gap %.2e, %d iterations",
		pol.Objective, pol.SolverGap, pol.SolverIterations)
	return pol, nil
}

// extract translates the flat solver solution into the named policy.
func (s *Solver) extract(net *network.NetworkData, asm *Assembly, sol *ports.ConicSolution) *policy.Policy {
	x := sol.X
	d := asm.Dim
	np := net.NumProducers()
	nn := net.NumNodes()
	ne := net.NumPipes()

	pol := &policy.Policy{
		Injection:    asm.Vars.Slice(nonconvex.GroupInjection, x),
		PressureSq:   asm.Vars.Slice(nonconvex.GroupPressure, x),
		Flow:         asm.Vars.Slice(nonconvex.GroupFlow, x),
		Compression:  nonconvex.ExpandCompression(net, asm.Vars.Slice(nonconvex.GroupCompression, x)),
		CostEpigraph: asm.Vars.Slice(GroupCost, x),
		SafetyFactor: asm.Z,
		ChanceCount:  asm.Count,
		Objective:    sol.Objective,
		Primal:       append([]float64(nil), x...),
	}
	pol.SolverIterations = sol.Iterations
	pol.SolverGap = sol.Gap
	pol.PressureSpread = asm.Vars.Slice(GroupPressureSpread, x)[0]
	pol.FlowSpread = asm.Vars.Slice(GroupFlowSpread, x)[0]

	// Recourse matrices in full node width: columns live on demand nodes,
	// rows on producers (alpha) and pipes (beta, zero at passive).
	if np > 0 {
		pol.Alpha = mat.NewDense(np, nn, nil)
		aOff, _, _ := asm.Vars.Range(GroupAlpha)
		for p := 0; p < np; p++ {
			for k := 0; k < d; k++ {
				pol.Alpha.Set(p, net.DemandNodes[k], x[aOff+p*d+k])
			}
		}
	}
	pol.Beta = mat.NewDense(ne, nn, nil)
	bOff, _, _ := asm.Vars.Range(GroupBeta)
	for a, l := range net.ActivePipes {
		for k := 0; k < d; k++ {
			pol.Beta.Set(l, net.DemandNodes[k], x[bOff+a*d+k])
		}
	}

	pol.Duals = extractDuals(net, sol)
	return pol
}

// extractDuals reshapes the solver's named dual groups into the typed
// bundle the economic analysis reads.
func extractDuals(net *network.NetworkData, sol *ports.ConicSolution) policy.DualBundle {
	db := policy.DualBundle{
		Balance:    cloneSlice(sol.EqDuals["balance"]),
		FlowLinear: cloneSlice(sol.EqDuals["flow_lin"]),
		Recourse:   cloneSlice(sol.EqDuals["recourse"]),
	}
	if ref := sol.EqDuals["ref"]; len(ref) == 1 {
		db.Reference = ref[0]
	}

	byName := make(map[string]ports.ConeDualParts, len(sol.ConeDuals))
	for _, cd := range sol.ConeDuals {
		byName[cd.Name] = cd
	}
	pick := func(name string) policy.ConeDual {
		cd := byName[name]
		return policy.ConeDual{Slack: cd.Slack, Vector: cloneSlice(cd.Vector)}
	}

	nn := net.NumNodes()
	db.PressureHi = make([]policy.ConeDual, nn)
	db.PressureLo = make([]policy.ConeDual, nn)
	for i := 0; i < nn; i++ {
		db.PressureHi[i] = pick(fmt.Sprintf("pressure_hi[%d]", i))
		db.PressureLo[i] = pick(fmt.Sprintf("pressure_lo[%d]", i))
	}

	na := net.NumActive()
	db.FlowLo = make([]policy.ConeDual, na)
	db.CompressionHi = make([]policy.ConeDual, na)
	db.CompressionLo = make([]policy.ConeDual, na)
	for a := 0; a < na; a++ {
		db.FlowLo[a] = pick(fmt.Sprintf("flow_sign[%d]", a))
		db.CompressionHi[a] = pick(fmt.Sprintf("compression_hi[%d]", a))
		db.CompressionLo[a] = pick(fmt.Sprintf("compression_lo[%d]", a))
	}

	np := net.NumProducers()
	db.InjectionHi = make([]policy.ConeDual, np)
	db.InjectionLo = make([]policy.ConeDual, np)
	db.Cost = make([]policy.ConeDual, np)
	for p := 0; p < np; p++ {
		db.InjectionHi[p] = pick(fmt.Sprintf("injection_hi[%d]", p))
		db.InjectionLo[p] = pick(fmt.Sprintf("injection_lo[%d]", p))
		db.Cost[p] = pick(fmt.Sprintf("cost[%d]", p))
	}

	db.PressureSpread = pick(GroupPressureSpread)
	db.FlowSpread = pick(GroupFlowSpread)
	return db
}
