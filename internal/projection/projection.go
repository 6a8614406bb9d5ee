// Package projection measures how far the affine recourse policy sits from
// a perfect re-dispatch. For a bounded subset of samples it projects the
// realized injection and compression onto the feasible set of the
// linearized network under the realized demand, and reports the distance
// statistics. Purely diagnostic; the policy itself is never touched.
package projection

import (
	"context"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"gasplan/domain/network"
	"gasplan/domain/policy"
	"gasplan/internal"
	"gasplan/internal/validate"
	"gasplan/ports"
)

// Variable group layout of the projection subproblem, matching the nominal
// program ordering.
const (
	groupPressure    = "pressure"
	groupFlow        = "flow"
	groupCompression = "compression"
	groupInjection   = "injection"
)

// Analyzer solves the per-sample projection subproblems.
type Analyzer struct {
	conic ports.ConicSolver
	log   *internal.Logger
}

func New(conic ports.ConicSolver) *Analyzer {
	return &Analyzer{conic: conic, log: internal.DefaultLogger.Tagged("Projection")}
}

// Analyze projects up to set.ProjectionCap realized dispatches onto the
// feasible linearized set and accumulates the per-sample distances. Samples
// whose subproblem fails or is infeasible are skipped and counted.
func (a *Analyzer) Analyze(ctx context.Context, net *network.NetworkData, lin *policy.Linearization, pol *policy.Policy, samples *mat.Dense, set policy.Settings) (*policy.ProjectionReport, error) {
	if pol == nil || pol.Alpha == nil || pol.Beta == nil {
		return nil, fmt.Errorf("projection: policy missing recourse matrices")
	}
	n, width := samples.Dims()
	if width != net.NumNodes() {
		return nil, fmt.Errorf("projection: sample width %d does not match %d nodes", width, net.NumNodes())
	}

	limit := set.ProjectionCap
	if limit > n {
		limit = n
	}
	report := &policy.ProjectionReport{Attempted: limit}
	if limit == 0 {
		return report, nil
	}

	base, vars := a.baseProgram(net, lin)
	xi := make([]float64, width)
	distances := make([]float64, 0, limit)
	for s := 0; s < limit; s++ {
		mat.Row(xi, s, samples)
		r := validate.Realize(net, lin, pol, xi)
		prog := a.instantiate(net, base, vars, xi, r)

		sol, err := a.conic.SolveConic(ctx, prog)
		if err != nil || !sol.Status.Converged() {
			report.Skipped++
			continue
		}
		// Squared distance is twice the optimal objective of the
		// half-squared-norm projection.
		d2 := 2 * sol.Objective
		if d2 < 0 {
			d2 = 0
		}
		distances = append(distances, math.Sqrt(d2))
	}
	report.Solved = len(distances)

	if len(distances) > 0 {
		report.MeanDistance, _ = stats.Mean(distances)
		report.MaxDistance, _ = stats.Max(distances)
		report.P95Distance, _ = stats.Percentile(distances, 95)
	}
	a.log.Info("projection: %d/%d subproblems solved, mean distance %.4f (max %.4f)",
		report.Solved, report.Attempted, report.MeanDistance, report.MaxDistance)
	return report, nil
}

// baseProgram assembles the sample-independent part of the projection QP:
// linearized flow physics, gauge pin, bound cones and the balance matrix.
// The balance right-hand side and the objective move per sample.
func (a *Analyzer) baseProgram(net *network.NetworkData, lin *policy.Linearization) (*ports.ConicProgram, *ports.VariableMap) {
	nn := net.NumNodes()
	ne := net.NumPipes()
	na := net.NumActive()
	np := net.NumProducers()

	vars := ports.NewVariableMap()
	pOff := vars.Add(groupPressure, nn)
	fOff := vars.Add(groupFlow, ne)
	kOff := vars.Add(groupCompression, na)
	iOff := vars.Add(groupInjection, np)
	total := vars.Len()

	bal := mat.NewDense(nn, total, nil)
	for p, node := range net.ProducerNodes {
		bal.Set(node, iOff+p, 1)
	}
	for ai, l := range net.ActivePipes {
		bal.Set(net.InjectionNode(l), kOff+ai, float64(net.Pipes[l].CompressionSide))
	}
	for l := range net.Pipes {
		from, to := net.Endpoints(l)
		bal.Set(from, fOff+l, bal.At(from, fOff+l)-1)
		bal.Set(to, fOff+l, bal.At(to, fOff+l)+1)
	}

	flowLin := mat.NewDense(ne, total, nil)
	intercepts := make([]float64, ne)
	for l := 0; l < ne; l++ {
		flowLin.Set(l, fOff+l, 1)
		for i := 0; i < nn; i++ {
			if c := lin.PressureCoeff.At(l, i); c != 0 {
				flowLin.Set(l, pOff+i, -c)
			}
		}
		for ai, pipe := range net.ActivePipes {
			if c := lin.CompressionCoeff.At(l, pipe); c != 0 {
				flowLin.Set(l, kOff+ai, -c)
			}
		}
		intercepts[l] = lin.Intercept[l]
	}

	ref := mat.NewDense(1, total, nil)
	ref.Set(0, pOff+net.Ref, 1)

	prog := &ports.ConicProgram{
		NumVars: total,
		Blocks: []ports.EqualityBlock{
			{Name: "balance", A: bal, B: net.Demands()},
			{Name: "flow_lin", A: flowLin, B: intercepts},
			{Name: "ref", A: ref, B: []float64{net.Nodes[net.Ref].GaugePressureSq}},
		},
	}

	unit := func(idx int, sign float64) []float64 {
		g := make([]float64, total)
		g[idx] = sign
		return g
	}
	for i, node := range net.Nodes {
		prog.Cones = append(prog.Cones,
			ports.Cone{Name: fmt.Sprintf("pressure_hi[%d]", i), Kind: ports.KindLimit,
				G: unit(pOff+i, -1), H: node.MaxPressureSq},
			ports.Cone{Name: fmt.Sprintf("pressure_lo[%d]", i), Kind: ports.KindLimit,
				G: unit(pOff+i, 1), H: -node.MinPressureSq})
	}
	for ai, l := range net.ActivePipes {
		pipe := net.Pipes[l]
		prog.Cones = append(prog.Cones,
			ports.Cone{Name: fmt.Sprintf("flow_sign[%d]", ai), Kind: ports.KindLimit,
				G: unit(fOff+l, 1), H: 0},
			ports.Cone{Name: fmt.Sprintf("compression_hi[%d]", ai), Kind: ports.KindLimit,
				G: unit(kOff+ai, -1), H: pipe.MaxCompression},
			ports.Cone{Name: fmt.Sprintf("compression_lo[%d]", ai), Kind: ports.KindLimit,
				G: unit(kOff+ai, 1), H: -pipe.MinCompression})
	}
	for p, prod := range net.Producers {
		prog.Cones = append(prog.Cones,
			ports.Cone{Name: fmt.Sprintf("injection_hi[%d]", p), Kind: ports.KindLimit,
				G: unit(iOff+p, -1), H: prod.MaxInjection},
			ports.Cone{Name: fmt.Sprintf("injection_lo[%d]", p), Kind: ports.KindLimit,
				G: unit(iOff+p, 1), H: -prod.MinInjection})
	}
	return prog, vars
}

// instantiate derives the per-sample program: realized demand on the
// balance block and a half-squared-distance objective anchored at the
// realization's injection and compression.
func (a *Analyzer) instantiate(net *network.NetworkData, base *ports.ConicProgram, vars *ports.VariableMap, xi []float64, r validate.Realization) *ports.ConicProgram {
	total := base.NumVars
	kOff, _, _ := vars.Range(groupCompression)
	iOff, _, _ := vars.Range(groupInjection)

	demand := net.Demands()
	for i := range demand {
		demand[i] += xi[i]
	}
	blocks := append([]ports.EqualityBlock(nil), base.Blocks...)
	blocks[0] = ports.EqualityBlock{Name: "balance", A: base.Blocks[0].A, B: demand}

	q := mat.NewSymDense(total, nil)
	c := make([]float64, total)
	offset := 0.0
	for p := range net.Producers {
		q.SetSym(iOff+p, iOff+p, 1)
		c[iOff+p] = -r.Injection[p]
		offset += 0.5 * r.Injection[p] * r.Injection[p]
	}
	for ai, l := range net.ActivePipes {
		q.SetSym(kOff+ai, kOff+ai, 1)
		c[kOff+ai] = -r.Compression[l]
		offset += 0.5 * r.Compression[l] * r.Compression[l]
	}

	return &ports.ConicProgram{
		NumVars: total,
		Q:       q,
		C:       c,
		Offset:  offset,
		Blocks:  blocks,
		Cones:   base.Cones,
	}
}
